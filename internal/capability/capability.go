// Package capability defines the plug-in surface for agent modules and the
// registry the orchestrator dispatches through. Dispatch is typed: a task
// names a module and an action, and resolution fails loudly at registration
// or lookup rather than at invocation.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrModuleDisabled is returned by dispatchers when a module's circuit
// breaker is open. Callers treat it as a skip, not a failure.
var ErrModuleDisabled = errors.New("module disabled")

// ActionFunc is one invokable action exposed by a module. The result is
// recorded in the action log; errors propagate to the caller after the
// orchestrator accounts for them.
type ActionFunc func(ctx context.Context) (any, error)

// Module is a pluggable capability. Actions returns the action table once;
// the registry snapshots it at registration time.
type Module interface {
	Name() string
	Actions() map[string]ActionFunc
}

// Registry holds registered modules and resolves (module, action) pairs.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]ActionFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]map[string]ActionFunc)}
}

// Register adds a module. It rejects duplicate module names, empty action
// tables, and nil action funcs so that misconfiguration surfaces at startup.
func (r *Registry) Register(m Module) error {
	name := m.Name()
	if name == "" {
		return fmt.Errorf("module has empty name")
	}
	actions := m.Actions()
	if len(actions) == 0 {
		return fmt.Errorf("module %q exposes no actions", name)
	}
	for action, fn := range actions {
		if action == "" {
			return fmt.Errorf("module %q has an action with empty name", name)
		}
		if fn == nil {
			return fmt.Errorf("module %q action %q is nil", name, action)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[name]; exists {
		return fmt.Errorf("module %q already registered", name)
	}
	snapshot := make(map[string]ActionFunc, len(actions))
	for action, fn := range actions {
		snapshot[action] = fn
	}
	r.modules[name] = snapshot
	return nil
}

// Resolve looks up an action. Unknown module and unknown action are
// distinct errors so callers can report which half of the pair is wrong.
func (r *Registry) Resolve(module, action string) (ActionFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions, ok := r.modules[module]
	if !ok {
		return nil, fmt.Errorf("unknown module %q", module)
	}
	fn, ok := actions[action]
	if !ok {
		return nil, fmt.Errorf("module %q has no action %q", module, action)
	}
	return fn, nil
}

// Has reports whether a module is registered.
func (r *Registry) Has(module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[module]
	return ok
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActionNames returns the action names of a module, sorted. Nil when the
// module is unknown.
func (r *Registry) ActionNames(module string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions, ok := r.modules[module]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
