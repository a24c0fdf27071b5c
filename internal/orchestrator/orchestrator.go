// Package orchestrator owns the agent lifecycle: it wires the durable
// store, safety layer, browser transport, capability modules, and
// scheduler together, dispatches tasks through the per-module circuit
// breaker, and tears everything down on stop or signal.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/finchwork/finch/internal/approval"
	"github.com/finchwork/finch/internal/browser"
	"github.com/finchwork/finch/internal/bus"
	"github.com/finchwork/finch/internal/capability"
	"github.com/finchwork/finch/internal/capability/content"
	"github.com/finchwork/finch/internal/capability/explore"
	"github.com/finchwork/finch/internal/capability/social"
	"github.com/finchwork/finch/internal/config"
	"github.com/finchwork/finch/internal/events"
	"github.com/finchwork/finch/internal/notify"
	"github.com/finchwork/finch/internal/provider"
	"github.com/finchwork/finch/internal/safety"
	"github.com/finchwork/finch/internal/scheduler"
	"github.com/finchwork/finch/internal/store"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateRunning       State = "running"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
)

// Indirection for signal wiring so tests can intercept it.
var (
	signalNotify = signal.Notify
	signalStop   = signal.Stop
)

const maintenanceInterval = time.Hour

// Orchestrator coordinates the whole agent.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	initialized bool
	done        chan struct{}

	bus       *bus.Bus
	store     *store.Store
	approvals *approval.Queue
	guard     *safety.Guard
	browser   *browser.Transport
	registry  *capability.Registry
	sched     *scheduler.Scheduler
	mirror    *events.Mirror
	gen       provider.Generator
	failures  *failureTracker

	sigCh       chan os.Signal
	maintCancel context.CancelFunc
	maintDone   chan struct{}
}

// New creates an uninitialized orchestrator.
func New(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger,
		state:  StateUninitialized,
	}
}

// Init constructs the orchestrator's components: store, approval queue,
// safety guard, capability modules, and scheduler. It does not start any
// background activity; Start does that. Calling Init again once
// initialized is a no-op, and a failed Init unwinds whatever came up and
// leaves the orchestrator reinitializable.
func (o *Orchestrator) Init(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.initialized, o.state == StateInitializing:
		o.mu.Unlock()
		return nil
	case o.state == StateStopping:
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is stopping")
	}
	o.state = StateInitializing
	o.done = make(chan struct{})
	o.mu.Unlock()

	if err := o.init(); err != nil {
		o.unwind()
		o.mu.Lock()
		o.state = StateUninitialized
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	o.initialized = true
	o.mu.Unlock()
	o.logger.Info("orchestrator initialized", "modules", o.registry.Modules())
	return nil
}

// Start brings an initialized orchestrator to running: connect the
// browser, start the scheduler and maintenance sweeps, and only then
// install the signal handler, so a signal can never land before Stop is
// able to act on it. Calling Start while running is a no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	switch {
	case o.state == StateRunning:
		o.mu.Unlock()
		return nil
	case o.state == StateStopping:
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is stopping")
	case !o.initialized:
		o.mu.Unlock()
		return fmt.Errorf("orchestrator not initialized")
	}
	o.mu.Unlock()

	if o.cfg.Browser.Enabled {
		connectCtx, cancel := context.WithTimeout(ctx, o.cfg.Browser.ConnectTimeout)
		if err := o.browser.Connect(connectCtx); err != nil {
			o.logger.Warn("browser unavailable, social actions degraded", "error", err)
		}
		cancel()
	}

	if o.cfg.Scheduler.Enabled {
		if err := o.seedSchedules(ctx); err != nil {
			return err
		}
		o.sched.Start(ctx)
	}
	o.startMaintenance()

	o.mu.Lock()
	o.state = StateRunning
	o.mu.Unlock()
	o.installSignalHandler()

	o.bus.Emit(bus.Event{Type: bus.EventStarted})
	o.logger.Info("orchestrator running",
		"modules", o.registry.Modules(),
		"scheduler", o.cfg.Scheduler.Enabled,
		"dry_run", o.cfg.Safety.DryRun)
	return nil
}

func (o *Orchestrator) init() error {
	dataDir := o.cfg.Paths.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	o.bus = bus.New()
	o.bus.Subscribe(func(e bus.Event) {
		o.logger.Debug("event", "type", e.Type, "module", e.Module, "action", e.Action)
	})

	st, err := store.Open(filepath.Join(dataDir, "finch.db"))
	if err != nil {
		return err
	}
	o.store = st

	var notifier approval.Notifier
	if o.cfg.Notify.SlackWebhookURL != "" {
		notifier = notify.NewSlackNotifier(o.cfg.Notify.SlackWebhookURL, o.logger)
	}
	o.approvals = approval.NewQueue(st, approval.Options{
		Timeout:  time.Duration(o.cfg.Safety.ApprovalTimeoutHours) * time.Hour,
		Enabled:  o.cfg.Safety.RequireApproval,
		Notifier: notifier,
	})
	o.guard = safety.NewGuard(safety.Options{
		Approvals:      o.approvals,
		DryRun:         o.cfg.Safety.DryRun,
		ActionsPerHour: o.cfg.Safety.ActionsPerHour,
	})
	o.failures = newFailureTracker(o.cfg.Safety.MaxFailures)

	if o.cfg.Events.KafkaBrokers != "" {
		o.mirror = events.NewMirror(o.cfg.Events.KafkaBrokers, o.cfg.Events.Topic, o.logger)
		o.mirror.Attach(o.bus)
	}

	o.browser = browser.New(o.cfg.Browser.ControlURL, o.bus)

	if o.cfg.Provider.APIKey != "" {
		o.gen = provider.NewOpenAIClient(o.cfg.Provider.APIKey, o.cfg.Provider.APIBase, o.cfg.Provider.Model)
	}

	o.registry = capability.NewRegistry()
	modules := []capability.Module{
		social.New(st, o.guard, o.browser, o.logger),
		content.New(st, o.gen, o.logger),
		explore.New(st, o.gen, o.logger),
	}
	for _, m := range modules {
		if err := o.registry.Register(m); err != nil {
			return fmt.Errorf("register module: %w", err)
		}
	}

	o.sched = scheduler.New(st, o, scheduler.Options{
		Tick:   o.cfg.Scheduler.TickInterval,
		Logger: o.logger,
	})
	return nil
}

// seedSchedules upserts the built-in definitions. Operator edits to the
// enabled flag survive restarts because the upsert never touches it.
func (o *Orchestrator) seedSchedules(ctx context.Context) error {
	defs := []store.ScheduledTask{
		{Module: "content", Action: "generateDraft", CronExpr: "0 9 * * *", Enabled: true},
		{Module: "content", Action: "postScheduled", CronExpr: "30 9 * * *", Enabled: true},
		{Module: "social", Action: "publishQueued", RunIntervalSecs: 3600, Enabled: true},
		{Module: "social", Action: "checkNotifications", RunIntervalSecs: 1800, Enabled: true},
		{Module: "explore", Action: "runExperiment", CronExpr: "0 15 * * 1", Enabled: true},
	}
	for i := range defs {
		if err := o.store.UpsertScheduledTask(ctx, &defs[i]); err != nil {
			return fmt.Errorf("seed schedules: %w", err)
		}
	}
	return nil
}

// startMaintenance runs the periodic approval sweep: expire pending rows
// past their TTL, then delete terminal rows past retention.
func (o *Orchestrator) startMaintenance() {
	ctx, cancel := context.WithCancel(context.Background())
	o.maintCancel = cancel
	o.maintDone = make(chan struct{})
	retention := time.Duration(o.cfg.Safety.RetentionHours) * time.Hour

	go func() {
		defer close(o.maintDone)
		o.sweep(ctx, retention)
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.sweep(ctx, retention)
			}
		}
	}()
}

func (o *Orchestrator) sweep(ctx context.Context, retention time.Duration) {
	expired, err := o.approvals.CleanupExpired(ctx)
	if err != nil {
		o.logger.Warn("approval expiry sweep failed", "error", err)
	} else if expired > 0 {
		o.logger.Info("expired approval requests", "count", expired)
	}
	deleted, err := o.approvals.DeleteOld(ctx, retention)
	if err != nil {
		o.logger.Warn("approval retention sweep failed", "error", err)
	} else if deleted > 0 {
		o.logger.Info("deleted old approval requests", "count", deleted)
	}
}

func (o *Orchestrator) installSignalHandler() {
	o.sigCh = make(chan os.Signal, 1)
	signalNotify(o.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		// Keep draining so a second signal during shutdown is never lost
		// to a dead goroutine; Stop closes the channel and ends the loop.
		for sig := range o.sigCh {
			o.logger.Info("received signal, shutting down", "signal", sig.String())
			if err := o.Stop(); err != nil {
				o.logger.Error("shutdown error", "error", err)
			}
		}
	}()
}

// Stop tears the orchestrator down. Each teardown step is individually
// guarded so one failing component never blocks the rest. Stopping an
// orchestrator that was initialized but never started releases its
// resources too; Stop on anything else is a no-op.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.initialized {
		o.mu.Unlock()
		return nil
	}
	o.state = StateStopping
	o.initialized = false
	o.mu.Unlock()

	o.bus.Emit(bus.Event{Type: bus.EventStopping})
	o.logger.Info("orchestrator stopping")

	if o.sigCh != nil {
		signalStop(o.sigCh)
		close(o.sigCh)
	}
	o.unwind()

	o.mu.Lock()
	o.state = StateStopped
	done := o.done
	o.mu.Unlock()

	o.bus.Emit(bus.Event{Type: bus.EventStopped})
	o.logger.Info("orchestrator stopped")
	if done != nil {
		close(done)
	}
	return nil
}

// unwind tears down whatever init managed to bring up, in reverse order.
func (o *Orchestrator) unwind() {
	if o.sched != nil {
		o.sched.Stop()
	}
	if o.maintCancel != nil {
		o.maintCancel()
		<-o.maintDone
		o.maintCancel = nil
	}
	if o.browser != nil {
		if err := o.browser.Close(); err != nil {
			o.logger.Warn("browser close failed", "error", err)
		}
	}
	if o.mirror != nil {
		if err := o.mirror.Close(); err != nil {
			o.logger.Warn("event mirror close failed", "error", err)
		}
		o.mirror = nil
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil {
			o.logger.Warn("store close failed", "error", err)
		}
	}
}

// Done returns a channel closed when the orchestrator has fully stopped.
// Nil until Init has been called.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Bus returns the event bus. Nil before Init.
func (o *Orchestrator) Bus() *bus.Bus { return o.bus }

// Store returns the durable store. Nil before Init.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Approvals returns the approval queue. Nil before Init.
func (o *Orchestrator) Approvals() *approval.Queue { return o.approvals }

// Registry returns the capability registry. Nil before Init.
func (o *Orchestrator) Registry() *capability.Registry { return o.registry }

// Scheduler returns the scheduler. Nil before Init.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler { return o.sched }

// RegisterModule adds a capability module after Init, for callers that
// extend the built-in set.
func (o *Orchestrator) RegisterModule(m capability.Module) error {
	if o.registry == nil {
		return fmt.Errorf("orchestrator not initialized")
	}
	return o.registry.Register(m)
}

// RunTask dispatches one action through the circuit breaker and returns
// the action's result.
//
// A disabled module is skipped entirely: no action log entry, no counter
// change, and capability.ErrModuleDisabled comes back so the caller can
// tell a skip from a failure. Success resets the module's failure count;
// failure increments it and trips the breaker at the threshold.
func (o *Orchestrator) RunTask(ctx context.Context, module, action string) (any, error) {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator not running (state %s)", o.state)
	}
	o.mu.Unlock()

	if !o.registry.Has(module) {
		return nil, fmt.Errorf("unknown module %q", module)
	}
	if o.failures.isDisabled(module) {
		o.logger.Debug("module disabled, skipping task", "module", module, "action", action)
		return nil, fmt.Errorf("%s: %w", module, capability.ErrModuleDisabled)
	}

	fn, err := o.registry.Resolve(module, action)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		count, tripped := o.failures.recordFailure(module)
		if tripped {
			o.logger.Warn("module disabled after consecutive failures",
				"module", module, "failures", count)
			o.bus.Emit(bus.Event{Type: bus.EventModuleDisabled, Module: module,
				Fields: map[string]any{"failures": count}})
		}
		o.appendLog(ctx, module, action, false, "", err.Error(), duration)
		o.bus.Emit(bus.Event{Type: bus.EventTaskError, Module: module, Action: action,
			Fields: map[string]any{"error": err.Error(), "duration_ms": duration.Milliseconds()}})
		return nil, fmt.Errorf("%s.%s: %w", module, action, err)
	}

	o.failures.recordSuccess(module)
	summary := stringify(result)
	o.appendLog(ctx, module, action, true, summary, "", duration)
	o.bus.Emit(bus.Event{Type: bus.EventTaskComplete, Module: module, Action: action,
		Fields: map[string]any{"result": summary, "duration_ms": duration.Milliseconds()}})
	o.logger.Info("task complete", "module", module, "action", action, "duration", duration)
	return result, nil
}

// EnableModule closes a module's circuit breaker and resets its count.
func (o *Orchestrator) EnableModule(module string) error {
	if !o.registry.Has(module) {
		return fmt.Errorf("unknown module %q", module)
	}
	o.failures.enable(module)
	o.bus.Emit(bus.Event{Type: bus.EventModuleEnabled, Module: module})
	o.logger.Info("module enabled", "module", module)
	return nil
}

func (o *Orchestrator) appendLog(ctx context.Context, module, action string, success bool, result, errText string, d time.Duration) {
	entry := &store.ActionLogEntry{
		Module:     module,
		Action:     action,
		Success:    success,
		Result:     result,
		ErrorText:  errText,
		DurationMs: d.Milliseconds(),
	}
	if err := o.store.AppendActionLog(ctx, entry); err != nil {
		o.logger.Warn("action log append failed", "module", module, "action", action, "error", err)
	}
}

func stringify(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
