package orchestrator

import "sync"

// ModuleHealth is the per-module circuit breaker view exposed by the
// health check.
type ModuleHealth struct {
	Failures int  `json:"failures"`
	Disabled bool `json:"disabled"`
}

// failureTracker is the per-module circuit breaker. The only stored state
// is the consecutive-failure count; disabled is always derived from it, so
// a racing success and failure can never leave the two contradicting each
// other. Success and operator enable both reset the count to zero.
type failureTracker struct {
	mu        sync.Mutex
	threshold int
	failures  map[string]int
}

func newFailureTracker(threshold int) *failureTracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &failureTracker{
		threshold: threshold,
		failures:  make(map[string]int),
	}
}

// isDisabled reports whether the module's breaker is open.
func (f *failureTracker) isDisabled(module string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[module] >= f.threshold
}

// recordSuccess resets the consecutive-failure count, closing the breaker
// if it was open.
func (f *failureTracker) recordSuccess(module string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[module] = 0
}

// recordFailure increments the count and returns it, plus whether this
// exact failure crossed the threshold (for the one-shot disabled event).
func (f *failureTracker) recordFailure(module string) (count int, tripped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[module]++
	count = f.failures[module]
	return count, count == f.threshold
}

// enable zeroes the count, closing the breaker.
func (f *failureTracker) enable(module string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[module] = 0
}

// snapshot returns the breaker state for the given modules.
func (f *failureTracker) snapshot(modules []string) map[string]ModuleHealth {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]ModuleHealth, len(modules))
	for _, m := range modules {
		c := f.failures[m]
		out[m] = ModuleHealth{Failures: c, Disabled: c >= f.threshold}
	}
	return out
}
