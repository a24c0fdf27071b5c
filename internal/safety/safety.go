// Package safety composes the three independent safety policies that gate
// side-effecting capability actions: rate limiting, dry-run simulation,
// and the human approval queue.
package safety

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/finchwork/finch/internal/approval"
)

// Guard is the safety-layer handle injected into capability modules.
type Guard struct {
	approvals *approval.Queue
	dryRun    bool

	perHour  int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Options configures a Guard.
type Options struct {
	// Approvals may be nil when approval gating is unavailable entirely;
	// modules then treat sensitive actions as ungated.
	Approvals *approval.Queue
	// DryRun makes modules simulate side effects instead of performing them.
	DryRun bool
	// ActionsPerHour caps side-effecting actions per action type.
	// Zero or negative disables rate limiting.
	ActionsPerHour int
}

// NewGuard creates a safety guard.
func NewGuard(opts Options) *Guard {
	return &Guard{
		approvals: opts.Approvals,
		dryRun:    opts.DryRun,
		perHour:   opts.ActionsPerHour,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Approvals returns the approval queue handle, which may be nil.
func (g *Guard) Approvals() *approval.Queue { return g.approvals }

// DryRun reports whether side effects should be simulated.
func (g *Guard) DryRun() bool { return g.dryRun }

// RateLimited reports whether rate limiting is configured.
func (g *Guard) RateLimited() bool { return g.perHour > 0 }

// ActionsPerHour returns the configured per-action-type hourly cap.
func (g *Guard) ActionsPerHour() int { return g.perHour }

// Allow consumes one rate-limit token for the given action type. It never
// blocks; a false return means the caller should back off until the next
// token accrues.
func (g *Guard) Allow(actionType string) bool {
	if g.perHour <= 0 {
		return true
	}
	g.mu.Lock()
	lim, ok := g.limiters[actionType]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Hour/time.Duration(g.perHour)), g.perHour)
		g.limiters[actionType] = lim
	}
	g.mu.Unlock()
	return lim.Allow()
}
