package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/finchwork/finch/internal/capability"
	"github.com/finchwork/finch/internal/store"
)

// Runner dispatches one (module, action) pair. The scheduler treats run
// errors as already accounted for by the runner; it only records the
// outcome on the definition and discards the result.
type Runner interface {
	RunTask(ctx context.Context, module, action string) (any, error)
}

// Options configures a Scheduler.
type Options struct {
	// Tick is the polling interval for due definitions.
	Tick time.Duration
	// Logger may be nil.
	Logger *slog.Logger
	// Now may be overridden in tests.
	Now func() time.Time
}

// Scheduler polls the store for due schedule definitions and dispatches
// them one at a time. Definitions live in the database, so edits via the
// CLI take effect without a restart.
type Scheduler struct {
	store  *store.Store
	runner Runner
	tick   time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler.
func New(st *store.Store, runner Runner, opts Options) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		store:  st,
		runner: runner,
		tick:   opts.Tick,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	s.logger.Info("scheduler started", "tick", s.tick)
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: every due definition is dispatched once
// and its next-run time recomputed. Dispatch errors are recorded on the
// definition, never returned; one failing task does not starve the rest.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	due, err := s.store.DueScheduledTasks(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: list due tasks", "error", err)
		return
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		s.fire(ctx, &due[i], now)
	}
}

func (s *Scheduler) fire(ctx context.Context, t *store.ScheduledTask, now time.Time) {
	status := "ok"
	switch _, err := s.runner.RunTask(ctx, t.Module, t.Action); {
	case errors.Is(err, capability.ErrModuleDisabled):
		status = "skipped"
	case err != nil:
		status = "error"
		s.logger.Warn("scheduled task failed", "module", t.Module, "action", t.Action, "error", err)
	}

	next, enabled := s.nextRun(t, now)
	if err := s.store.RecordScheduledRun(ctx, t.ID, status, now, next, enabled); err != nil {
		s.logger.Error("scheduler: record run", "task_id", t.ID, "error", err)
	}
}

// nextRun computes the follow-up firing time for a definition. One-shot
// definitions are disabled after their single firing. A cron expression
// takes precedence over the interval when both are set.
func (s *Scheduler) nextRun(t *store.ScheduledTask, now time.Time) (*time.Time, bool) {
	if t.OneShot {
		return nil, false
	}
	if t.CronExpr != "" {
		sched, err := Parse(t.CronExpr)
		if err != nil {
			s.logger.Warn("scheduler: bad cron expression, disabling task",
				"task_id", t.ID, "cron", t.CronExpr, "error", err)
			return nil, false
		}
		n := sched.Next(now)
		if n.IsZero() {
			return nil, false
		}
		return &n, true
	}
	if t.RunIntervalSecs > 0 {
		n := now.Add(time.Duration(t.RunIntervalSecs) * time.Second)
		return &n, true
	}
	// Neither cron nor interval: fire once, then disable.
	return nil, false
}
