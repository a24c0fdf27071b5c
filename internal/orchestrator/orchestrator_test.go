package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/finchwork/finch/internal/bus"
	"github.com/finchwork/finch/internal/capability"
	"github.com/finchwork/finch/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Browser.Enabled = false
	cfg.Scheduler.Enabled = false
	cfg.Safety.RequireApproval = false
	cfg.Safety.ActionsPerHour = 0
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startOrchestrator(t *testing.T, cfg *config.Config) *Orchestrator {
	t.Helper()
	o := New(cfg, quietLogger())
	if err := o.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = o.Stop() })
	return o
}

// flaky is a test module whose single action fails while fail is set.
type flaky struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flaky) Name() string { return "flaky" }

func (f *flaky) Actions() map[string]capability.ActionFunc {
	return map[string]capability.ActionFunc{
		"work": func(ctx context.Context) (any, error) {
			f.calls.Add(1)
			if f.fail.Load() {
				return nil, fmt.Errorf("simulated failure")
			}
			return "done", nil
		},
	}
}

func TestLifecycle(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, quietLogger())
	ctx := context.Background()

	if o.State() != StateUninitialized {
		t.Fatalf("state = %s, want uninitialized", o.State())
	}
	if err := o.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if o.State() != StateInitializing {
		t.Fatalf("state after Init = %s, want initializing", o.State())
	}
	if err := o.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if o.State() != StateRunning {
		t.Fatalf("state after Start = %s, want running", o.State())
	}
	if err := o.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if o.State() != StateStopped {
		t.Fatalf("state = %s, want stopped", o.State())
	}
}

func TestStartRequiresInit(t *testing.T) {
	o := New(testConfig(t), quietLogger())
	if err := o.Start(context.Background()); err == nil {
		t.Error("Start without Init should fail")
	}
}

func TestStopIdempotent(t *testing.T) {
	cfg := testConfig(t)
	o := New(cfg, quietLogger())
	ctx := context.Background()

	// Stop before Init is a no-op.
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop uninitialized: %v", err)
	}

	if err := o.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	select {
	case <-o.Done():
	default:
		t.Error("Done should be closed after Stop")
	}
}

func TestStopReleasesInitializedButUnstarted(t *testing.T) {
	o := New(testConfig(t), quietLogger())
	if err := o.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if o.State() != StateStopped {
		t.Errorf("state = %s, want stopped", o.State())
	}
}

func TestRunTaskUnknownModule(t *testing.T) {
	o := startOrchestrator(t, testConfig(t))
	if _, err := o.RunTask(context.Background(), "nope", "work"); err == nil {
		t.Error("unknown module should fail")
	}
	if _, err := o.RunTask(context.Background(), "social", "nope"); err == nil {
		t.Error("unknown action should fail")
	}
}

func TestRunTaskNotRunning(t *testing.T) {
	o := New(testConfig(t), quietLogger())
	ctx := context.Background()
	if _, err := o.RunTask(ctx, "social", "publishQueued"); err == nil {
		t.Error("RunTask before Init should fail")
	}

	// Initialized but not started is still not dispatchable.
	if err := o.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = o.Stop() })
	if _, err := o.RunTask(ctx, "social", "publishQueued"); err == nil {
		t.Error("RunTask before Start should fail")
	}
}

func TestRunTaskReturnsResult(t *testing.T) {
	o := startOrchestrator(t, testConfig(t))

	res, err := o.RunTask(context.Background(), "social", "publishQueued")
	if err != nil {
		t.Fatalf("RunTask: %v", err)
	}
	if res != "no queued drafts" {
		t.Errorf("result = %v, want the action's return value", res)
	}
}

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	cfg := testConfig(t)
	cfg.Safety.MaxFailures = 3
	o := startOrchestrator(t, cfg)
	ctx := context.Background()

	mod := &flaky{}
	mod.fail.Store(true)
	if err := o.RegisterModule(mod); err != nil {
		t.Fatalf("RegisterModule: %v", err)
	}

	var disabled atomic.Bool
	o.Bus().Subscribe(func(e bus.Event) {
		if e.Type == bus.EventModuleDisabled && e.Module == "flaky" {
			disabled.Store(true)
		}
	})

	for i := 0; i < 3; i++ {
		if _, err := o.RunTask(ctx, "flaky", "work"); err == nil {
			t.Fatalf("run %d should fail", i+1)
		}
	}
	if !disabled.Load() {
		t.Fatal("module:disabled should fire at the threshold")
	}

	logged, err := o.Store().ListActionLog(ctx, 50)
	if err != nil {
		t.Fatalf("ListActionLog: %v", err)
	}
	if len(logged) != 3 {
		t.Fatalf("action log = %d entries, want 3", len(logged))
	}

	// The open breaker skips: no call, no log entry, distinctive error.
	_, err = o.RunTask(ctx, "flaky", "work")
	if !errors.Is(err, capability.ErrModuleDisabled) {
		t.Fatalf("skip error = %v, want ErrModuleDisabled", err)
	}
	if got := mod.calls.Load(); got != 3 {
		t.Errorf("action ran %d times, want 3", got)
	}
	logged, _ = o.Store().ListActionLog(ctx, 50)
	if len(logged) != 3 {
		t.Errorf("skip must not append to the action log, got %d entries", len(logged))
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cfg := testConfig(t)
	cfg.Safety.MaxFailures = 3
	o := startOrchestrator(t, cfg)
	ctx := context.Background()

	mod := &flaky{}
	if err := o.RegisterModule(mod); err != nil {
		t.Fatalf("RegisterModule: %v", err)
	}

	mod.fail.Store(true)
	_, _ = o.RunTask(ctx, "flaky", "work")
	_, _ = o.RunTask(ctx, "flaky", "work")

	mod.fail.Store(false)
	if _, err := o.RunTask(ctx, "flaky", "work"); err != nil {
		t.Fatalf("success run: %v", err)
	}

	// Two more failures stay under the threshold after the reset.
	mod.fail.Store(true)
	_, _ = o.RunTask(ctx, "flaky", "work")
	_, _ = o.RunTask(ctx, "flaky", "work")

	mod.fail.Store(false)
	if _, err := o.RunTask(ctx, "flaky", "work"); errors.Is(err, capability.ErrModuleDisabled) {
		t.Fatal("breaker tripped despite intervening success")
	}
}

func TestEnableModuleClosesBreaker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Safety.MaxFailures = 2
	o := startOrchestrator(t, cfg)
	ctx := context.Background()

	mod := &flaky{}
	mod.fail.Store(true)
	if err := o.RegisterModule(mod); err != nil {
		t.Fatalf("RegisterModule: %v", err)
	}

	_, _ = o.RunTask(ctx, "flaky", "work")
	_, _ = o.RunTask(ctx, "flaky", "work")
	if _, err := o.RunTask(ctx, "flaky", "work"); !errors.Is(err, capability.ErrModuleDisabled) {
		t.Fatalf("breaker should be open, got %v", err)
	}

	if err := o.EnableModule("flaky"); err != nil {
		t.Fatalf("EnableModule: %v", err)
	}
	mod.fail.Store(false)
	if _, err := o.RunTask(ctx, "flaky", "work"); err != nil {
		t.Fatalf("run after enable: %v", err)
	}

	if err := o.EnableModule("nope"); err == nil {
		t.Error("EnableModule unknown should fail")
	}
}

func TestTaskEventsOnSuccess(t *testing.T) {
	o := startOrchestrator(t, testConfig(t))
	ctx := context.Background()

	var types []string
	o.Bus().Subscribe(func(e bus.Event) { types = append(types, e.Type) })

	// publishQueued with no drafts succeeds.
	if _, err := o.RunTask(ctx, "social", "publishQueued"); err != nil {
		t.Fatalf("RunTask: %v", err)
	}

	found := false
	for _, ty := range types {
		if ty == bus.EventTaskComplete {
			found = true
		}
	}
	if !found {
		t.Errorf("task:complete not emitted, got %v", types)
	}

	logged, _ := o.Store().ListActionLog(ctx, 10)
	if len(logged) != 1 || !logged[0].Success {
		t.Fatalf("action log = %+v", logged)
	}
	if logged[0].Result != "no queued drafts" {
		t.Errorf("result = %q", logged[0].Result)
	}
}

func TestSignalHandlerInstalledAfterRunning(t *testing.T) {
	var sigCh chan<- os.Signal
	origNotify, origStop := signalNotify, signalStop
	signalNotify = func(c chan<- os.Signal, sig ...os.Signal) { sigCh = c }
	signalStop = func(c chan<- os.Signal) {}
	t.Cleanup(func() { signalNotify, signalStop = origNotify, origStop })

	o := New(testConfig(t), quietLogger())
	ctx := context.Background()
	if err := o.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if sigCh != nil {
		t.Fatal("signal handler must not be installed before Start")
	}
	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = o.Stop() })
	if sigCh == nil {
		t.Fatal("signal handler should be installed by Start")
	}

	sigCh <- syscall.SIGTERM
	select {
	case <-o.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("signal did not stop the orchestrator")
	}
	if o.State() != StateStopped {
		t.Errorf("state = %s, want stopped", o.State())
	}
}

func TestHealthCheckNeverFails(t *testing.T) {
	o := startOrchestrator(t, testConfig(t))
	ctx := context.Background()

	h := o.HealthCheck(ctx)
	if h.Status != "ok" {
		t.Errorf("status = %q, want ok (components %v)", h.Status, h.Components)
	}
	if len(h.Modules) != 3 {
		t.Errorf("modules = %d, want 3", len(h.Modules))
	}

	// Yank the store out from under it: degraded, not a panic or error.
	_ = o.Store().Close()
	h = o.HealthCheck(ctx)
	if h.Status != "degraded" {
		t.Errorf("status with closed store = %q, want degraded", h.Status)
	}
}

func TestHealthCheckBeforeInit(t *testing.T) {
	o := New(testConfig(t), quietLogger())
	h := o.HealthCheck(context.Background())
	if h.Status != "degraded" || h.State != StateUninitialized {
		t.Errorf("health = %+v", h)
	}
}

func TestHealthReportsDisabledModule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Safety.MaxFailures = 1
	o := startOrchestrator(t, cfg)
	ctx := context.Background()

	mod := &flaky{}
	mod.fail.Store(true)
	_ = o.RegisterModule(mod)
	_, _ = o.RunTask(ctx, "flaky", "work")

	h := o.HealthCheck(ctx)
	if h.Status != "degraded" {
		t.Errorf("status = %q, want degraded", h.Status)
	}
	if mh := h.Modules["flaky"]; !mh.Disabled || mh.Failures != 1 {
		t.Errorf("flaky health = %+v", mh)
	}
}

func TestMaintenanceSweepsOnStart(t *testing.T) {
	cfg := testConfig(t)
	o := startOrchestrator(t, cfg)
	ctx := context.Background()

	// The start-time sweep already ran; a manual sweep on a clean db is a
	// no-op, proving idempotence end to end.
	n, err := o.Approvals().CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 0 {
		t.Errorf("sweep on clean db = %d, want 0", n)
	}
}

func TestStopTimelyWithScheduler(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.TickInterval = 50 * time.Millisecond
	o := startOrchestrator(t, cfg)

	done := make(chan struct{})
	go func() {
		_ = o.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not complete")
	}
}
