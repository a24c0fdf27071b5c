package orchestrator

import (
	"context"
	"time"
)

// Health is the full health report. Status is "ok" when every component
// is healthy, "degraded" otherwise.
type Health struct {
	Status     string                  `json:"status"`
	State      State                   `json:"state"`
	CheckedAt  time.Time               `json:"checked_at"`
	Components map[string]any          `json:"components"`
	Modules    map[string]ModuleHealth `json:"modules"`
}

// HealthCheck reports component health. It never returns an error: an
// unreachable component is reported as degraded inside the result, so
// monitoring keeps working exactly when things are broken.
func (o *Orchestrator) HealthCheck(ctx context.Context) *Health {
	h := &Health{
		Status:     "ok",
		State:      o.State(),
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]any),
	}
	if h.State != StateRunning {
		h.Status = "degraded"
		return h
	}

	if err := o.store.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Components["store"] = map[string]any{"ok": false, "error": err.Error()}
	} else if stats, err := o.store.GetStats(ctx); err != nil {
		h.Status = "degraded"
		h.Components["store"] = map[string]any{"ok": false, "error": err.Error()}
	} else {
		h.Components["store"] = map[string]any{
			"ok":                true,
			"pending_approvals": stats.PendingApprovals,
			"action_log_rows":   stats.ActionLogRows,
			"scheduled_tasks":   stats.ScheduledTasks,
			"queued_drafts":     stats.QueuedDrafts,
		}
	}

	browserOK := !o.cfg.Browser.Enabled || o.browser.Connected()
	if !browserOK {
		h.Status = "degraded"
	}
	h.Components["browser"] = map[string]any{
		"enabled":   o.cfg.Browser.Enabled,
		"connected": o.browser.Connected(),
	}

	h.Components["scheduler"] = map[string]any{
		"enabled": o.cfg.Scheduler.Enabled,
		"running": o.sched.Running(),
	}
	h.Components["safety"] = map[string]any{
		"approvals_enabled": o.approvals.Enabled(),
		"approval_timeout":  o.approvals.Timeout().String(),
		"dry_run":           o.guard.DryRun(),
		"actions_per_hour":  o.guard.ActionsPerHour(),
	}
	if o.gen != nil {
		h.Components["provider"] = map[string]any{"configured": true, "model": o.gen.Model()}
	} else {
		h.Components["provider"] = map[string]any{"configured": false}
	}

	h.Modules = o.failures.snapshot(o.registry.Modules())
	for _, mh := range h.Modules {
		if mh.Disabled {
			h.Status = "degraded"
		}
	}
	return h
}
