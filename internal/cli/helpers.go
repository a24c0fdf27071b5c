package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/finchwork/finch/internal/approval"
	"github.com/finchwork/finch/internal/config"
	"github.com/finchwork/finch/internal/store"
)

// openStore opens the daemon's database for direct CLI access. The WAL
// journal and busy timeout make concurrent access with a running daemon
// safe.
func openStore() (*config.Config, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.Paths.DataDir, "finch.db"))
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

// openApprovals opens the approval queue over the daemon's database.
// Gating is forced on here: the CLI always operates on real rows.
func openApprovals() (*store.Store, *approval.Queue, error) {
	cfg, st, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	q := approval.NewQueue(st, approval.Options{
		Timeout: time.Duration(cfg.Safety.ApprovalTimeoutHours) * time.Hour,
		Enabled: true,
	})
	return st, q, nil
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func formatUntil(t time.Time) string {
	d := time.Until(t)
	if d <= 0 {
		return "expired"
	}
	if d < time.Hour {
		return fmt.Sprintf("in %dm", int(d.Minutes()))
	}
	return fmt.Sprintf("in %dh", int(d.Hours()))
}
