// Package explore implements the capability module for low-stakes
// experiments: prompt variations whose outcomes feed back into settings.
package explore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/finchwork/finch/internal/capability"
	"github.com/finchwork/finch/internal/provider"
	"github.com/finchwork/finch/internal/store"
)

// Experiments are deliberately cheap: one provider call, one settings
// write. Anything that touches the outside world belongs in social.
var experiments = []struct {
	name   string
	system string
	prompt string
}{
	{
		name:   "tone-shift",
		system: "You rewrite social posts in a drier, more understated tone.",
		prompt: "Rewrite: 'Just shipped a huge refactor and everything still works!'",
	},
	{
		name:   "hook-first",
		system: "You write opening lines that make an engineer stop scrolling.",
		prompt: "Write three opening lines about flaky tests.",
	},
	{
		name:   "thread-outline",
		system: "You outline short technical threads, one line per post.",
		prompt: "Outline a 4-post thread about profiling Go services.",
	},
}

type result struct {
	Experiment string    `json:"experiment"`
	Output     string    `json:"output"`
	RanAt      time.Time `json:"ran_at"`
}

// Module runs rotation experiments.
type Module struct {
	store  *store.Store
	gen    provider.Generator
	logger *slog.Logger
}

// New creates the explore module.
func New(st *store.Store, gen provider.Generator, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{store: st, gen: gen, logger: logger}
}

// Name implements capability.Module.
func (m *Module) Name() string { return "explore" }

// Actions implements capability.Module.
func (m *Module) Actions() map[string]capability.ActionFunc {
	return map[string]capability.ActionFunc{
		"runExperiment": m.runExperiment,
	}
}

// runExperiment runs the next experiment in the rotation and stores its
// output under settings for later review.
func (m *Module) runExperiment(ctx context.Context) (any, error) {
	if m.gen == nil {
		return nil, fmt.Errorf("no provider configured")
	}

	raw, err := m.store.GetSetting(ctx, "explore.index")
	if err != nil {
		return nil, err
	}
	idx := 0
	if raw != "" {
		fmt.Sscanf(raw, "%d", &idx)
	}
	exp := experiments[idx%len(experiments)]

	out, err := m.gen.Generate(ctx, exp.system, exp.prompt)
	if err != nil {
		return nil, fmt.Errorf("experiment %s: %w", exp.name, err)
	}

	payload, err := json.Marshal(result{Experiment: exp.name, Output: out, RanAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	if err := m.store.SetSetting(ctx, "explore.last."+exp.name, string(payload)); err != nil {
		return nil, err
	}
	if err := m.store.SetSetting(ctx, "explore.index", fmt.Sprintf("%d", (idx+1)%len(experiments))); err != nil {
		return nil, err
	}

	m.logger.Info("ran experiment", "experiment", exp.name, "output_chars", len(out))
	return fmt.Sprintf("ran experiment %s", exp.name), nil
}
