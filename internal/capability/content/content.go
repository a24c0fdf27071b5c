// Package content implements the capability module that generates drafts
// with the LLM provider and moves scheduled drafts into the posting queue.
package content

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finchwork/finch/internal/capability"
	"github.com/finchwork/finch/internal/provider"
	"github.com/finchwork/finch/internal/store"
)

const systemPrompt = `You write short social media posts for a software engineering audience.
Plain text only, no hashtags, no emoji, under 280 characters.`

// Topic rotation for unattended generation. The current index is kept in
// settings so restarts do not reset the rotation.
var defaultTopics = []string{
	"a lesson learned debugging production",
	"an underrated standard library feature",
	"a small habit that improves code review",
	"a tool that quietly saves hours every week",
	"a misconception about distributed systems",
}

// Module generates and stages content.
type Module struct {
	store  *store.Store
	gen    provider.Generator
	logger *slog.Logger
}

// New creates the content module.
func New(st *store.Store, gen provider.Generator, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{store: st, gen: gen, logger: logger}
}

// Name implements capability.Module.
func (m *Module) Name() string { return "content" }

// Actions implements capability.Module.
func (m *Module) Actions() map[string]capability.ActionFunc {
	return map[string]capability.ActionFunc{
		"generateDraft": m.generateDraft,
		"postScheduled": m.postScheduled,
	}
}

// generateDraft asks the provider for one post on the next rotation topic
// and queues it for publishing.
func (m *Module) generateDraft(ctx context.Context) (any, error) {
	if m.gen == nil {
		return nil, fmt.Errorf("no provider configured")
	}

	topic, err := m.nextTopic(ctx)
	if err != nil {
		return nil, err
	}

	body, err := m.gen.Generate(ctx, systemPrompt, "Write one post about "+topic+".")
	if err != nil {
		return nil, fmt.Errorf("generate draft: %w", err)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("provider returned empty draft")
	}

	id, err := m.store.QueueDraft(ctx, topic, body)
	if err != nil {
		return nil, err
	}
	m.logger.Info("queued draft", "draft_id", id, "topic", topic, "chars", len(body))
	return fmt.Sprintf("queued draft %d (%s)", id, topic), nil
}

// postScheduled is the end-to-end scheduled posting step: make sure a
// draft exists, generating one if the queue is empty. The social module's
// publishQueued then picks it up on its own schedule, so the two halves of
// the pipeline stay independently circuit-broken.
func (m *Module) postScheduled(ctx context.Context) (any, error) {
	draft, err := m.store.NextQueuedDraft(ctx)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		return fmt.Sprintf("draft %d already queued", draft.ID), nil
	}
	return m.generateDraft(ctx)
}

func (m *Module) nextTopic(ctx context.Context) (string, error) {
	raw, err := m.store.GetSetting(ctx, "content.topic_index")
	if err != nil {
		return "", err
	}
	idx := 0
	if raw != "" {
		fmt.Sscanf(raw, "%d", &idx)
	}
	topic := defaultTopics[idx%len(defaultTopics)]
	if err := m.store.SetSetting(ctx, "content.topic_index", fmt.Sprintf("%d", (idx+1)%len(defaultTopics))); err != nil {
		return "", err
	}
	return topic, nil
}
