// Package social implements the capability module that publishes queued
// drafts and checks notifications through the browser session.
package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finchwork/finch/internal/approval"
	"github.com/finchwork/finch/internal/browser"
	"github.com/finchwork/finch/internal/capability"
	"github.com/finchwork/finch/internal/safety"
	"github.com/finchwork/finch/internal/store"
)

const composeURL = "https://x.com/compose/post"
const notificationsURL = "https://x.com/notifications"

// Module drives the logged-in social session. Publishing is gated by the
// safety guard: rate limit first, then human approval.
type Module struct {
	store   *store.Store
	guard   *safety.Guard
	browser *browser.Transport
	logger  *slog.Logger
}

// New creates the social module.
func New(st *store.Store, guard *safety.Guard, bt *browser.Transport, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	return &Module{store: st, guard: guard, browser: bt, logger: logger}
}

// Name implements capability.Module.
func (m *Module) Name() string { return "social" }

// Actions implements capability.Module.
func (m *Module) Actions() map[string]capability.ActionFunc {
	return map[string]capability.ActionFunc{
		"publishQueued":      m.publishQueued,
		"checkNotifications": m.checkNotifications,
	}
}

// publishQueued takes the oldest queued draft through the safety gates and
// posts it. A draft whose approval is still pending stays queued; the next
// firing picks it up again.
func (m *Module) publishQueued(ctx context.Context) (any, error) {
	draft, err := m.store.NextQueuedDraft(ctx)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return "no queued drafts", nil
	}

	if !m.guard.Allow("social.publish") {
		return fmt.Sprintf("rate limited, draft %d stays queued", draft.ID), nil
	}

	if q := m.guard.Approvals(); q != nil && q.Enabled() {
		proceed, msg, err := m.checkApproval(ctx, q, draft)
		if err != nil {
			return nil, err
		}
		if !proceed {
			return msg, nil
		}
	}

	if m.guard.DryRun() {
		m.logger.Info("dry-run: would publish draft", "draft_id", draft.ID, "topic", draft.Topic)
		if err := m.store.MarkDraftPosted(ctx, draft.ID, time.Now()); err != nil {
			return nil, err
		}
		m.clearApproval(ctx, draft.ID)
		return fmt.Sprintf("dry-run: draft %d marked posted", draft.ID), nil
	}

	if !m.browser.Connected() {
		return nil, fmt.Errorf("browser not connected, cannot publish draft %d", draft.ID)
	}
	if err := m.post(ctx, draft.Body); err != nil {
		return nil, fmt.Errorf("publish draft %d: %w", draft.ID, err)
	}
	if err := m.store.MarkDraftPosted(ctx, draft.ID, time.Now()); err != nil {
		return nil, err
	}
	m.clearApproval(ctx, draft.ID)
	m.logger.Info("published draft", "draft_id", draft.ID, "topic", draft.Topic)
	return fmt.Sprintf("published draft %d", draft.ID), nil
}

// checkApproval resolves the approval state for a draft, creating the
// request on first sight. The ticket id is persisted in settings so the
// same draft never spawns two requests.
func (m *Module) checkApproval(ctx context.Context, q *approval.Queue, draft *store.Draft) (proceed bool, msg string, err error) {
	key := fmt.Sprintf("draft.%d.approval", draft.ID)
	ticketID, err := m.store.GetSetting(ctx, key)
	if err != nil {
		return false, "", err
	}

	if ticketID == "" {
		ticket, err := q.Request(ctx, "social.publish", map[string]any{
			"draft_id": draft.ID,
			"topic":    draft.Topic,
			"preview":  preview(draft.Body, 140),
		})
		if err != nil {
			return false, "", err
		}
		if !ticket.Required {
			return true, "", nil
		}
		if err := m.store.SetSetting(ctx, key, ticket.ID); err != nil {
			return false, "", err
		}
		return false, fmt.Sprintf("draft %d awaiting approval %s", draft.ID, ticket.ID), nil
	}

	req, err := q.Get(ctx, ticketID)
	if errors.Is(err, approval.ErrNotFound) {
		// The request aged out of retention before a decision arrived.
		// Drop the stale ticket reference and re-request on the next run.
		if err := m.store.SetSetting(ctx, key, ""); err != nil {
			return false, "", err
		}
		return false, fmt.Sprintf("draft %d approval %s gone, will re-request", draft.ID, ticketID), nil
	}
	if err != nil {
		return false, "", err
	}

	switch req.Status {
	case store.StatusApproved:
		return true, "", nil
	case store.StatusPending:
		return false, fmt.Sprintf("draft %d still awaiting approval %s", draft.ID, ticketID), nil
	default:
		// Rejected or expired: the draft will never be published.
		if err := m.store.DiscardDraft(ctx, draft.ID); err != nil {
			return false, "", err
		}
		m.clearApproval(ctx, draft.ID)
		m.logger.Info("discarded draft", "draft_id", draft.ID, "approval_status", req.Status)
		return false, fmt.Sprintf("draft %d discarded, approval %s", draft.ID, req.Status), nil
	}
}

// clearApproval drops the draft's ticket reference once the draft is
// terminal, so the settings table does not accumulate dead keys.
func (m *Module) clearApproval(ctx context.Context, draftID int64) {
	key := fmt.Sprintf("draft.%d.approval", draftID)
	if err := m.store.DeleteSetting(ctx, key); err != nil {
		m.logger.Warn("clear approval ticket failed", "draft_id", draftID, "error", err)
	}
}

// post drives the compose flow in the browser.
func (m *Module) post(ctx context.Context, body string) error {
	page, err := m.browser.Page(composeURL)
	if err != nil {
		return err
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(30 * time.Second)
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for compose page: %w", err)
	}
	editor, err := page.Element(`[data-testid="tweetTextarea_0"]`)
	if err != nil {
		return fmt.Errorf("find composer: %w", err)
	}
	if err := editor.Input(body); err != nil {
		return fmt.Errorf("type body: %w", err)
	}
	button, err := page.Element(`[data-testid="tweetButton"]`)
	if err != nil {
		return fmt.Errorf("find post button: %w", err)
	}
	if err := button.Click("left", 1); err != nil {
		return fmt.Errorf("click post: %w", err)
	}
	return nil
}

// checkNotifications is a read-only pass over the notifications page. It
// needs no approval and no rate-limit token.
func (m *Module) checkNotifications(ctx context.Context) (any, error) {
	if m.guard.DryRun() {
		return "dry-run: would check notifications", nil
	}
	if !m.browser.Connected() {
		return nil, fmt.Errorf("browser not connected")
	}

	page, err := m.browser.Page(notificationsURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(30 * time.Second)
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for notifications page: %w", err)
	}
	cells, err := page.Elements(`[data-testid="cellInnerDiv"]`)
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}
	m.logger.Info("checked notifications", "visible", len(cells))
	return fmt.Sprintf("%d notifications visible", len(cells)), nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
