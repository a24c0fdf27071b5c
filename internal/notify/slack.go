// Package notify delivers operator notifications for approval lifecycle
// events over a Slack incoming webhook. Delivery is best-effort: a failed
// webhook never blocks or fails the action that triggered it.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/finchwork/finch/internal/approval"
)

// SlackNotifier implements approval.Notifier over an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	logger     *slog.Logger
	timeout    time.Duration
}

// NewSlackNotifier creates a notifier posting to the given webhook URL.
func NewSlackNotifier(webhookURL string, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		logger:     logger,
		timeout:    10 * time.Second,
	}
}

// ApprovalRequested posts a message describing the pending request and how
// to resolve it.
func (n *SlackNotifier) ApprovalRequested(req *approval.Request) {
	text := fmt.Sprintf(
		":raised_hand: Approval needed for *%s*\nRequest `%s`, expires %s\n```finch approvals approve %s```",
		req.ActionType,
		req.ID,
		req.ExpiresAt.Format(time.RFC3339),
		req.ID,
	)
	n.post(text)
}

// ApprovalResolved posts the terminal outcome of a request.
func (n *SlackNotifier) ApprovalResolved(id, status, by string) {
	emoji := ":white_check_mark:"
	if status != "approved" {
		emoji = ":x:"
	}
	text := fmt.Sprintf("%s Request `%s` %s", emoji, id, status)
	if by != "" {
		text += " by " + by
	}
	n.post(text)
}

func (n *SlackNotifier) post(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		err := slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{Text: text})
		if err != nil {
			n.logger.Warn("slack notification failed", "error", err)
		}
	}()
}
