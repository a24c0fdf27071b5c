// Package approval provides the durable, TTL-bound approval queue that
// gates sensitive capability actions behind a human decision.
//
// Reads are not side-effect free: IsApproved and Get lazily transition a
// pending request past its TTL to expired before answering, so concurrent
// readers never disagree about whether a request is still open.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finchwork/finch/internal/store"
)

// ErrNotFound is returned when no approval request has the given id.
var ErrNotFound = errors.New("approval request not found")

// ErrExpired is returned when approving or rejecting a request whose TTL
// has already elapsed.
var ErrExpired = errors.New("request has expired")

// StatusError reports an approve/reject attempt on an already-resolved
// request, naming the existing terminal status.
type StatusError struct {
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request already %s", e.Status)
}

// Request is the caller-facing view of an approval request.
type Request struct {
	ID             string     `json:"id"`
	ActionType     string     `json:"action_type"`
	ActionData     string     `json:"action_data"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

// Ticket is the result of a Request call. When Required is false, the
// gate is globally disabled and the caller may treat the action as
// implicitly approved; no row was created.
type Ticket struct {
	ID       string
	Required bool
}

// Notifier receives best-effort callbacks on approval lifecycle changes.
// Implementations must not block.
type Notifier interface {
	ApprovalRequested(req *Request)
	ApprovalResolved(id, status, by string)
}

// Queue is the approval queue state machine over the durable store.
type Queue struct {
	store    *store.Store
	timeout  time.Duration
	enabled  bool
	notifier Notifier
	now      func() time.Time
}

// Options configures a Queue.
type Options struct {
	// Timeout is the TTL for pending requests.
	Timeout time.Duration
	// Enabled globally enables approval gating. When false, Request
	// returns Required=false and creates no row.
	Enabled bool
	// Notifier may be nil.
	Notifier Notifier
	// Now may be overridden in tests.
	Now func() time.Time
}

// NewQueue creates an approval queue backed by st.
func NewQueue(st *store.Store, opts Options) *Queue {
	if opts.Timeout <= 0 {
		opts.Timeout = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		store:    st,
		timeout:  opts.Timeout,
		enabled:  opts.Enabled,
		notifier: opts.Notifier,
		now:      opts.Now,
	}
}

// Enabled reports whether approval gating is globally on.
func (q *Queue) Enabled() bool { return q.enabled }

// Timeout returns the configured TTL for pending requests.
func (q *Queue) Timeout() time.Duration { return q.timeout }

// Request creates a pending approval request for a sensitive action.
// actionData is serialized to JSON and stored verbatim. When gating is
// globally disabled the call returns immediately with Required=false.
func (q *Queue) Request(ctx context.Context, actionType string, actionData any) (*Ticket, error) {
	if !q.enabled {
		return &Ticket{Required: false}, nil
	}

	payload, err := json.Marshal(actionData)
	if err != nil {
		return nil, fmt.Errorf("marshal action data: %w", err)
	}

	now := q.now()
	row := &store.ApprovalRow{
		ID:         uuid.NewString(),
		ActionType: actionType,
		ActionData: string(payload),
		Status:     store.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(q.timeout),
	}
	if err := q.store.InsertApproval(ctx, row); err != nil {
		return nil, err
	}

	if q.notifier != nil {
		q.notifier.ApprovalRequested(fromRow(row))
	}
	return &Ticket{ID: row.ID, Required: true}, nil
}

// Approve transitions a pending, non-expired request to approved. If the
// TTL has already elapsed the row is transitioned to expired instead and
// ErrExpired is returned. Approving an already-resolved request returns a
// StatusError naming the existing terminal status.
func (q *Queue) Approve(ctx context.Context, id, note, approverID string) error {
	return q.resolve(ctx, id, store.StatusApproved, note, approverID)
}

// Reject transitions a pending, non-expired request to rejected. The same
// lazy-expiry check as Approve applies, so rejecting an expired row fails
// with ErrExpired and leaves the row expired.
func (q *Queue) Reject(ctx context.Context, id, note, rejecterID string) error {
	return q.resolve(ctx, id, store.StatusRejected, note, rejecterID)
}

func (q *Queue) resolve(ctx context.Context, id, status, note, by string) error {
	now := q.now()
	won, err := q.store.ResolveApproval(ctx, id, status, by, note, now)
	if err != nil {
		return err
	}
	if won {
		if q.notifier != nil {
			q.notifier.ApprovalResolved(id, status, by)
		}
		return nil
	}

	// The conditional update lost: the row is missing, already resolved,
	// or past its TTL. Catch up the expiry first, then report why.
	if expired, err := q.store.ExpireApproval(ctx, id, now); err != nil {
		return err
	} else if expired {
		return ErrExpired
	}

	row, err := q.store.GetApproval(ctx, id)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}
	if row.Status == store.StatusExpired {
		return ErrExpired
	}
	return &StatusError{Status: row.Status}
}

// IsApproved reports whether the request has been approved. A pending
// request past its TTL is transitioned to expired as a side effect before
// answering.
func (q *Queue) IsApproved(ctx context.Context, id string) (bool, error) {
	row, err := q.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return row.Status == store.StatusApproved, nil
}

// Get returns one request by id, applying the lazy expiry transition.
func (q *Queue) Get(ctx context.Context, id string) (*Request, error) {
	now := q.now()
	// Expire-then-read keeps two concurrent readers consistent once the
	// TTL has passed.
	if _, err := q.store.ExpireApproval(ctx, id, now); err != nil {
		return nil, err
	}
	row, err := q.store.GetApproval(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return fromRow(row), nil
}

// Pending lists pending requests, newest first. Run CleanupExpired first
// for an accurate listing.
func (q *Queue) Pending(ctx context.Context) ([]Request, error) {
	rows, err := q.store.ListApprovals(ctx, store.StatusPending, 0)
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(rows))
	for i := range rows {
		out = append(out, *fromRow(&rows[i]))
	}
	return out, nil
}

// CleanupExpired sweeps all pending rows past their TTL to expired and
// returns the number of rows transitioned. Idempotent.
func (q *Queue) CleanupExpired(ctx context.Context) (int64, error) {
	return q.store.ExpireAllDue(ctx, q.now())
}

// DeleteOld hard-deletes terminal rows older than the retention window.
// Pending rows are never deleted regardless of age.
func (q *Queue) DeleteOld(ctx context.Context, retention time.Duration) (int64, error) {
	return q.store.DeleteResolvedBefore(ctx, q.now().Add(-retention))
}

func fromRow(r *store.ApprovalRow) *Request {
	return &Request{
		ID:             r.ID,
		ActionType:     r.ActionType,
		ActionData:     r.ActionData,
		Status:         r.Status,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
		ResolvedAt:     r.ResolvedAt,
		ResolvedBy:     r.ResolvedBy,
		ResolutionNote: r.ResolutionNote,
	}
}
