package approval

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/finchwork/finch/internal/store"
)

// fakeClock lets tests move time past the TTL without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *fakeClock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	clock := newFakeClock()
	q := NewQueue(st, Options{
		Timeout: 24 * time.Hour,
		Enabled: true,
		Now:     clock.Now,
	})
	return q, clock
}

func request(t *testing.T, q *Queue) string {
	t.Helper()
	ticket, err := q.Request(context.Background(), "social.publish", map[string]any{"draft_id": 1})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !ticket.Required {
		t.Fatal("expected approval to be required")
	}
	return ticket.ID
}

func TestRequestAndApprove(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id := request(t, q)

	ok, err := q.IsApproved(ctx, id)
	if err != nil {
		t.Fatalf("IsApproved: %v", err)
	}
	if ok {
		t.Error("fresh request should not be approved")
	}

	if err := q.Approve(ctx, id, "looks good", "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	ok, _ = q.IsApproved(ctx, id)
	if !ok {
		t.Error("approved request should report approved")
	}

	req, _ := q.Get(ctx, id)
	if req.ResolvedBy != "alice" || req.ResolutionNote != "looks good" {
		t.Errorf("resolution fields: by=%q note=%q", req.ResolvedBy, req.ResolutionNote)
	}
}

func TestApproveTwiceReportsStatus(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id := request(t, q)

	if err := q.Approve(ctx, id, "", "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	err := q.Approve(ctx, id, "", "bob")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("second approve error = %v, want StatusError", err)
	}
	if statusErr.Status != store.StatusApproved {
		t.Errorf("status = %q, want approved", statusErr.Status)
	}
	if got, want := err.Error(), "request already approved"; got != want {
		t.Errorf("error text = %q, want %q", got, want)
	}
}

func TestRejectThenApprove(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id := request(t, q)

	if err := q.Reject(ctx, id, "not now", "alice"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	err := q.Approve(ctx, id, "", "bob")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != store.StatusRejected {
		t.Fatalf("approve after reject = %v, want StatusError(rejected)", err)
	}
}

func TestApproveAfterTTL(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	id := request(t, q)

	clock.Advance(25 * time.Hour)

	if err := q.Approve(ctx, id, "", "alice"); !errors.Is(err, ErrExpired) {
		t.Fatalf("approve past TTL = %v, want ErrExpired", err)
	}

	// The failed approve transitioned the row; the terminal state sticks.
	req, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if req.Status != store.StatusExpired {
		t.Errorf("status = %q, want expired", req.Status)
	}
}

func TestIsApprovedLazyExpiry(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()
	id := request(t, q)

	clock.Advance(25 * time.Hour)

	ok, err := q.IsApproved(ctx, id)
	if err != nil {
		t.Fatalf("IsApproved: %v", err)
	}
	if ok {
		t.Error("expired request must not be approved")
	}

	// The read moved the row to expired.
	req, _ := q.Get(ctx, id)
	if req.Status != store.StatusExpired {
		t.Errorf("status after read = %q, want expired", req.Status)
	}
}

func TestUnknownRequest(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
	if err := q.Approve(ctx, "nope", "", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve unknown = %v, want ErrNotFound", err)
	}
}

func TestCleanupExpiredIdempotent(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	request(t, q)
	request(t, q)
	clock.Advance(25 * time.Hour)
	fresh := request(t, q)

	n, err := q.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired: %v", err)
	}
	if n != 2 {
		t.Errorf("first sweep = %d, want 2", n)
	}

	n, _ = q.CleanupExpired(ctx)
	if n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}

	pending, _ := q.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != fresh {
		t.Errorf("pending = %+v, want only the fresh request", pending)
	}
}

func TestDeleteOldNeverTouchesPending(t *testing.T) {
	q, clock := newTestQueue(t)
	ctx := context.Background()

	resolved := request(t, q)
	if err := q.Approve(ctx, resolved, "", "alice"); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	// Old but still pending only happens with a TTL longer than retention.
	longQ := NewQueue(qStore(q), Options{Timeout: 400 * time.Hour, Enabled: true, Now: clock.Now})
	pending := request(t, longQ)

	clock.Advance(200 * time.Hour)

	n, err := q.DeleteOld(ctx, 168*time.Hour)
	if err != nil {
		t.Fatalf("DeleteOld: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	if _, err := longQ.Get(ctx, pending); err != nil {
		t.Errorf("pending request should survive retention: %v", err)
	}
	if _, err := q.Get(ctx, resolved); !errors.Is(err, ErrNotFound) {
		t.Errorf("resolved request should be gone, got %v", err)
	}
}

func TestDisabledQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	disabled := NewQueue(qStore(q), Options{Enabled: false})

	ticket, err := disabled.Request(context.Background(), "social.publish", nil)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if ticket.Required {
		t.Error("disabled queue must not require approval")
	}
	if ticket.ID != "" {
		t.Error("disabled queue must not create a row")
	}

	pending, _ := q.Pending(context.Background())
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func qStore(q *Queue) *store.Store { return q.store }
