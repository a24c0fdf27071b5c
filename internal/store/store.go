// Package store provides the SQLite-backed durable store for approvals,
// action logs, schedule definitions, and content drafts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store owns all persisted state. All row mutations for a single approval
// request go through conditional UPDATEs, so concurrent resolvers of the
// same row serialize on the database and exactly one wins.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for existing dbs (no-op if column exists).
	_, _ = db.Exec(`ALTER TABLE scheduled_tasks ADD COLUMN one_shot BOOLEAN NOT NULL DEFAULT 0`)
	_, _ = db.Exec(`ALTER TABLE drafts ADD COLUMN topic TEXT DEFAULT ''`)

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for components that need raw queries.
func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Approval Requests ---

// InsertApproval persists a new approval request in pending state.
func (s *Store) InsertApproval(ctx context.Context, row *ApprovalRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approval_requests (id, action_type, action_data, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.ActionType, row.ActionData, StatusPending, row.CreatedAt.UTC(), row.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// GetApproval returns the approval row with the given id, or nil if none.
func (s *Store) GetApproval(ctx context.Context, id string) (*ApprovalRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, action_type, action_data, status, created_at, expires_at,
		        resolved_at, COALESCE(resolved_by, ''), COALESCE(resolution_note, '')
		 FROM approval_requests WHERE id = ?`, id)
	var r ApprovalRow
	err := row.Scan(&r.ID, &r.ActionType, &r.ActionData, &r.Status,
		&r.CreatedAt, &r.ExpiresAt, &r.ResolvedAt, &r.ResolvedBy, &r.ResolutionNote)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return &r, nil
}

// ResolveApproval transitions a still-pending, non-expired row to the given
// terminal status. Returns true if this call won the transition.
func (s *Store) ResolveApproval(ctx context.Context, id, status, resolvedBy, note string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests
		 SET status = ?, resolved_at = ?, resolved_by = ?, resolution_note = ?
		 WHERE id = ? AND status = ? AND expires_at > ?`,
		status, now.UTC(), resolvedBy, note, id, StatusPending, now.UTC())
	if err != nil {
		return false, fmt.Errorf("resolve approval: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExpireApproval lazily transitions one pending row past its TTL to expired.
// Returns true if the row was expired by this call.
func (s *Store) ExpireApproval(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = ?
		 WHERE id = ? AND status = ? AND expires_at <= ?`,
		StatusExpired, id, StatusPending, now.UTC())
	if err != nil {
		return false, fmt.Errorf("expire approval: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ExpireAllDue sweeps every pending row past its TTL to expired and returns
// the number of rows affected. Running it twice in a row affects zero rows
// the second time.
func (s *Store) ExpireAllDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approval_requests SET status = ?
		 WHERE status = ? AND expires_at <= ?`,
		StatusExpired, StatusPending, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire sweep: %w", err)
	}
	return res.RowsAffected()
}

// ListApprovals returns approval rows, newest first. An empty status lists
// all rows.
func (s *Store) ListApprovals(ctx context.Context, status string, limit int) ([]ApprovalRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, action_type, action_data, status, created_at, expires_at,
	                 resolved_at, COALESCE(resolved_by, ''), COALESCE(resolution_note, '')
	          FROM approval_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []ApprovalRow
	for rows.Next() {
		var r ApprovalRow
		if err := rows.Scan(&r.ID, &r.ActionType, &r.ActionData, &r.Status,
			&r.CreatedAt, &r.ExpiresAt, &r.ResolvedAt, &r.ResolvedBy, &r.ResolutionNote); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteResolvedBefore hard-deletes terminal (non-pending) approval rows
// created before cutoff. Pending rows are never touched regardless of age.
func (s *Store) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM approval_requests WHERE status != ? AND created_at < ?`,
		StatusPending, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old approvals: %w", err)
	}
	return res.RowsAffected()
}

// --- Action Log ---

// AppendActionLog writes one append-only action log entry.
func (s *Store) AppendActionLog(ctx context.Context, e *ActionLogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_log (module, action, success, result, error_text, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Module, e.Action, e.Success, e.Result, e.ErrorText, e.DurationMs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}

// ListActionLog returns recent action log entries, newest first.
func (s *Store) ListActionLog(ctx context.Context, limit int) ([]ActionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, module, action, success, COALESCE(result, ''), COALESCE(error_text, ''), duration_ms, created_at
		 FROM action_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list action log: %w", err)
	}
	defer rows.Close()

	var out []ActionLogEntry
	for rows.Next() {
		var e ActionLogEntry
		if err := rows.Scan(&e.ID, &e.Module, &e.Action, &e.Success, &e.Result, &e.ErrorText, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Scheduled Tasks ---

// UpsertScheduledTask seeds or updates a schedule definition.
func (s *Store) UpsertScheduledTask(ctx context.Context, t *ScheduledTask) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (module, action, cron_expr, run_interval_secs, one_shot, enabled, next_run_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(module, action, cron_expr, run_interval_secs) DO UPDATE SET
		 	one_shot = excluded.one_shot,
		 	updated_at = CURRENT_TIMESTAMP`,
		t.Module, t.Action, t.CronExpr, t.RunIntervalSecs, t.OneShot, t.Enabled, t.NextRunAt)
	if err != nil {
		return fmt.Errorf("upsert scheduled task: %w", err)
	}
	return nil
}

// DueScheduledTasks returns enabled definitions whose next-run time has
// passed (or was never set).
func (s *Store) DueScheduledTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, module, action, COALESCE(cron_expr, ''), run_interval_secs, one_shot, enabled,
		        next_run_at, last_run_at, COALESCE(last_status, ''), run_count, created_at, updated_at
		 FROM scheduled_tasks
		 WHERE enabled = 1 AND (next_run_at IS NULL OR next_run_at <= ?)`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("due scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

// ListScheduledTasks returns all schedule definitions.
func (s *Store) ListScheduledTasks(ctx context.Context) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, module, action, COALESCE(cron_expr, ''), run_interval_secs, one_shot, enabled,
		        next_run_at, last_run_at, COALESCE(last_status, ''), run_count, created_at, updated_at
		 FROM scheduled_tasks ORDER BY module, action`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()
	return scanScheduledTasks(rows)
}

func scanScheduledTasks(rows *sql.Rows) ([]ScheduledTask, error) {
	var out []ScheduledTask
	for rows.Next() {
		var t ScheduledTask
		if err := rows.Scan(&t.ID, &t.Module, &t.Action, &t.CronExpr, &t.RunIntervalSecs, &t.OneShot,
			&t.Enabled, &t.NextRunAt, &t.LastRunAt, &t.LastStatus, &t.RunCount, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordScheduledRun persists the outcome of one firing: last status, the
// recomputed next-run time, and whether the definition stays enabled
// (one-shot definitions are disabled after firing).
func (s *Store) RecordScheduledRun(ctx context.Context, id int64, status string, ranAt time.Time, nextRun *time.Time, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks
		 SET last_status = ?, last_run_at = ?, next_run_at = ?, enabled = ?,
		     run_count = run_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status, ranAt.UTC(), nextRun, enabled, id)
	if err != nil {
		return fmt.Errorf("record scheduled run: %w", err)
	}
	return nil
}

// SetScheduledTaskEnabled flips a definition's enabled flag.
func (s *Store) SetScheduledTaskEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, id)
	if err != nil {
		return fmt.Errorf("set scheduled task enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scheduled task %d not found", id)
	}
	return nil
}

// --- Drafts ---

// QueueDraft stores a generated draft for later publishing.
func (s *Store) QueueDraft(ctx context.Context, topic, body string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO drafts (topic, body, status) VALUES (?, ?, ?)`,
		topic, body, DraftQueued)
	if err != nil {
		return 0, fmt.Errorf("queue draft: %w", err)
	}
	return res.LastInsertId()
}

// NextQueuedDraft returns the oldest queued draft, or nil if none.
func (s *Store) NextQueuedDraft(ctx context.Context) (*Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(topic, ''), body, status, created_at, posted_at
		 FROM drafts WHERE status = ? ORDER BY id ASC LIMIT 1`, DraftQueued)
	var d Draft
	err := row.Scan(&d.ID, &d.Topic, &d.Body, &d.Status, &d.CreatedAt, &d.PostedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued draft: %w", err)
	}
	return &d, nil
}

// MarkDraftPosted transitions a draft to posted.
func (s *Store) MarkDraftPosted(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status = ?, posted_at = ? WHERE id = ?`,
		DraftPosted, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark draft posted: %w", err)
	}
	return nil
}

// DiscardDraft transitions a draft to discarded. Used when the approval
// for publishing it was rejected or expired.
func (s *Store) DiscardDraft(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status = ? WHERE id = ?`, DraftDiscarded, id)
	if err != nil {
		return fmt.Errorf("discard draft: %w", err)
	}
	return nil
}

// --- Settings ---

// SetSetting stores a key/value setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

// DeleteSetting removes a setting row. Deleting an absent key is a no-op.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}

// GetSetting returns a setting value, or empty string if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// --- Stats ---

// GetStats returns row counts for the health check.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	count := func(dst *int, query string, args ...any) error {
		return s.db.QueryRowContext(ctx, query, args...).Scan(dst)
	}
	if err := count(&st.PendingApprovals, `SELECT COUNT(*) FROM approval_requests WHERE status = ?`, StatusPending); err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	if err := count(&st.ActionLogRows, `SELECT COUNT(*) FROM action_log`); err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	if err := count(&st.ScheduledTasks, `SELECT COUNT(*) FROM scheduled_tasks`); err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	if err := count(&st.QueuedDrafts, `SELECT COUNT(*) FROM drafts WHERE status = ?`, DraftQueued); err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	return st, nil
}
