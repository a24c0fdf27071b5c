package store

import "time"

// Approval request statuses. A request leaves "pending" exactly once;
// approved, rejected, and expired are terminal.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// ApprovalRow is a persisted approval request.
type ApprovalRow struct {
	ID             string     `json:"id"`
	ActionType     string     `json:"action_type"`
	ActionData     string     `json:"action_data"` // opaque JSON blob, round-tripped verbatim
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}

// ActionLogEntry is an append-only record of one dispatched task.
type ActionLogEntry struct {
	ID         int64     `json:"id"`
	Module     string    `json:"module"`
	Action     string    `json:"action"`
	Success    bool      `json:"success"`
	Result     string    `json:"result,omitempty"`
	ErrorText  string    `json:"error_text,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ScheduledTask is a persisted schedule definition read by the scheduler.
type ScheduledTask struct {
	ID              int64      `json:"id"`
	Module          string     `json:"module"`
	Action          string     `json:"action"`
	CronExpr        string     `json:"cron_expr,omitempty"`
	RunIntervalSecs int64      `json:"run_interval_secs,omitempty"`
	OneShot         bool       `json:"one_shot"`
	Enabled         bool       `json:"enabled"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastStatus      string     `json:"last_status,omitempty"`
	RunCount        int        `json:"run_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Draft statuses for the content pipeline.
const (
	DraftQueued    = "queued"
	DraftPosted    = "posted"
	DraftDiscarded = "discarded"
)

// Draft is a generated content draft waiting to be published.
type Draft struct {
	ID        int64      `json:"id"`
	Topic     string     `json:"topic,omitempty"`
	Body      string     `json:"body"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	PostedAt  *time.Time `json:"posted_at,omitempty"`
}

// Stats holds row counts used by the orchestrator health check.
type Stats struct {
	PendingApprovals int `json:"pending_approvals"`
	ActionLogRows    int `json:"action_log_rows"`
	ScheduledTasks   int `json:"scheduled_tasks"`
	QueuedDrafts     int `json:"queued_drafts"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS approval_requests (
	id TEXT PRIMARY KEY,
	action_type TEXT NOT NULL,
	action_data TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL,
	resolved_at DATETIME,
	resolved_by TEXT,
	resolution_note TEXT
);
CREATE INDEX IF NOT EXISTS idx_approval_status ON approval_requests(status);
CREATE INDEX IF NOT EXISTS idx_approval_expires ON approval_requests(status, expires_at);

CREATE TABLE IF NOT EXISTS action_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	module TEXT NOT NULL,
	action TEXT NOT NULL,
	success BOOLEAN NOT NULL,
	result TEXT,
	error_text TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_action_log_module ON action_log(module, action);
CREATE INDEX IF NOT EXISTS idx_action_log_created ON action_log(created_at);

CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	module TEXT NOT NULL,
	action TEXT NOT NULL,
	cron_expr TEXT DEFAULT '',
	run_interval_secs INTEGER NOT NULL DEFAULT 0,
	one_shot BOOLEAN NOT NULL DEFAULT 0,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	next_run_at DATETIME,
	last_run_at DATETIME,
	last_status TEXT DEFAULT '',
	run_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(module, action, cron_expr, run_interval_secs)
);
CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_tasks(enabled, next_run_at);

CREATE TABLE IF NOT EXISTS drafts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	topic TEXT DEFAULT '',
	body TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	posted_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_drafts_status ON drafts(status);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT,
	updated_at DATETIME
);
`
