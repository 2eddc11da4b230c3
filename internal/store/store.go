// Package store defines the durable entities and the per-concern store
// interfaces. The store is the single source of truth for sessions, memory,
// and background work; backends live in store/sqlite and store/pg.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// User roles.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
	RoleGuest  = "guest"
)

// Session close reasons.
const (
	CloseReasonTokenLimit = "token_limit"
	CloseReasonManual     = "manual"
)

// Note sources.
const (
	NoteSourceConversation = "conversation"
	NoteSourceExtraction   = "extraction"
	NoteSourceOnboarding   = "onboarding"
)

// FavoriteCategoryGeneral is the category for uncategorized favorites.
const FavoriteCategoryGeneral = "general"

// Plan processors.
const (
	ProcessorStatic   = "static"
	ProcessorFunction = "function"
	ProcessorAgent    = "agent"
)

// Notify conditions.
const (
	NotifyAlways = "always"
	NotifySkip   = "notify_skip"
)

// Reminder statuses.
const (
	ReminderPending   = "pending"
	ReminderSent      = "sent"
	ReminderCancelled = "cancelled"
	ReminderFailed    = "failed"
)

// Background task statuses.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Cron execution statuses.
const (
	ExecSuccess = "success"
	ExecError   = "error"
	ExecSkipped = "skipped"
)

// User is an account known to the assistant. Exactly one owner exists when
// RBAC is enabled; the owner row is derived from config at startup.
type User struct {
	UserID       string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// ChannelLink maps an external channel identity to a user.
// Unique on (channel, address).
type ChannelLink struct {
	UserID   string
	Channel  string
	Address  string
	Metadata map[string]string
}

// Session is the unit over which the token budget is enforced.
type Session struct {
	SessionID   string
	UserID      string
	Channel     string
	StartedAt   time.Time
	EndedAt     *time.Time
	Summary     string
	TokenCount  int
	CloseReason string
}

// Open reports whether the session has not been closed yet.
func (s *Session) Open() bool { return s.EndedAt == nil }

// Message is one conversation entry. Append-only; ordering is by the
// monotonic insertion id, not by CreatedAt.
type Message struct {
	ID         int64
	SessionID  string
	Role       string // user|assistant|system|tool
	Content    string
	ToolCalls  json.RawMessage
	ToolCallID string // set on role=tool rows
	CreatedAt  time.Time
}

// AgentMemory is a per-user key-value record ("long_term" feeds the
// agent_memory context layer).
type AgentMemory struct {
	UserID    string
	Key       string
	Content   string
	UpdatedAt time.Time
}

// UserNote is a free-form fact about the user.
type UserNote struct {
	ID        int64
	UserID    string
	Content   string
	Source    string
	CreatedAt time.Time
}

// Activity is one entry of the user's activity log.
type Activity struct {
	ID        int64
	UserID    string
	Activity  string
	CreatedAt time.Time
}

// Favorite is a categorized favorite item.
type Favorite struct {
	ID        int64
	UserID    string
	Category  string
	Item      string
	CreatedAt time.Time
}

// CronJob is a persistent recurring trigger owned by a user and executed
// by the scheduler.
type CronJob struct {
	JobID               string
	UserID              string
	CronExpr            string
	Message             string // static processor text (also kept for display)
	Channel             string
	Enabled             bool
	Processor           string
	PlanJSON            json.RawMessage
	NotifyCondition     string
	ConsecutiveFailures int
	CreatedAt           time.Time
}

// Reminder is a one-shot (run_at) or recurring (cron_expr set) trigger.
// A recurring reminder never leaves the pending status.
type Reminder struct {
	ReminderID string
	UserID     string
	Channel    string
	RunAt      time.Time
	CronExpr   string
	Processor  string
	PlanJSON   json.RawMessage
	Status     string
	CreatedAt  time.Time
	SentAt     *time.Time
}

// Recurring reports whether the reminder re-fires on a cron expression.
func (r *Reminder) Recurring() bool { return r.CronExpr != "" }

// BackgroundTask records one immediate background execution.
type BackgroundTask struct {
	TaskID          string
	UserID          string
	ParentSession   string
	FallbackChannel string
	Status          string
	PlanJSON        json.RawMessage
	Result          string
	Error           string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// SystemEvent is an at-least-once queue entry consumed by the realtime
// push or by the context builder on the next turn.
type SystemEvent struct {
	EventID     string
	UserID      string
	Kind        string
	Payload     json.RawMessage
	DeliveredAt *time.Time
	CreatedAt   time.Time
}

// CronExecution is one audit row of a trigger firing.
type CronExecution struct {
	LogID      int64
	JobID      string
	ExecutedAt time.Time
	Status     string
	Result     string
	DurationMs int64
}

// APIKey authenticates the api channel when auth is enabled.
type APIKey struct {
	KeyID      string
	UserID     string
	Name       string
	KeyHash    string // SHA-256 hex of the presented key
	Scopes     []string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// DelegationLog is an audit row of one planner invocation.
type DelegationLog struct {
	ID        int64
	UserID    string
	Task      string
	PlanJSON  json.RawMessage
	Outcome   string
	CreatedAt time.Time
}
