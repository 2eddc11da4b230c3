package store

import (
	"context"
	"encoding/json"
)

// UserStore manages users and channel identity links.
type UserStore interface {
	// GetOrCreate returns the user, creating a member row when absent.
	GetOrCreate(ctx context.Context, userID, displayName string) (*User, error)
	Get(ctx context.Context, userID string) (*User, error)
	SetRole(ctx context.Context, userID, role string) error
	List(ctx context.Context) ([]User, error)
	// ResolveChannel returns the linked user id, or ErrNotFound.
	ResolveChannel(ctx context.Context, channel, address string) (string, error)
	// ChannelAddress is the reverse lookup: the user's address on a
	// channel, or ErrNotFound when no link exists.
	ChannelAddress(ctx context.Context, userID, channel string) (string, error)
	LinkChannel(ctx context.Context, userID, channel, address string, metadata map[string]string) error
}

// SessionStore manages session lifecycle. At most one open session exists
// per (user, channel); End is idempotent under concurrent callers.
type SessionStore interface {
	Open(ctx context.Context, userID, channel string) (*Session, error)
	// GetOpen returns the open session for (user, channel), or ErrNotFound.
	GetOpen(ctx context.Context, userID, channel string) (*Session, error)
	// GetOpenAny returns any open session for the user regardless of
	// channel (guest session cap), or ErrNotFound.
	GetOpenAny(ctx context.Context, userID string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	// End closes the session via a conditional update. The bool reports
	// whether this call performed the close; a second caller gets false
	// with no error.
	End(ctx context.Context, sessionID, summary, closeReason string) (bool, error)
	AddTokens(ctx context.Context, sessionID string, tokens int) error
	// LastSummary returns the most recent closed session's summary for
	// the user, or "" when none exists.
	LastSummary(ctx context.Context, userID string) (string, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Session, error)
}

// MessageStore appends and reads session messages.
type MessageStore interface {
	// Append writes one message. toolCalls carries the assistant's tool
	// call list; toolCallID links a role=tool row to the call it answers.
	Append(ctx context.Context, sessionID, role, content string, toolCalls json.RawMessage, toolCallID string) error
	// Recent returns the last limit messages in insertion order
	// (oldest first).
	Recent(ctx context.Context, sessionID string, limit int) ([]Message, error)
}

// MemoryStore groups the semantic per-user stores consumed by the context
// builder and mutated by tools.
type MemoryStore interface {
	WriteMemory(ctx context.Context, userID, key, content string) error
	ReadMemory(ctx context.Context, userID, key string) (string, error)
	DeleteMemory(ctx context.Context, userID, key string) error

	AddNote(ctx context.Context, userID, content, source string) error
	Notes(ctx context.Context, userID string, limit int) ([]UserNote, error)

	LogActivity(ctx context.Context, userID, activity string) error
	RecentActivity(ctx context.Context, userID string, limit int) ([]Activity, error)

	AddFavorite(ctx context.Context, userID, category, item string) error
	RemoveFavorite(ctx context.Context, userID, category, item string) error
	Favorites(ctx context.Context, userID string) ([]Favorite, error)

	// MergePreferences JSON-merges updates into the user's preference
	// document (new keys win).
	MergePreferences(ctx context.Context, userID string, updates map[string]any) error
	Preferences(ctx context.Context, userID string) (map[string]any, error)
}

// SchedulerStore persists cron jobs, reminders and the execution log.
type SchedulerStore interface {
	CreateJob(ctx context.Context, job *CronJob) error
	Job(ctx context.Context, jobID string) (*CronJob, error)
	EnabledJobs(ctx context.Context) ([]CronJob, error)
	JobsByUser(ctx context.Context, userID string) ([]CronJob, error)
	SetJobEnabled(ctx context.Context, jobID string, enabled bool) error
	DeleteJob(ctx context.Context, jobID string) error
	// IncrementFailures bumps the consecutive failure counter and
	// returns the new count.
	IncrementFailures(ctx context.Context, jobID string) (int, error)
	ResetFailures(ctx context.Context, jobID string) error

	CreateReminder(ctx context.Context, r *Reminder) error
	Reminder(ctx context.Context, reminderID string) (*Reminder, error)
	PendingReminders(ctx context.Context) ([]Reminder, error)
	RemindersByUser(ctx context.Context, userID string) ([]Reminder, error)
	// SetReminderStatus updates the status; "sent" also stamps sent_at.
	SetReminderStatus(ctx context.Context, reminderID, status string) error

	LogExecution(ctx context.Context, exec *CronExecution) error
	Executions(ctx context.Context, jobID string, limit int) ([]CronExecution, error)
}

// TaskStore persists immediate background tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, t *BackgroundTask) error
	// FinishTask records the terminal status, result or error, and
	// completion time.
	FinishTask(ctx context.Context, taskID, status, result, errMsg string) error
	Task(ctx context.Context, taskID string) (*BackgroundTask, error)
	TasksByUser(ctx context.Context, userID string, limit int) ([]BackgroundTask, error)
}

// EventStore is the at-least-once system event queue.
type EventStore interface {
	Enqueue(ctx context.Context, userID, kind string, payload json.RawMessage) (string, error)
	Undelivered(ctx context.Context, userID string) ([]SystemEvent, error)
	MarkDelivered(ctx context.Context, eventIDs []string) error
}

// KeyStore manages api keys for the auth boundary.
type KeyStore interface {
	CreateKey(ctx context.Context, k *APIKey) error
	// KeyByHash returns the non-revoked key matching the hash, or
	// ErrNotFound.
	KeyByHash(ctx context.Context, hash string) (*APIKey, error)
	TouchKey(ctx context.Context, keyID string) error
	RevokeKey(ctx context.Context, keyID string) error
	KeysByUser(ctx context.Context, userID string) ([]APIKey, error)
}

// DelegationLogStore records planner invocations for audit.
type DelegationLogStore interface {
	LogDelegation(ctx context.Context, entry *DelegationLog) error
	Delegations(ctx context.Context, userID string, limit int) ([]DelegationLog, error)
}

// Stores is the top-level container for all storage concerns.
type Stores struct {
	Users       UserStore
	Sessions    SessionStore
	Messages    MessageStore
	Memory      MemoryStore
	Scheduler   SchedulerStore
	Tasks       TaskStore
	Events      EventStore
	Keys        KeyStore
	Delegations DelegationLogStore

	CloseFunc func() error
}

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s.CloseFunc != nil {
		return s.CloseFunc()
	}
	return nil
}
