package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/omrylcn/gbot/internal/store"
)

type sessionStore struct {
	*DB
}

const sessionCols = "session_id, user_id, channel, started_at, ended_at, summary, close_reason, token_count"

func (s *sessionStore) Open(ctx context.Context, userID, channel string) (*store.Session, error) {
	sess := &store.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Channel:   channel,
		StartedAt: time.Now().UTC(),
	}
	// The uniq_sessions_open index rejects a second open session for the
	// same (user, channel); callers check GetOpen first under the
	// per-user turn lock.
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO sessions (session_id, user_id, channel, started_at, token_count)
		 VALUES (?, ?, ?, ?, 0)`),
		sess.SessionID, userID, channel, sess.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	return sess, nil
}

func (s *sessionStore) GetOpen(ctx context.Context, userID, channel string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+sessionCols+` FROM sessions
		 WHERE user_id = ? AND channel = ? AND ended_at IS NULL`),
		userID, channel)
	return scanSession(row)
}

func (s *sessionStore) GetOpenAny(ctx context.Context, userID string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+sessionCols+` FROM sessions
		 WHERE user_id = ? AND ended_at IS NULL
		 ORDER BY started_at LIMIT 1`),
		userID)
	return scanSession(row)
}

func (s *sessionStore) Get(ctx context.Context, sessionID string) (*store.Session, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+sessionCols+` FROM sessions WHERE session_id = ?`), sessionID)
	return scanSession(row)
}

func (s *sessionStore) End(ctx context.Context, sessionID, summary, closeReason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE sessions SET ended_at = ?, summary = ?, close_reason = ?
		 WHERE session_id = ? AND ended_at IS NULL`),
		time.Now().UTC(), summary, closeReason, sessionID)
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("end session: %w", err)
	}
	return n > 0, nil
}

func (s *sessionStore) AddTokens(ctx context.Context, sessionID string, tokens int) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`UPDATE sessions SET token_count = token_count + ? WHERE session_id = ?`),
		tokens, sessionID)
	if err != nil {
		return fmt.Errorf("add tokens: %w", err)
	}
	return nil
}

func (s *sessionStore) LastSummary(ctx context.Context, userID string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT COALESCE(summary, '') FROM sessions
		 WHERE user_id = ? AND ended_at IS NOT NULL
		 ORDER BY ended_at DESC LIMIT 1`),
		userID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last summary: %w", err)
	}
	return summary, nil
}

func (s *sessionStore) ListByUser(ctx context.Context, userID string, limit int) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+sessionCols+` FROM sessions
		 WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []store.Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSessionRow(row rowScanner) (*store.Session, error) {
	var sess store.Session
	var ended sql.NullTime
	var summary, reason sql.NullString
	err := row.Scan(&sess.SessionID, &sess.UserID, &sess.Channel, &sess.StartedAt,
		&ended, &summary, &reason, &sess.TokenCount)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.EndedAt = timePtr(ended)
	sess.Summary = summary.String
	sess.CloseReason = reason.String
	return &sess, nil
}

func scanSession(row *sql.Row) (*store.Session, error) {
	sess, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return sess, err
}
