package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omrylcn/gbot/internal/store"
)

type memoryStore struct {
	*DB
}

func (s *memoryStore) WriteMemory(ctx context.Context, userID, key, content string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO agent_memory (user_id, key, content, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, key)
		 DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`),
		userID, key, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	return nil
}

func (s *memoryStore) ReadMemory(ctx context.Context, userID, key string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT content FROM agent_memory WHERE user_id = ? AND key = ?`),
		userID, key).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read memory: %w", err)
	}
	return content, nil
}

func (s *memoryStore) DeleteMemory(ctx context.Context, userID, key string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM agent_memory WHERE user_id = ? AND key = ?`), userID, key)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *memoryStore) AddNote(ctx context.Context, userID, content, source string) error {
	if source == "" {
		source = store.NoteSourceConversation
	}
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO user_notes (user_id, content, source, created_at) VALUES (?, ?, ?, ?)`),
		userID, content, source, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add note: %w", err)
	}
	return nil
}

func (s *memoryStore) Notes(ctx context.Context, userID string, limit int) ([]store.UserNote, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, content, source, created_at FROM user_notes
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []store.UserNote
	for rows.Next() {
		var n store.UserNote
		if err := rows.Scan(&n.ID, &n.UserID, &n.Content, &n.Source, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (s *memoryStore) LogActivity(ctx context.Context, userID, activity string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO activity_log (user_id, activity, created_at) VALUES (?, ?, ?)`),
		userID, activity, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

func (s *memoryStore) RecentActivity(ctx context.Context, userID string, limit int) ([]store.Activity, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, activity, created_at FROM activity_log
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`),
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var entries []store.Activity
	for rows.Next() {
		var a store.Activity
		if err := rows.Scan(&a.ID, &a.UserID, &a.Activity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entries = append(entries, a)
	}
	return entries, rows.Err()
}

func (s *memoryStore) AddFavorite(ctx context.Context, userID, category, item string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO favorites (user_id, category, item, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, category, item) DO NOTHING`),
		userID, category, item, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add favorite: %w", err)
	}
	return nil
}

func (s *memoryStore) RemoveFavorite(ctx context.Context, userID, category, item string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM favorites WHERE user_id = ? AND category = ? AND item = ?`),
		userID, category, item)
	if err != nil {
		return fmt.Errorf("remove favorite: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *memoryStore) Favorites(ctx context.Context, userID string) ([]store.Favorite, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, user_id, category, item, created_at FROM favorites
		 WHERE user_id = ? ORDER BY category, id`),
		userID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	var favs []store.Favorite
	for rows.Next() {
		var f store.Favorite
		if err := rows.Scan(&f.ID, &f.UserID, &f.Category, &f.Item, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favs = append(favs, f)
	}
	return favs, rows.Err()
}

// MergePreferences shallow-merges updates into the stored document.
// A nil value removes the key.
func (s *memoryStore) MergePreferences(ctx context.Context, userID string, updates map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("merge preferences: %w", err)
	}
	defer tx.Rollback()

	sel := s.q(`SELECT prefs FROM preferences WHERE user_id = ?`)
	if s.pg() {
		sel += " FOR UPDATE"
	}

	prefs := map[string]any{}
	var raw string
	err = tx.QueryRowContext(ctx, sel, userID).Scan(&raw)
	switch {
	case err == nil:
		if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
			return fmt.Errorf("decode preferences: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// First write for this user.
	default:
		return fmt.Errorf("merge preferences: %w", err)
	}

	for k, v := range updates {
		if v == nil {
			delete(prefs, k)
			continue
		}
		prefs[k] = v
	}

	buf, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.q(
		`INSERT INTO preferences (user_id, prefs, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id)
		 DO UPDATE SET prefs = excluded.prefs, updated_at = excluded.updated_at`),
		userID, string(buf), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("merge preferences: %w", err)
	}
	return tx.Commit()
}

func (s *memoryStore) Preferences(ctx context.Context, userID string) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT prefs FROM preferences WHERE user_id = ?`), userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	prefs := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}
