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

type userStore struct {
	*DB
}

const userCols = "user_id, display_name, COALESCE(password_hash, ''), role, created_at"

func (s *userStore) GetOrCreate(ctx context.Context, userID, displayName string) (*store.User, error) {
	u, err := s.Get(ctx, userID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO users (user_id, display_name, role, created_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT (user_id) DO NOTHING`),
		userID, displayName, store.RoleMember, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.Get(ctx, userID)
}

func (s *userStore) Get(ctx context.Context, userID string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+userCols+` FROM users WHERE user_id = ?`), userID)

	var u store.User
	err := row.Scan(&u.UserID, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *userStore) SetRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE users SET role = ? WHERE user_id = ?`), role, userID)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *userStore) List(ctx context.Context) ([]store.User, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+userCols+` FROM users ORDER BY created_at, user_id`))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.UserID, &u.DisplayName, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *userStore) ResolveChannel(ctx context.Context, channel, address string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT user_id FROM channel_links WHERE channel = ? AND channel_address = ?`),
		channel, address).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve channel: %w", err)
	}
	return userID, nil
}

func (s *userStore) ChannelAddress(ctx context.Context, userID, channel string) (string, error) {
	var address string
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT channel_address FROM channel_links WHERE user_id = ? AND channel = ?
		 ORDER BY channel_address LIMIT 1`),
		userID, channel).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("channel address: %w", err)
	}
	return address, nil
}

func (s *userStore) LinkChannel(ctx context.Context, userID, channel, address string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO channel_links (user_id, channel, channel_address, metadata)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (channel, channel_address)
		 DO UPDATE SET user_id = excluded.user_id, metadata = excluded.metadata`),
		userID, channel, address, string(meta))
	if err != nil {
		return fmt.Errorf("link channel: %w", err)
	}
	return nil
}
