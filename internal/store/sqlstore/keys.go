package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/omrylcn/gbot/internal/store"
)

type keyStore struct {
	*DB
}

const keyCols = "key_id, user_id, name, key_hash, scopes, created_at, last_used_at, revoked_at"

// scopesArg encodes scopes for the active driver: a TEXT[] literal for
// postgres, a JSON array for sqlite.
func (s *keyStore) scopesArg(scopes []string) (any, error) {
	if scopes == nil {
		scopes = []string{}
	}
	if s.pg() {
		return pq.Array(scopes), nil
	}
	buf, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("encode scopes: %w", err)
	}
	return string(buf), nil
}

func (s *keyStore) CreateKey(ctx context.Context, k *store.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	scopes, err := s.scopesArg(k.Scopes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO api_keys (key_id, user_id, name, key_hash, scopes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		k.KeyID, k.UserID, k.Name, k.KeyHash, scopes, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

func (s *keyStore) KeyByHash(ctx context.Context, hash string) (*store.APIKey, error) {
	row := s.db.QueryRowContext(ctx, s.q(
		`SELECT `+keyCols+` FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL`), hash)
	k, err := s.scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return k, err
}

func (s *keyStore) TouchKey(ctx context.Context, keyID string) error {
	_, err := s.db.ExecContext(ctx, s.q(
		`UPDATE api_keys SET last_used_at = ? WHERE key_id = ?`),
		time.Now().UTC(), keyID)
	if err != nil {
		return fmt.Errorf("touch key: %w", err)
	}
	return nil
}

func (s *keyStore) RevokeKey(ctx context.Context, keyID string) error {
	res, err := s.db.ExecContext(ctx, s.q(
		`UPDATE api_keys SET revoked_at = COALESCE(revoked_at, ?) WHERE key_id = ?`),
		time.Now().UTC(), keyID)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *keyStore) KeysByUser(ctx context.Context, userID string) ([]store.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT `+keyCols+` FROM api_keys WHERE user_id = ? ORDER BY created_at DESC`),
		userID)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []store.APIKey
	for rows.Next() {
		k, err := s.scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func (s *keyStore) scanKey(row rowScanner) (*store.APIKey, error) {
	var k store.APIKey
	var lastUsed, revoked sql.NullTime

	var err error
	if s.pg() {
		err = row.Scan(&k.KeyID, &k.UserID, &k.Name, &k.KeyHash, pq.Array(&k.Scopes),
			&k.CreatedAt, &lastUsed, &revoked)
	} else {
		var scopes string
		err = row.Scan(&k.KeyID, &k.UserID, &k.Name, &k.KeyHash, &scopes,
			&k.CreatedAt, &lastUsed, &revoked)
		if err == nil {
			if jerr := json.Unmarshal([]byte(scopes), &k.Scopes); jerr != nil {
				return nil, fmt.Errorf("decode scopes: %w", jerr)
			}
		}
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan key: %w", err)
	}
	k.LastUsedAt = timePtr(lastUsed)
	k.RevokedAt = timePtr(revoked)
	return &k, nil
}
