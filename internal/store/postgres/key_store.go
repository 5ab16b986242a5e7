package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pedrolm/mapscout/internal/store"
)

const keyColumns = `id, key_hash, name, created_at, expires_at, is_active,
	last_used_at, use_count, allowed_ips`

// KeyStore implements store.KeyStore on Postgres. Only hashes are stored;
// the plaintext secret never crosses this boundary.
type KeyStore struct {
	db DB
}

// NewKeyStore wraps an existing pool or mock.
func NewKeyStore(db DB) *KeyStore {
	return &KeyStore{db: db}
}

// Insert persists a new key record and returns it with its assigned id.
func (s *KeyStore) Insert(ctx context.Context, key store.APIKey) (store.APIKey, error) {
	const q = `
		INSERT INTO api_keys (key_hash, name, created_at, expires_at, is_active, allowed_ips)
		VALUES ($1, $2, NOW(), $3, TRUE, $4)
		RETURNING ` + keyColumns
	inserted, err := scanKey(s.db.QueryRow(ctx, q, key.KeyHash, key.Name, key.ExpiresAt, key.AllowedIPs))
	if err != nil {
		return store.APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return inserted, nil
}

// LookupByHash returns the key record matching the hash, active or not.
// The caller decides what an inactive or expired match means.
func (s *KeyStore) LookupByHash(ctx context.Context, keyHash string) (store.APIKey, error) {
	const q = `SELECT ` + keyColumns + ` FROM api_keys WHERE key_hash = $1`
	key, err := scanKey(s.db.QueryRow(ctx, q, keyHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.APIKey{}, store.ErrNotFound
		}
		return store.APIKey{}, fmt.Errorf("lookup api key: %w", err)
	}
	return key, nil
}

// TouchUsage records one successful authentication.
func (s *KeyStore) TouchUsage(ctx context.Context, id int64) error {
	const q = `UPDATE api_keys SET last_used_at = NOW(), use_count = use_count + 1 WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("touch api key usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Revoke deactivates a key. Rows are never deleted.
func (s *KeyStore) Revoke(ctx context.Context, id int64) error {
	const q = `UPDATE api_keys SET is_active = FALSE WHERE id = $1`
	tag, err := s.db.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// List returns every key record, oldest first.
func (s *KeyStore) List(ctx context.Context) ([]store.APIKey, error) {
	const q = `SELECT ` + keyColumns + ` FROM api_keys ORDER BY id`
	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []store.APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

// Count returns how many keys exist, used by first-boot bootstrapping.
func (s *KeyStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return count, nil
}

func scanKey(row pgx.Row) (store.APIKey, error) {
	var key store.APIKey
	err := row.Scan(
		&key.ID,
		&key.KeyHash,
		&key.Name,
		&key.CreatedAt,
		&key.ExpiresAt,
		&key.IsActive,
		&key.LastUsedAt,
		&key.UseCount,
		&key.AllowedIPs,
	)
	return key, err
}
