// Package auth implements the API-key credential service guarding the
// HTTP ingress: key generation, hashing, validation, and first-boot
// bootstrapping of a default key.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pedrolm/mapscout/internal/store"
)

// secretBytes sizes the random portion of a generated key.
const secretBytes = 32

// BootstrapPolicy describes the default key created on an empty store.
type BootstrapPolicy struct {
	Name        string
	AllowedIPs  []string
	ExpiresDays int
}

// Service authenticates presented keys against the credential store.
type Service struct {
	keys   store.KeyStore
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds a Service. The clock is injectable for tests.
func NewService(keys store.KeyStore, logger *zap.Logger) *Service {
	return &Service{
		keys:   keys,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GeneratedKey carries the one-time plaintext alongside the stored record.
type GeneratedKey struct {
	Record    store.APIKey
	Plaintext string
}

// Generate creates a cryptographically random key, stores only its hash,
// and returns the plaintext exactly once. It cannot be recovered later.
func (s *Service) Generate(ctx context.Context, name string, expiresDays int, allowedIPs []string) (GeneratedKey, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return GeneratedKey{}, fmt.Errorf("generate key material: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	key := store.APIKey{
		KeyHash:    HashKey(plaintext),
		Name:       name,
		AllowedIPs: allowedIPs,
	}
	if expiresDays > 0 {
		expires := s.now().AddDate(0, 0, expiresDays)
		key.ExpiresAt = &expires
	}

	record, err := s.keys.Insert(ctx, key)
	if err != nil {
		return GeneratedKey{}, err
	}
	s.logger.Info("api key generated",
		zap.Int64("key_id", record.ID),
		zap.String("name", record.Name),
	)
	return GeneratedKey{Record: record, Plaintext: plaintext}, nil
}

// Authenticate validates a presented key against the store.
//
// It returns store.ErrUnauthorized when the key is missing, unknown,
// revoked, or expired, and store.ErrForbidden when the key is valid but
// its allowlist excludes the source IP. The usage counter is updated only
// on success.
func (s *Service) Authenticate(ctx context.Context, presentedKey, sourceIP string) (store.APIKey, error) {
	if presentedKey == "" {
		return store.APIKey{}, fmt.Errorf("%w: missing api key", store.ErrUnauthorized)
	}

	key, err := s.keys.LookupByHash(ctx, HashKey(presentedKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("unknown api key presented", zap.String("source_ip", sourceIP))
			return store.APIKey{}, fmt.Errorf("%w: unknown api key", store.ErrUnauthorized)
		}
		return store.APIKey{}, err
	}

	if !key.IsActive {
		s.logger.Warn("revoked api key presented", zap.Int64("key_id", key.ID))
		return store.APIKey{}, fmt.Errorf("%w: key revoked", store.ErrUnauthorized)
	}
	if key.Expired(s.now()) {
		s.logger.Warn("expired api key presented", zap.Int64("key_id", key.ID))
		return store.APIKey{}, fmt.Errorf("%w: key expired", store.ErrUnauthorized)
	}
	if !key.AllowsIP(sourceIP) {
		s.logger.Warn("api key used from disallowed ip",
			zap.Int64("key_id", key.ID),
			zap.String("source_ip", sourceIP),
		)
		return store.APIKey{}, fmt.Errorf("%w: ip not allowed", store.ErrForbidden)
	}

	if err := s.keys.TouchUsage(ctx, key.ID); err != nil {
		return store.APIKey{}, fmt.Errorf("update key usage: %w", err)
	}
	return key, nil
}

// Revoke deactivates a key by id.
func (s *Service) Revoke(ctx context.Context, id int64) error {
	return s.keys.Revoke(ctx, id)
}

// List returns all key records.
func (s *Service) List(ctx context.Context) ([]store.APIKey, error) {
	return s.keys.List(ctx)
}

// Bootstrap generates the default key when the store is empty, logging
// the plaintext a single time. Operators must capture it from that log;
// afterwards it can only be revoked and replaced.
func (s *Service) Bootstrap(ctx context.Context, policy BootstrapPolicy) error {
	count, err := s.keys.Count(ctx)
	if err != nil {
		return fmt.Errorf("count keys: %w", err)
	}
	if count > 0 {
		return nil
	}

	name := policy.Name
	if name == "" {
		name = "default"
	}
	generated, err := s.Generate(ctx, name, policy.ExpiresDays, policy.AllowedIPs)
	if err != nil {
		return fmt.Errorf("bootstrap default key: %w", err)
	}
	s.logger.Info("default api key created; this plaintext is shown only once",
		zap.Int64("key_id", generated.Record.ID),
		zap.String("api_key", generated.Plaintext),
	)
	return nil
}

// HashKey returns the hex SHA-256 digest stored for a plaintext key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
