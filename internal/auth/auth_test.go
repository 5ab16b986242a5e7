package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pedrolm/mapscout/internal/store"
)

type fakeKeyStore struct {
	keys     map[string]store.APIKey
	inserted []store.APIKey
	touched  []int64
	revoked  []int64
	nextID   int64
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{keys: map[string]store.APIKey{}, nextID: 1}
}

func (f *fakeKeyStore) Insert(_ context.Context, key store.APIKey) (store.APIKey, error) {
	key.ID = f.nextID
	f.nextID++
	key.IsActive = true
	key.CreatedAt = time.Unix(1700000000, 0).UTC()
	f.keys[key.KeyHash] = key
	f.inserted = append(f.inserted, key)
	return key, nil
}

func (f *fakeKeyStore) LookupByHash(_ context.Context, keyHash string) (store.APIKey, error) {
	key, ok := f.keys[keyHash]
	if !ok {
		return store.APIKey{}, store.ErrNotFound
	}
	return key, nil
}

func (f *fakeKeyStore) TouchUsage(_ context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeKeyStore) Revoke(_ context.Context, id int64) error {
	f.revoked = append(f.revoked, id)
	return nil
}

func (f *fakeKeyStore) List(_ context.Context) ([]store.APIKey, error) {
	keys := make([]store.APIKey, 0, len(f.keys))
	for _, key := range f.keys {
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *fakeKeyStore) Count(_ context.Context) (int, error) {
	return len(f.keys), nil
}

func newTestService(keys *fakeKeyStore) *Service {
	svc := NewService(keys, zap.NewNop())
	svc.now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return svc
}

func TestGenerateStoresOnlyTheHash(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)

	generated, err := svc.Generate(context.Background(), "ci-bot", 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, generated.Plaintext)
	require.Equal(t, HashKey(generated.Plaintext), generated.Record.KeyHash)
	require.NotContains(t, generated.Record.KeyHash, generated.Plaintext)
	require.Nil(t, generated.Record.ExpiresAt)
}

func TestGenerateSetsExpiry(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)

	generated, err := svc.Generate(context.Background(), "temp", 30, nil)
	require.NoError(t, err)
	require.NotNil(t, generated.Record.ExpiresAt)
	require.Equal(t,
		time.Unix(1700000000, 0).UTC().AddDate(0, 0, 30),
		*generated.Record.ExpiresAt,
	)
}

func TestAuthenticateHappyPathTouchesUsage(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)
	generated, err := svc.Generate(context.Background(), "ci-bot", 0, nil)
	require.NoError(t, err)

	key, err := svc.Authenticate(context.Background(), generated.Plaintext, "203.0.113.9")
	require.NoError(t, err)
	require.Equal(t, generated.Record.ID, key.ID)
	require.Equal(t, []int64{generated.Record.ID}, keys.touched)
}

func TestAuthenticateRejectsMissingAndUnknownKeys(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)

	_, err := svc.Authenticate(context.Background(), "", "203.0.113.9")
	require.ErrorIs(t, err, store.ErrUnauthorized)

	_, err = svc.Authenticate(context.Background(), "not-a-real-key", "203.0.113.9")
	require.ErrorIs(t, err, store.ErrUnauthorized)
	require.Empty(t, keys.touched)
}

func TestAuthenticateRejectsRevokedKey(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)
	generated, err := svc.Generate(context.Background(), "old", 0, nil)
	require.NoError(t, err)

	record := keys.keys[generated.Record.KeyHash]
	record.IsActive = false
	keys.keys[generated.Record.KeyHash] = record

	_, err = svc.Authenticate(context.Background(), generated.Plaintext, "203.0.113.9")
	require.ErrorIs(t, err, store.ErrUnauthorized)
	require.Empty(t, keys.touched)
}

func TestAuthenticateRejectsExpiredKey(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)
	generated, err := svc.Generate(context.Background(), "temp", 1, nil)
	require.NoError(t, err)

	svc.now = func() time.Time {
		return time.Unix(1700000000, 0).UTC().AddDate(0, 0, 2)
	}

	_, err = svc.Authenticate(context.Background(), generated.Plaintext, "203.0.113.9")
	require.ErrorIs(t, err, store.ErrUnauthorized)
	require.Empty(t, keys.touched)
}

func TestAuthenticateEnforcesIPAllowlist(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)
	generated, err := svc.Generate(context.Background(), "office", 0, []string{"10.0.0.5"})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), generated.Plaintext, "203.0.113.9")
	require.ErrorIs(t, err, store.ErrForbidden)
	require.Empty(t, keys.touched)

	_, err = svc.Authenticate(context.Background(), generated.Plaintext, "10.0.0.5")
	require.NoError(t, err)
	require.Len(t, keys.touched, 1)
}

func TestBootstrapCreatesDefaultKeyOnlyOnEmptyStore(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)

	require.NoError(t, svc.Bootstrap(context.Background(), BootstrapPolicy{Name: "default"}))
	require.Len(t, keys.inserted, 1)
	require.Equal(t, "default", keys.inserted[0].Name)

	require.NoError(t, svc.Bootstrap(context.Background(), BootstrapPolicy{Name: "default"}))
	require.Len(t, keys.inserted, 1)
}

func TestHashKeyIsDeterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, HashKey("secret"), HashKey("secret"))
	require.NotEqual(t, HashKey("secret"), HashKey("secret2"))
	require.Len(t, HashKey("secret"), 64)
}
