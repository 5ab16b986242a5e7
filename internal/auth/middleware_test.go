package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pedrolm/mapscout/internal/store"
)

func TestRequireKeyRejectsWithoutHeader(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeKeyStore())
	handler := svc.RequireKey(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "invalid or missing api key")
}

func TestRequireKeyAllowlistMissIs403(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)
	generated, err := svc.Generate(context.Background(), "office", 0, []string{"10.0.0.5"})
	require.NoError(t, err)

	handler := svc.RequireKey(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("X-API-Key", generated.Plaintext)
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireKeyPutsRecordOnContext(t *testing.T) {
	t.Parallel()

	keys := newFakeKeyStore()
	svc := newTestService(keys)
	generated, err := svc.Generate(context.Background(), "ci-bot", 0, nil)
	require.NoError(t, err)

	var seen store.APIKey
	var ok bool
	handler := svc.RequireKey(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = KeyFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set("X-API-Key", generated.Plaintext)
	req.RemoteAddr = "203.0.113.9:51234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ok)
	require.Equal(t, generated.Record.ID, seen.ID)
}

func TestSourceIPPrefersForwardedFor(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:9000"
	require.Equal(t, "10.1.2.3", SourceIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	require.Equal(t, "198.51.100.7", SourceIP(req))
}
