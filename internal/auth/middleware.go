package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/pedrolm/mapscout/internal/metrics"
	"github.com/pedrolm/mapscout/internal/store"
)

type keyContextKey struct{}

// KeyFromContext returns the authenticated key record stored by
// RequireKey, if any.
func KeyFromContext(ctx context.Context) (store.APIKey, bool) {
	key, ok := ctx.Value(keyContextKey{}).(store.APIKey)
	return key, ok
}

// RequireKey is chi middleware that authenticates the X-API-Key header
// and rejects with 401 or 403. The key record is placed on the request
// context for downstream handlers.
func (s *Service) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := s.Authenticate(r.Context(), r.Header.Get("X-API-Key"), SourceIP(r))
		if err != nil {
			switch {
			case errors.Is(err, store.ErrForbidden):
				metrics.ObserveAuthFailure("forbidden")
				writeAuthError(w, http.StatusForbidden, "ip not allowed")
			case errors.Is(err, store.ErrUnauthorized):
				metrics.ObserveAuthFailure("unauthorized")
				writeAuthError(w, http.StatusUnauthorized, "invalid or missing api key")
			default:
				metrics.ObserveAuthFailure("store_error")
				writeAuthError(w, http.StatusInternalServerError, "authentication unavailable")
			}
			return
		}
		ctx := context.WithValue(r.Context(), keyContextKey{}, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// SourceIP resolves the caller address, honoring the first hop of
// X-Forwarded-For when present.
func SourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
