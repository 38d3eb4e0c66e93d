package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/wisbric/dispatch/internal/httpserver"
)

// Middleware authenticates the caller via `Authorization: Bearer sk_...`
// (spec §6) and stores the resolved Identity in the request context.
// Missing or invalid credentials are rejected with 401 (Unauthenticated,
// spec §7).
func Middleware(apikeyAuth *APIKeyAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing API key")
				return
			}
			rawKey := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			identity, err := apikeyAuth.Authenticate(r.Context(), rawKey)
			if err != nil {
				logger.Warn("api key authentication failed", "error", err)
				httpserver.RespondError(w, http.StatusUnauthorized, "unauthenticated", "invalid API key")
				return
			}

			ctx := NewContext(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
