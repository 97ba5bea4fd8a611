package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// Authenticator resolves an API key to the principal it belongs to.
type Authenticator interface {
	Authenticate(apiKey string) (core.Principal, error)
}

// APIKeyAuth returns middleware that resolves the X-API-Key header to a
// principal and stores it in the request context.
//
// When required is false a request without a key passes through with no
// principal, and the importer acts as the system principal. A key that is
// present is always validated.
func APIKeyAuth(auth Authenticator, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(APIKeyHeader)
			if apiKey == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			if auth == nil {
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			principal, err := auth.Authenticate(apiKey)
			if err != nil {
				slog.Warn("auth: rejected API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				code := "AUTH_INVALID_KEY"
				if !errors.Is(err, core.ErrPermissionDenied) {
					code = "AUTH_ERROR"
				}
				writeAuthError(w, http.StatusForbidden, "invalid API key", code)
				return
			}

			notePrincipal(r.Context(), principal.ID)
			ctx := core.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
