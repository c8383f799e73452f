package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/creativecanvas/canvasd/internal/api"
	"github.com/creativecanvas/canvasd/internal/platform/logutil"
	"github.com/creativecanvas/canvasd/internal/store"
)

type contextKey string

const userContextKey contextKey = "user"

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userContextKey).(*store.User)
	return user, ok
}

// WithUser returns a context carrying the authenticated user.
// Exported for handler tests.
func WithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GateConfig configures the bearer-token auth gate middleware.
type GateConfig struct {
	// RequireAuth returns true if the given path requires authentication.
	// Constructed by the server at router setup time.
	RequireAuth func(path string) bool

	// Issuer verifies presented access tokens.
	Issuer *Issuer

	// Users resolves token subjects to user records.
	Users store.UserStore

	// Log is the base logger for auth-related warnings.
	Log *slog.Logger
}

// NewGate returns a middleware that enforces bearer-token authentication.
// If RequireAuth returns false for the request path, the request passes
// through without token parsing or context enrichment.
func NewGate(cfg GateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tokenString := BearerToken(r)
			if tokenString == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}

			claims, err := cfg.Issuer.Verify(tokenString, TokenTypeAccess)
			if err != nil {
				reason := api.ReasonTokenInvalid
				if errors.Is(err, ErrTokenExpired) {
					reason = api.ReasonTokenExpired
				}
				cfg.Log.Warn("rejected bearer token", "path", r.URL.Path, "error", err)
				api.WriteUnauthorized(w, reason, "could not validate credentials")
				return
			}

			user, err := cfg.Users.GetUserByEmail(r.Context(), claims.Subject)
			if err != nil {
				api.WriteUnauthorized(w, api.ReasonTokenInvalid, "could not validate credentials")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
