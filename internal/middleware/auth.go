// Package middleware contains HTTP middleware for the ticketd API.
//
// Middleware functions follow the standard Go pattern of wrapping
// http.Handler and are composed with Stack.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

// UserIDHeader carries the authenticated account id, set by the deployment's
// auth proxy. ticketd never sees credentials; this service sits behind the
// gateway that does.
const UserIDHeader = "X-User-ID"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey contextKey = "user_id"

// GetUserID retrieves the authenticated user id from the request context.
// The second return is false when the request carried no valid identity.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userContextKey).(uuid.UUID)
	return id, ok
}

// setUserID stores the user id in the request context.
func setUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userContextKey, id)
}

// =============================================================================
// Identity Middleware
// =============================================================================

// IdentityMiddleware resolves the calling account from the gateway-set
// identity header.
type IdentityMiddleware struct {
	logger *slog.Logger
}

// NewIdentityMiddleware creates a new identity middleware.
func NewIdentityMiddleware(logger *slog.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{logger: logger}
}

// WithUser parses the identity header into the request context when present.
// Requests without it pass through unauthenticated; pair with RequireUser on
// routes that need an account.
func (m *IdentityMiddleware) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			m.logger.Warn("malformed identity header", "path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(setUserID(r.Context(), id)))
	})
}

// RequireUser rejects requests that reached the handler without an identity.
func (m *IdentityMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetUserID(r.Context()); !ok {
			m.logger.Info("unauthenticated request rejected", "path", r.URL.Path, "method", r.Method)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"Authentication required"}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Middleware Composition
// =============================================================================

// Stack combines multiple middleware into a single middleware function.
//
// Middleware is applied in the order provided: the first middleware in the
// slice is the outermost (runs first on request, last on response).
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
