// ABOUTME: Authentication middleware for the plugin API.
// ABOUTME: Parses Bearer tokens and puts the acting user into the request context.

package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	apierrors "github.com/egidijus/funkwhale/internal/errors"
)

type contextKey string

const userContextKey contextKey = "user"

// Middleware resolves the user from "Authorization: Bearer user:<name>".
// Requests without a usable token are anonymous.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := extractUser(r.Header.Get("Authorization"))
		ctx := WithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == "" {
			apierrors.WriteError(w, http.StatusUnauthorized, apierrors.ErrUnauthorized, "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and users outside
// admins with 403.
func RequireAdmin(admins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			switch {
			case user == "":
				apierrors.WriteError(w, http.StatusUnauthorized, apierrors.ErrUnauthorized, "Authentication required")
			case !slices.Contains(admins, user):
				apierrors.WriteError(w, http.StatusForbidden, apierrors.ErrForbidden, "Pod administrator access required")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the acting user, or "" when anonymous.
func UserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userContextKey).(string)
	return user
}

func extractUser(authHeader string) string {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		return ""
	}
	name, ok := strings.CutPrefix(strings.TrimSpace(token), "user:")
	if !ok {
		return ""
	}
	return strings.TrimSpace(name)
}
