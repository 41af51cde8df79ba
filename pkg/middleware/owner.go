package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const ownerContextKey contextKey = "owner_id"

// OwnerHeader carries the caller's user id, set by the identity gateway
const OwnerHeader = "X-User-ID"

// Owner injects the owner id from OwnerHeader into the request context.
// Paths in skip pass through without an owner.
func Owner(skip ...string) func(http.Handler) http.Handler {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipped[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			ownerID := r.Header.Get(OwnerHeader)
			if ownerID == "" {
				http.Error(w, "Owner identity required", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), ownerID)))
		})
	}
}

// WithOwner returns ctx carrying ownerID
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerContextKey, ownerID)
}

// OwnerID extracts the owner id from request context
func OwnerID(r *http.Request) string {
	if id, ok := r.Context().Value(ownerContextKey).(string); ok {
		return id
	}
	return ""
}
