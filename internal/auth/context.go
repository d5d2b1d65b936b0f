// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithUser/UserFromContext for propagating the caller's name via context

package auth

import (
	"context"
)

// userKey is the key type for storing the user name in context.Context.
type userKey struct{}

// WithUser returns a new context carrying the authenticated user name.
func WithUser(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, userKey{}, name)
}

// UserFromContext returns the authenticated user name, or "" if the request
// was not authenticated.
func UserFromContext(ctx context.Context) string {
	name, _ := ctx.Value(userKey{}).(string)
	return name
}
