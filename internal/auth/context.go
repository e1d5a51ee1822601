// ABOUTME: Authenticated user ID propagation through request contexts
// ABOUTME: Provides WithUserID/UserIDFromContext for handlers

package auth

import (
	"context"
)

// userIDKey is the key type for storing the user ID in context.Context.
type userIDKey struct{}

// WithUserID returns a new context with the authenticated user ID attached.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user ID, returning ""
// if the request was not authenticated.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
