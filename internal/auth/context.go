package auth

import (
	"context"

	"plazaviva.org/internal/identity"
)

type userContextKey struct{}

// ContextWithUser attaches the authenticated user to the context.
func ContextWithUser(ctx context.Context, user identity.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, &user)
}

// UserFromContext extracts the authenticated user from the context.
func UserFromContext(ctx context.Context) (identity.User, bool) {
	if ctx == nil {
		return identity.User{}, false
	}
	v, ok := ctx.Value(userContextKey{}).(*identity.User)
	if !ok || v == nil {
		return identity.User{}, false
	}
	return *v, true
}
