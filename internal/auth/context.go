package auth

import (
	"context"

	"github.com/dukerupert/sharepool/internal/model"
)

type contextKey struct{}

// Identity is the resolved caller of a request.
type Identity struct {
	AccountID int64
	Role      string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func AccountID(ctx context.Context) int64 {
	id, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return id.AccountID
}

func IsAdmin(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return id.Role == model.RoleAdmin
}
