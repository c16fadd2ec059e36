package middleware

import (
	"context"

	"github.com/google/uuid"
)

// identity is what Auth learned about the caller.
type identity struct {
	userID string
	role   string
}

type identityKey struct{}

func identityFrom(ctx context.Context) identity {
	if ctx == nil {
		return identity{}
	}
	id, _ := ctx.Value(identityKey{}).(identity)
	return id
}

func withIdentity(ctx context.Context, update func(*identity)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	id := identityFrom(ctx)
	update(&id)
	return context.WithValue(ctx, identityKey{}, id)
}

func UserIDFromContext(ctx context.Context) string {
	return identityFrom(ctx).userID
}

func RoleFromContext(ctx context.Context) string {
	return identityFrom(ctx).role
}

// BuyerIDFromContext parses the authenticated user id. ok is false when the
// request carries no usable identity.
func BuyerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return withIdentity(ctx, func(id *identity) { id.userID = userID })
}

func WithRole(ctx context.Context, role string) context.Context {
	return withIdentity(ctx, func(id *identity) { id.role = role })
}
