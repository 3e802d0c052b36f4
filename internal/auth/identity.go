package auth

import (
	"context"

	"github.com/tm-acme-shop/acme-shop-storefront/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID primitive.ObjectID
	Role   models.Role
}

// System is the identity used for work that does not originate from a user,
// such as payment gateway events.
func System() Identity {
	return Identity{Role: models.RoleAdmin}
}

func IdentityOf(u *models.User) Identity {
	return Identity{UserID: u.ID, Role: u.Role}
}

func (i Identity) IsAdmin() bool {
	return i.Role == models.RoleAdmin
}

// CanAccess reports whether the caller owns the resource or is an admin.
func (i Identity) CanAccess(owner primitive.ObjectID) bool {
	return i.IsAdmin() || (!i.UserID.IsZero() && i.UserID == owner)
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity attached by the authentication
// middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
