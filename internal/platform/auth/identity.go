package auth

import (
	"context"
	"strings"
)

// Role constants used throughout the API when checking authorisation boundaries.
const (
	RoleFarmer   = "farmer"
	RoleBuyer    = "buyer"
	RoleExporter = "exporter"
	RoleAdmin    = "admin"
)

// Identity captures the authenticated principal details loaded for the current request.
type Identity struct {
	ID                 string
	Email              string
	Role               string
	IsVerified         bool
	IsExporterApproved bool
	IsActive           bool
}

// HasRole reports whether the identity carries the requested role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && strings.EqualFold(i.Role, role)
}

// HasAnyRole reports whether the identity carries any of the provided roles.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity is an administrator.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin)
}

type contextKey string

const (
	identityContextKey contextKey = "github.com/agrilink/api/internal/platform/auth/identity"
	resourceContextKey contextKey = "github.com/agrilink/api/internal/platform/auth/resource"
)

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// OwnedResource exposes the owner of a protected resource for ownership checks.
type OwnedResource interface {
	ResourceOwnerID() string
}

// WithResource stores a fetched resource so handlers avoid a second lookup.
func WithResource(ctx context.Context, resource OwnedResource) context.Context {
	return context.WithValue(ctx, resourceContextKey, resource)
}

// ResourceFromContext retrieves the resource attached by the ownership middleware.
func ResourceFromContext(ctx context.Context) (OwnedResource, bool) {
	resource, ok := ctx.Value(resourceContextKey).(OwnedResource)
	if !ok || resource == nil {
		return nil, false
	}
	return resource, true
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
