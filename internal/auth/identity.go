// Package auth authenticates callers of the public HTTP surface against
// the ApiKey data model (spec §3, §6).
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the resolved caller identity attached to the request context.
type Identity struct {
	APIKeyID       uuid.UUID
	OrganizationID uuid.UUID
	KeyPrefix      string
}

type contextKey struct{}

var identityKey = contextKey{}

// NewContext returns a context carrying identity.
func NewContext(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext returns the Identity stored in ctx, or nil if none.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
