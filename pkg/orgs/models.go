// Package orgs implements the Organization and ApiKey portion of the data
// model (spec §3). Organization is the tenant root that every other
// resource (Cluster, Agent, Execution) carries as organizationId; ApiKey
// identifies a caller of the HTTP surface.
package orgs

import (
	"time"

	"github.com/google/uuid"
)

// Organization is the tenant root.
type Organization struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// ApiKey identifies a caller of the HTTP surface (spec §3).
//
// Invariant: two live (non-revoked) keys never share a KeyHash; revoked
// keys remain indexed for audit rather than deleted.
type ApiKey struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	KeyHash        string
	KeyPrefix      string
	Description    string
	RateLimit      int
	ExpiresAt      *time.Time
	RevokedAt      *time.Time
	CreatedAt      time.Time
}

// Expired reports whether the key is past its ExpiresAt.
func (k ApiKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// Revoked reports whether the key has been revoked.
func (k ApiKey) Revoked() bool {
	return k.RevokedAt != nil
}

// CreateAPIKeyRequest is the input to Service.CreateAPIKey.
type CreateAPIKeyRequest struct {
	Description string
	RateLimit   int
	ExpiresAt   *time.Time
}

// APIKeyResponse is the JSON-safe projection of an ApiKey (never exposes KeyHash).
type APIKeyResponse struct {
	ID          uuid.UUID  `json:"id"`
	KeyPrefix   string     `json:"key_prefix"`
	Description string     `json:"description"`
	RateLimit   int        `json:"rate_limit"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ToResponse projects an ApiKey to its JSON-safe form.
func (k ApiKey) ToResponse() APIKeyResponse {
	return APIKeyResponse{
		ID:          k.ID,
		KeyPrefix:   k.KeyPrefix,
		Description: k.Description,
		RateLimit:   k.RateLimit,
		ExpiresAt:   k.ExpiresAt,
		RevokedAt:   k.RevokedAt,
		CreatedAt:   k.CreatedAt,
	}
}

// CreateAPIKeyResponse includes the raw key, shown exactly once at creation.
type CreateAPIKeyResponse struct {
	APIKeyResponse
	RawKey string `json:"raw_key"`
}
