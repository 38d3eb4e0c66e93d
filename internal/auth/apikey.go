package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/dispatch/pkg/orgs"
)

// APIKeyAuthenticator validates API keys against the organizations/api_keys tables.
type APIKeyAuthenticator struct {
	service *orgs.Service
}

// NewAPIKeyAuthenticator creates an APIKeyAuthenticator backed by pool.
func NewAPIKeyAuthenticator(pool *pgxpool.Pool, logger *slog.Logger) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{service: orgs.NewService(pool, logger)}
}

// Authenticate verifies a raw `sk_...` API key and resolves the caller's identity.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, rawKey string) (*Identity, error) {
	if rawKey == "" {
		return nil, fmt.Errorf("empty API key")
	}

	key, ok, err := a.service.VerifyAPIKey(ctx, rawKey)
	if err != nil {
		return nil, fmt.Errorf("verifying API key: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("invalid or expired API key")
	}

	return &Identity{
		APIKeyID:       key.ID,
		OrganizationID: key.OrganizationID,
		KeyPrefix:      key.KeyPrefix,
	}, nil
}
