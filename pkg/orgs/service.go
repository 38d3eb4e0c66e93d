package orgs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/dispatch/pkg/crypto"
)

// Service encapsulates organization and API-key business logic.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a Service backed by the given pool.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{store: NewStore(pool), logger: logger}
}

// List returns all API keys for the given organization.
func (s *Service) List(ctx context.Context, orgID uuid.UUID) ([]APIKeyResponse, error) {
	rows, err := s.store.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	items := make([]APIKeyResponse, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.ToResponse())
	}
	return items, nil
}

// CreateAPIKey generates a new key, stores its bcrypt hash, and returns the
// raw key once (spec §3, §6).
func (s *Service) CreateAPIKey(ctx context.Context, orgID uuid.UUID, req CreateAPIKeyRequest) (CreateAPIKeyResponse, error) {
	generated, err := crypto.GenerateAPIKey()
	if err != nil {
		return CreateAPIKeyResponse{}, fmt.Errorf("generating api key: %w", err)
	}

	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = 600
	}

	var expires *pgtype.Timestamptz
	if req.ExpiresAt != nil {
		expires = &pgtype.Timestamptz{Time: *req.ExpiresAt, Valid: true}
	}

	row, err := s.store.CreateAPIKey(ctx, CreateParams{
		OrganizationID: orgID,
		KeyHash:        generated.Hash,
		KeyPrefix:      generated.Prefix,
		Description:    req.Description,
		RateLimit:      rateLimit,
		ExpiresAt:      expires,
	})
	if err != nil {
		return CreateAPIKeyResponse{}, fmt.Errorf("creating api key: %w", err)
	}

	return CreateAPIKeyResponse{
		APIKeyResponse: row.ToResponse(),
		RawKey:         generated.Raw,
	}, nil
}

// Revoke revokes an API key.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID) error {
	if err := s.store.Revoke(ctx, id); err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}

// VerifyAPIKey resolves a raw `sk_...` key to its owning ApiKey by taking
// the O(1) prefix candidate set and bcrypt-verifying each candidate in
// constant time (spec §3). Returns false if no live, unexpired candidate
// verifies.
func (s *Service) VerifyAPIKey(ctx context.Context, raw string) (ApiKey, bool, error) {
	if err := crypto.ValidateAPIKeyShape(raw); err != nil {
		return ApiKey{}, false, nil
	}

	prefix := crypto.KeyPrefix(raw)
	candidates, err := s.store.ListByPrefix(ctx, prefix)
	if err != nil {
		return ApiKey{}, false, fmt.Errorf("looking up api key candidates: %w", err)
	}

	now := time.Now()
	for _, candidate := range candidates {
		if candidate.Revoked() || candidate.Expired(now) {
			continue
		}
		if crypto.VerifySecret(candidate.KeyHash, raw) {
			return candidate, true, nil
		}
	}

	return ApiKey{}, false, nil
}
