package orgs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for organizations and API keys.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateOrganization inserts a new organization.
func (s *Store) CreateOrganization(ctx context.Context, name string) (Organization, error) {
	var org Organization
	row := s.pool.QueryRow(ctx,
		`INSERT INTO organizations (id, name) VALUES ($1, $2) RETURNING id, name, created_at`,
		uuid.New(), name,
	)
	err := row.Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err != nil {
		return Organization{}, fmt.Errorf("creating organization: %w", err)
	}
	return org, nil
}

// GetOrganization loads an organization by id.
func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (Organization, error) {
	var org Organization
	row := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM organizations WHERE id = $1`, id)
	if err := row.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
		return Organization{}, fmt.Errorf("loading organization: %w", err)
	}
	return org, nil
}

const apiKeyColumns = `id, organization_id, key_hash, key_prefix, description, rate_limit, expires_at, revoked_at, created_at`

func scanAPIKey(row pgx.Row) (ApiKey, error) {
	var k ApiKey
	var expiresAt, revokedAt pgtype.Timestamptz
	err := row.Scan(&k.ID, &k.OrganizationID, &k.KeyHash, &k.KeyPrefix, &k.Description,
		&k.RateLimit, &expiresAt, &revokedAt, &k.CreatedAt)
	if err != nil {
		return ApiKey{}, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	return k, nil
}

// CreateParams holds parameters for creating an API key.
type CreateParams struct {
	OrganizationID uuid.UUID
	KeyHash        string
	KeyPrefix      string
	Description    string
	RateLimit      int
	ExpiresAt      *pgtype.Timestamptz
}

// CreateAPIKey inserts a new API key and returns the created row.
func (s *Store) CreateAPIKey(ctx context.Context, p CreateParams) (ApiKey, error) {
	var expires pgtype.Timestamptz
	if p.ExpiresAt != nil {
		expires = *p.ExpiresAt
	}

	query := `INSERT INTO api_keys (id, organization_id, key_hash, key_prefix, description, rate_limit, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ` + apiKeyColumns

	row := s.pool.QueryRow(ctx, query, uuid.New(), p.OrganizationID, p.KeyHash, p.KeyPrefix, p.Description, p.RateLimit, expires)
	return scanAPIKey(row)
}

// ListByPrefix returns all non-deleted API keys matching the given lookup
// prefix — the O(1) candidate set from which the caller bcrypt-verifies
// (spec §3: "only the prefix is indexed for O(1) candidate lookup").
func (s *Store) ListByPrefix(ctx context.Context, prefix string) ([]ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_prefix = $1`
	rows, err := s.pool.Query(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing api keys by prefix: %w", err)
	}
	defer rows.Close()

	var out []ApiKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// ListByOrganization returns all API keys (including revoked, for audit) owned by org.
func (s *Store) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]ApiKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE organization_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var out []ApiKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Revoke marks an API key revoked without deleting it (spec §3: "revoked
// keys remain indexed for audit").
func (s *Store) Revoke(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
