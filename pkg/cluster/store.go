package cluster

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// Store provides database operations for clusters.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const clusterColumns = `id, organization_id, name, status, last_heartbeat, relayer_version, secret_hash, capabilities, created_at`

func scanCluster(row pgx.Row) (Cluster, error) {
	var c Cluster
	var lastHeartbeat pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Status, &lastHeartbeat,
		&c.RelayerVersion, &c.SecretHash, &c.Capabilities, &c.CreatedAt)
	if err != nil {
		return Cluster{}, err
	}
	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		c.LastHeartbeat = &t
	}
	return c, nil
}

// RegisterParams holds parameters for registering a new cluster (C9 §4.8,
// `RegisterCluster` RPC).
type RegisterParams struct {
	OrganizationID uuid.UUID
	Name           string
	RelayerVersion string
	SecretHash     string
	Capabilities   jsonvalue.Value
}

// Register inserts a new cluster in PENDING status. If `(organizationId,
// name)` already exists (spec §3 uniqueness) it keeps that row's id and
// status, overwrites its relayer version, secret hash and capabilities, and
// returns it — reconnecting relayers re-register with the same name.
func (s *Store) Register(ctx context.Context, p RegisterParams) (Cluster, error) {
	query := `INSERT INTO clusters (id, organization_id, name, status, relayer_version, secret_hash, capabilities)
	VALUES ($1, $2, $3, 'PENDING', $4, $5, $6)
	ON CONFLICT (organization_id, name) DO UPDATE SET
		relayer_version = EXCLUDED.relayer_version,
		secret_hash = EXCLUDED.secret_hash,
		capabilities = EXCLUDED.capabilities
	RETURNING ` + clusterColumns

	row := s.pool.QueryRow(ctx, query, uuid.New(), p.OrganizationID, p.Name, p.RelayerVersion, p.SecretHash, p.Capabilities)
	c, err := scanCluster(row)
	if err != nil {
		return Cluster{}, fmt.Errorf("registering cluster: %w", err)
	}
	return c, nil
}

// Get loads a cluster by id, scoped to organizationID.
func (s *Store) Get(ctx context.Context, organizationID, id uuid.UUID) (Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM clusters WHERE id = $1 AND organization_id = $2`
	row := s.pool.QueryRow(ctx, query, id, organizationID)
	c, err := scanCluster(row)
	if err != nil {
		return Cluster{}, fmt.Errorf("loading cluster: %w", err)
	}
	return c, nil
}

// ListEligibleClusters returns all ACTIVE clusters of the organization —
// the input to the C5 selector's filter step (spec §4.3 step 1).
func (s *Store) ListEligibleClusters(ctx context.Context, organizationID uuid.UUID) ([]Cluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM clusters WHERE organization_id = $1 AND status = 'ACTIVE'`
	rows, err := s.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("listing eligible clusters: %w", err)
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cluster: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkActive sets status ACTIVE and refreshes last_heartbeat (spec §4.8
// step 2: "mark cluster ACTIVE (C2)" when a stream registers).
func (s *Store) MarkActive(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE clusters SET status = 'ACTIVE', last_heartbeat = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking cluster active: %w", err)
	}
	return nil
}

// TouchHeartbeat refreshes last_heartbeat without altering status — the
// async-best-effort DB touch on inbound heartbeat frames (spec §4.8 step 4).
func (s *Store) TouchHeartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE clusters SET last_heartbeat = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching cluster heartbeat: %w", err)
	}
	return nil
}

// MarkStale sets status FAILED without touching last_heartbeat (spec §4.8
// step 5: "mark cluster as stale (lastHeartbeat untouched, reaper-driven)").
func (s *Store) MarkStale(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE clusters SET status = 'FAILED' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking cluster stale: %w", err)
	}
	return nil
}
