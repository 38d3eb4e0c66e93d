package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// Store provides database operations for agents and their per-cluster
// provisioning status.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const agentColumns = `id, organization_id, name, image, resources, retry_policy, use_agent_sandbox, warm_pool_size, network_policy, environment_variables, config_hash, status, registration_report, created_at, updated_at`

func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.OrganizationID, &a.Name, &a.Image, &a.Resources, &a.RetryPolicy,
		&a.UseAgentSandbox, &a.WarmPoolSize, &a.NetworkPolicy, &a.EnvironmentVariables,
		&a.ConfigHash, &a.Status, &a.RegistrationReport, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Agent{}, err
	}
	return a, nil
}

// UpsertResult reports whether UpsertAgent created, updated, or left the
// row unchanged (spec §4.1, §4.7 step 2).
type UpsertResult string

const (
	UpsertCreated   UpsertResult = "created"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
)

// UpsertParams holds the fields needed to upsert an agent.
type UpsertParams struct {
	OrganizationID       uuid.UUID
	Name                 string
	Image                string
	Resources            jsonvalue.Value
	RetryPolicy          jsonvalue.Value
	UseAgentSandbox      bool
	WarmPoolSize         int
	NetworkPolicy        string
	EnvironmentVariables jsonvalue.Value
	ConfigHash           string
}

// UpsertAgent inserts or updates an agent row keyed on `(organizationId,
// name)`, comparing configHash to decide {created, updated, unchanged}
// (spec §3, §4.1). On `unchanged`, the caller must not emit downstream
// side effects (spec §4.1: "on unchanged no side effects are emitted").
func (s *Store) UpsertAgent(ctx context.Context, p UpsertParams) (Agent, UpsertResult, error) {
	existing, err := s.loadByName(ctx, p.OrganizationID, p.Name)
	if err != nil && err != pgx.ErrNoRows {
		return Agent{}, "", fmt.Errorf("loading existing agent: %w", err)
	}

	if err == pgx.ErrNoRows {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO agents (id, organization_id, name, image, resources, retry_policy,
				use_agent_sandbox, warm_pool_size, network_policy, environment_variables,
				config_hash, status, registration_report, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'PENDING', $12, now(), now())
			RETURNING `+agentColumns,
			uuid.New(), p.OrganizationID, p.Name, p.Image, p.Resources, p.RetryPolicy,
			p.UseAgentSandbox, p.WarmPoolSize, p.NetworkPolicy, p.EnvironmentVariables,
			p.ConfigHash, jsonvalue.Object(),
		)
		created, err := scanAgent(row)
		if err != nil {
			return Agent{}, "", fmt.Errorf("creating agent: %w", err)
		}
		return created, UpsertCreated, nil
	}

	if existing.ConfigHash == p.ConfigHash {
		return existing, UpsertUnchanged, nil
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE agents SET image = $1, resources = $2, retry_policy = $3, use_agent_sandbox = $4,
			warm_pool_size = $5, network_policy = $6, environment_variables = $7,
			config_hash = $8, status = 'PENDING', updated_at = now()
		WHERE id = $9
		RETURNING `+agentColumns,
		p.Image, p.Resources, p.RetryPolicy, p.UseAgentSandbox, p.WarmPoolSize,
		p.NetworkPolicy, p.EnvironmentVariables, p.ConfigHash, existing.ID,
	)
	updated, err := scanAgent(row)
	if err != nil {
		return Agent{}, "", fmt.Errorf("updating agent: %w", err)
	}
	return updated, UpsertUpdated, nil
}

func (s *Store) loadByName(ctx context.Context, organizationID uuid.UUID, name string) (Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE organization_id = $1 AND name = $2`,
		organizationID, name)
	return scanAgent(row)
}

// LoadAgent loads an agent by id or name within an organization (spec §4.1
// `LoadAgent(org, nameOrId)`).
func (s *Store) LoadAgent(ctx context.Context, organizationID uuid.UUID, nameOrID string) (Agent, error) {
	if id, err := uuid.Parse(nameOrID); err == nil {
		row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE organization_id = $1 AND id = $2`,
			organizationID, id)
		a, err := scanAgent(row)
		if err != nil {
			return Agent{}, fmt.Errorf("loading agent by id: %w", err)
		}
		return a, nil
	}

	a, err := s.loadByName(ctx, organizationID, nameOrID)
	if err != nil {
		return Agent{}, fmt.Errorf("loading agent by name: %w", err)
	}
	return a, nil
}

// ListAgents returns agents in an organization, optionally filtered by name.
func (s *Store) ListAgents(ctx context.Context, organizationID uuid.UUID, name string) ([]Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE organization_id = $1`
	args := []any{organizationID}
	if name != "" {
		query += ` AND name = $2`
		args = append(args, name)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateStatus persists the aggregate Agent.status (spec §4.7 step 5).
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := s.pool.Exec(ctx, `UPDATE agents SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	return nil
}

// UpsertAgentClusterStatus inserts or updates the per-cluster provisioning
// row, keyed on `(agentId, clusterId)` (spec §3, §4.7 steps 4-5).
func (s *Store) UpsertAgentClusterStatus(ctx context.Context, st AgentClusterStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_cluster_status (agent_id, cluster_id, status, error, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (agent_id, cluster_id) DO UPDATE SET
			status = EXCLUDED.status, error = EXCLUDED.error, updated_at = now()
	`, st.AgentID, st.ClusterID, st.Status, st.Error)
	if err != nil {
		return fmt.Errorf("upserting agent cluster status: %w", err)
	}
	return nil
}

// ListClusterStatuses returns all per-cluster status rows for an agent —
// the input to the §3 aggregation rule.
func (s *Store) ListClusterStatuses(ctx context.Context, agentID uuid.UUID) ([]AgentClusterStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, cluster_id, status, error, updated_at FROM agent_cluster_status WHERE agent_id = $1`,
		agentID)
	if err != nil {
		return nil, fmt.Errorf("listing agent cluster statuses: %w", err)
	}
	defer rows.Close()

	var out []AgentClusterStatus
	for rows.Next() {
		var st AgentClusterStatus
		if err := rows.Scan(&st.AgentID, &st.ClusterID, &st.Status, &st.Error, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent cluster status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
