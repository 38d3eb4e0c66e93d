package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// Store provides database operations for executions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ErrCASFailed is returned when an optimistic CAS update finds the row not
// in one of the expected prior statuses (spec §4.1).
var ErrCASFailed = errors.New("execution: compare-and-swap failed, status already advanced")

const executionColumns = `id, agent_id, organization_id, cluster_id, status, input, priority, attempt, max_attempts, queued_at, started_at, completed_at, duration_ms, result, resource_usage, error, next_retry_at, created_at`

func scanExecution(row pgx.Row) (Execution, error) {
	var e Execution
	var clusterID pgtype.UUID
	var queuedAt, startedAt, completedAt, nextRetryAt pgtype.Timestamptz
	var durationMs pgtype.Int8

	err := row.Scan(&e.ID, &e.AgentID, &e.OrganizationID, &clusterID, &e.Status, &e.Input,
		&e.Priority, &e.Attempt, &e.MaxAttempts, &queuedAt, &startedAt, &completedAt,
		&durationMs, &e.Result, &e.ResourceUsage, &e.Error, &nextRetryAt, &e.CreatedAt)
	if err != nil {
		return Execution{}, err
	}

	if clusterID.Valid {
		id := uuid.UUID(clusterID.Bytes)
		e.ClusterID = &id
	}
	if queuedAt.Valid {
		t := queuedAt.Time
		e.QueuedAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		e.NextRetryAt = &t
	}
	if durationMs.Valid {
		e.DurationMs = &durationMs.Int64
	}
	return e, nil
}

// CreateParams holds the fields needed to idempotently create an execution.
type CreateParams struct {
	ID             uuid.UUID
	AgentID        uuid.UUID
	OrganizationID uuid.UUID
	Input          jsonvalue.Value
	Priority       Priority
	MaxAttempts    int
}

// CreateExecution idempotently inserts an execution row in PENDING status.
// Replaying the same id returns the existing row rather than creating a
// second one (spec §8: "replaying execution.requested with the same
// executionId does not create a second row").
func (s *Store) CreateExecution(ctx context.Context, p CreateParams) (Execution, error) {
	priority := p.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO executions (id, agent_id, organization_id, status, input, priority,
			attempt, max_attempts, result, resource_usage, created_at)
		VALUES ($1, $2, $3, 'PENDING', $4, $5, 1, $6, $7, $7, now())
		ON CONFLICT (id) DO UPDATE SET id = executions.id
		RETURNING `+executionColumns,
		p.ID, p.AgentID, p.OrganizationID, p.Input, priority, maxAttempts, jsonvalue.Null(),
	)
	e, err := scanExecution(row)
	if err != nil {
		return Execution{}, fmt.Errorf("creating execution: %w", err)
	}
	return e, nil
}

// Get loads an execution by id, scoped to organizationID (ownership is
// enforced by filtering on the execution's own organization_id).
func (s *Store) Get(ctx context.Context, organizationID, id uuid.UUID) (Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1 AND organization_id = $2`,
		id, organizationID)
	e, err := scanExecution(row)
	if err != nil {
		return Execution{}, fmt.Errorf("loading execution: %w", err)
	}
	return e, nil
}

// GetByID loads an execution by id without organization scoping, for
// internal callers that already trust the id (the retry dispatcher reading
// its own workflow_events payload).
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	e, err := scanExecution(row)
	if err != nil {
		return Execution{}, fmt.Errorf("loading execution: %w", err)
	}
	return e, nil
}

// SetCluster persists the selected clusterId (spec §4.6 step 3).
func (s *Store) SetCluster(ctx context.Context, id, clusterID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE executions SET cluster_id = $1 WHERE id = $2`, clusterID, id)
	if err != nil {
		return fmt.Errorf("setting execution cluster: %w", err)
	}
	return nil
}

// TransitionToQueued CASes PENDING → QUEUED, setting queuedAt (spec §4.6 step 4).
func (s *Store) TransitionToQueued(ctx context.Context, id uuid.UUID) (Execution, error) {
	return s.cas(ctx, id, []Status{StatusPending}, `
		UPDATE executions SET status = 'QUEUED', queued_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+executionColumns)
}

// TransitionToRunning CASes QUEUED → RUNNING, setting startedAt. Written
// opportunistically off an inbound execution_status{status: RUNNING} frame;
// C7's workflow does not wait on this transition (spec §6 resolution 2).
func (s *Store) TransitionToRunning(ctx context.Context, id uuid.UUID) (Execution, error) {
	return s.cas(ctx, id, []Status{StatusQueued}, `
		UPDATE executions SET status = 'RUNNING', started_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+executionColumns)
}

// TransitionToCompleted CASes QUEUED|RUNNING → COMPLETED, storing the
// result (spec §4.6 step 6).
func (s *Store) TransitionToCompleted(ctx context.Context, id uuid.UUID, result, resourceUsage jsonvalue.Value, durationMs int64) (Execution, error) {
	fromStatuses := []Status{StatusQueued, StatusRunning}
	args := []any{id, statusArray(fromStatuses), result, resourceUsage, durationMs}
	row := s.pool.QueryRow(ctx, `
		UPDATE executions SET status = 'COMPLETED', result = $3, resource_usage = $4,
			duration_ms = $5, completed_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+executionColumns, args...)
	e, err := scanExecution(row)
	if err == pgx.ErrNoRows {
		return Execution{}, ErrCASFailed
	}
	if err != nil {
		return Execution{}, fmt.Errorf("transitioning execution to completed: %w", err)
	}
	return e, nil
}

// TransitionToFailed CASes fromStatuses → FAILED with the given error
// message (spec §4.6 step 7, and the retry workflow's terminal write).
func (s *Store) TransitionToFailed(ctx context.Context, id uuid.UUID, fromStatuses []Status, errMsg string) (Execution, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE executions SET status = 'FAILED', error = $3, completed_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+executionColumns, id, statusArray(fromStatuses), errMsg)
	e, err := scanExecution(row)
	if err == pgx.ErrNoRows {
		return Execution{}, ErrCASFailed
	}
	if err != nil {
		return Execution{}, fmt.Errorf("transitioning execution to failed: %w", err)
	}
	return e, nil
}

// ResetForRetry CASes FAILED → PENDING, bumping attempt and setting
// nextRetryAt (spec §4.6 retry workflow).
func (s *Store) ResetForRetry(ctx context.Context, id uuid.UUID, nextAttempt int, nextRetryAt pgtype.Timestamptz) (Execution, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE executions SET status = 'PENDING', attempt = $2, next_retry_at = $3,
			cluster_id = NULL, queued_at = NULL, started_at = NULL, completed_at = NULL, error = ''
		WHERE id = $1 AND status = 'FAILED'
		RETURNING `+executionColumns, id, nextAttempt, nextRetryAt)
	e, err := scanExecution(row)
	if err == pgx.ErrNoRows {
		return Execution{}, ErrCASFailed
	}
	if err != nil {
		return Execution{}, fmt.Errorf("resetting execution for retry: %w", err)
	}
	return e, nil
}

func (s *Store) cas(ctx context.Context, id uuid.UUID, fromStatuses []Status, query string) (Execution, error) {
	row := s.pool.QueryRow(ctx, query, id, statusArray(fromStatuses))
	e, err := scanExecution(row)
	if err == pgx.ErrNoRows {
		return Execution{}, ErrCASFailed
	}
	if err != nil {
		return Execution{}, fmt.Errorf("CAS update: %w", err)
	}
	return e, nil
}

func statusArray(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
