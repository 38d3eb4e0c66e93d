package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wisbric/dispatch/pkg/cluster"
	"github.com/wisbric/dispatch/pkg/jsonvalue"
	"github.com/wisbric/dispatch/pkg/queue"
)

// Orchestrator implements C8: registers a batch of agent configurations,
// upserting them and propagating the config to every relevant cluster
// (spec §4.7).
type Orchestrator struct {
	store        *Store
	clusterStore *cluster.Store
	queue        *queue.Queue
	logger       *slog.Logger
}

// NewOrchestrator creates a registration Orchestrator.
func NewOrchestrator(store *Store, clusterStore *cluster.Store, q *queue.Queue, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{store: store, clusterStore: clusterStore, queue: q, logger: logger}
}

// RegisterResult reports the outcome of registering one agent config.
type RegisterResult struct {
	Agent  Agent
	Result UpsertResult
}

// RegisterBatch validates and upserts each config, then — for configs that
// changed — enqueues a REGISTRATION message to every ACTIVE cluster in the
// organization and records a PENDING AgentClusterStatus row per target
// (spec §4.7 steps 1-4).
func (o *Orchestrator) RegisterBatch(ctx context.Context, organizationID uuid.UUID, reqs []RegisterRequest) ([]RegisterResult, error) {
	results := make([]RegisterResult, 0, len(reqs))

	for _, req := range reqs {
		if err := ValidateRegisterRequest(req); err != nil {
			return nil, fmt.Errorf("validating agent %q: %w", req.Name, err)
		}

		cfg := Config{
			Name:            req.Name,
			Image:           req.Image,
			Resources:       resourceSpecValue(req.Resources),
			RetryPolicy:     retryPolicyValue(req.RetryPolicy),
			UseAgentSandbox: req.UseAgentSandbox,
			WarmPoolSize:    req.WarmPoolSize,
			NetworkPolicy:   req.NetworkPolicy,
		}
		hash, err := cfg.Hash()
		if err != nil {
			return nil, fmt.Errorf("hashing agent config %q: %w", req.Name, err)
		}

		a, upsertResult, err := o.store.UpsertAgent(ctx, UpsertParams{
			OrganizationID:       organizationID,
			Name:                 req.Name,
			Image:                req.Image,
			Resources:            cfg.Resources,
			RetryPolicy:          cfg.RetryPolicy,
			UseAgentSandbox:      req.UseAgentSandbox,
			WarmPoolSize:         req.WarmPoolSize,
			NetworkPolicy:        req.NetworkPolicy,
			EnvironmentVariables: req.EnvironmentVariables,
			ConfigHash:           hash,
		})
		if err != nil {
			return nil, fmt.Errorf("upserting agent %q: %w", req.Name, err)
		}

		results = append(results, RegisterResult{Agent: a, Result: upsertResult})

		if upsertResult == UpsertUnchanged {
			o.logger.Debug("agent config unchanged, skipping propagation", "agent", req.Name)
			continue
		}

		if err := o.propagate(ctx, a); err != nil {
			return nil, fmt.Errorf("propagating agent %q: %w", req.Name, err)
		}
	}

	return results, nil
}

// propagate enqueues a REGISTRATION message to every ACTIVE cluster in the
// agent's organization and records a PENDING AgentClusterStatus per target
// (spec §4.7 steps 3-4).
func (o *Orchestrator) propagate(ctx context.Context, a Agent) error {
	clusters, err := o.clusterStore.ListEligibleClusters(ctx, a.OrganizationID)
	if err != nil {
		return fmt.Errorf("listing clusters for propagation: %w", err)
	}

	item := queue.RegistrationItem{
		AgentID:       a.ID,
		AgentName:     a.Name,
		AgentImage:    a.Image,
		Resources:     a.Resources,
		RetryPolicy:   a.RetryPolicy,
		UseSandbox:    a.UseAgentSandbox,
		WarmPoolSize:  a.WarmPoolSize,
		NetworkPolicy: a.NetworkPolicy,
		EnvVars:       a.EnvironmentVariables,
	}
	msg := queue.NewRegistrationMessage(item)

	for _, c := range clusters {
		if err := o.queue.Enqueue(ctx, a.OrganizationID, c.ID, msg, queue.PriorityNormal); err != nil {
			return fmt.Errorf("enqueueing registration to cluster %s: %w", c.ID, err)
		}
		if err := o.store.UpsertAgentClusterStatus(ctx, AgentClusterStatus{
			AgentID:   a.ID,
			ClusterID: c.ID,
			Status:    StatusPending,
		}); err != nil {
			return fmt.Errorf("recording agent cluster status for %s: %w", c.ID, err)
		}
	}
	return nil
}

// HandleRegistrationStatus processes an inbound
// `agent.registration.status{clusterId, status, error?}` event from C9,
// upserting the per-cluster status and recomputing the agent's aggregate
// status (spec §4.7 step 5).
func (o *Orchestrator) HandleRegistrationStatus(ctx context.Context, agentID, clusterID uuid.UUID, status Status, errMsg string) error {
	if err := o.store.UpsertAgentClusterStatus(ctx, AgentClusterStatus{
		AgentID:   agentID,
		ClusterID: clusterID,
		Status:    status,
		Error:     errMsg,
	}); err != nil {
		return fmt.Errorf("upserting agent cluster status: %w", err)
	}

	statuses, err := o.store.ListClusterStatuses(ctx, agentID)
	if err != nil {
		return fmt.Errorf("listing agent cluster statuses: %w", err)
	}

	aggregate := AggregateStatus(statuses)
	if err := o.store.UpdateStatus(ctx, agentID, aggregate); err != nil {
		return fmt.Errorf("updating agent aggregate status: %w", err)
	}
	return nil
}

func resourceSpecValue(r ResourceSpec) jsonvalue.Value {
	v := jsonvalue.Object()
	v.Set("cpu", jsonvalue.String(r.CPU))
	v.Set("memory", jsonvalue.String(r.Memory))
	if r.GPU != "" {
		v.Set("gpu", jsonvalue.String(r.GPU))
	}
	v.Set("timeout", jsonvalue.String(r.Timeout))
	return v
}

func retryPolicyValue(p RetryPolicy) jsonvalue.Value {
	v := jsonvalue.Object()
	v.Set("maxAttempts", jsonvalue.Number(float64(p.MaxAttempts)))
	v.Set("backoff", jsonvalue.String(p.Backoff))
	if p.InitialDelay != "" {
		v.Set("initialDelay", jsonvalue.String(p.InitialDelay))
	}
	return v
}
