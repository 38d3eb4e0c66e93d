// Package execution implements the Execution model, its store, and the
// C7 execution orchestrator including the retry/backoff companion workflow
// (spec §3, §4.6).
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wisbric/dispatch/internal/apierr"
	"github.com/wisbric/dispatch/internal/telemetry"
	"github.com/wisbric/dispatch/pkg/agent"
	"github.com/wisbric/dispatch/pkg/cluster"
	"github.com/wisbric/dispatch/pkg/jsonvalue"
	"github.com/wisbric/dispatch/pkg/notify"
	"github.com/wisbric/dispatch/pkg/queue"
	"github.com/wisbric/dispatch/pkg/workflow"
)

// Orchestrator implements C7: runs an execution from creation through
// completion or terminal failure, as a durable workflow built from
// step/send/waitForEvent primitives (spec §4.6).
type Orchestrator struct {
	store       *Store
	agents      *agent.Store
	selector    *cluster.Selector
	queue       *queue.Queue
	engine      *workflow.Engine
	limiter     *workflow.ConcurrencyLimiter
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// NewOrchestrator creates an execution Orchestrator.
func NewOrchestrator(store *Store, agents *agent.Store, selector *cluster.Selector, q *queue.Queue, engine *workflow.Engine, limiter *workflow.ConcurrencyLimiter, notifier *notify.Notifier, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store: store, agents: agents, selector: selector, queue: q,
		engine: engine, limiter: limiter, notifier: notifier, logger: logger,
	}
}

// Submit validates the request, resolves the agent, and creates the
// execution record in PENDING status (spec §4.6 steps 1-2). It returns
// immediately; the workflow that drives the execution to completion runs
// asynchronously via Run.
func (o *Orchestrator) Submit(ctx context.Context, organizationID uuid.UUID, req CreateRequest) (Execution, error) {
	a, err := o.agents.LoadAgent(ctx, organizationID, req.Agent)
	if err != nil {
		return Execution{}, apierr.AgentNotFound(fmt.Sprintf("agent %q not found", req.Agent))
	}
	if a.Status != agent.StatusActive {
		return Execution{}, apierr.AgentNotActive(fmt.Sprintf("agent %q is not ACTIVE", req.Agent))
	}

	maxAttempts := 1
	if n, ok := a.RetryPolicy.Get("maxAttempts").AsNumber(); ok {
		maxAttempts = int(n)
	}

	e, err := o.store.CreateExecution(ctx, CreateParams{
		ID:             uuid.New(),
		AgentID:        a.ID,
		OrganizationID: organizationID,
		Input:          req.Input,
		Priority:       req.Priority,
		MaxAttempts:    maxAttempts,
	})
	if err != nil {
		return Execution{}, fmt.Errorf("creating execution: %w", err)
	}
	return e, nil
}

// Run drives one execution attempt through selection, queuing, and
// waiting for completion (spec §4.6 steps 3-7). It is the body of the
// per-execution workflow; callers should invoke it in its own goroutine
// per attempt (the initial Submit and every subsequent retry).
func (o *Orchestrator) Run(ctx context.Context, e Execution, preferredCluster string) {
	workflowID := e.ID.String() + ":attempt:" + strconv.Itoa(e.Attempt)

	release, err := o.limiter.Acquire(ctx, e.OrganizationID.String())
	if err != nil {
		o.logger.Warn("execution workflow at organization concurrency capacity, will retry on next tick",
			"execution_id", e.ID, "organization_id", e.OrganizationID)
		requested := jsonvalue.Object()
		requested.Set("executionId", jsonvalue.String(e.ID.String()))
		requested.Set("preferredCluster", jsonvalue.String(preferredCluster))
		if err := o.engine.Send(ctx, "execution.requested", requested, nil); err != nil {
			o.logger.Error("rescheduling execution after concurrency limit", "execution_id", e.ID, "error", err)
		}
		return
	}
	defer release(ctx)

	a, err := o.agents.LoadAgent(ctx, e.OrganizationID, e.AgentID.String())
	if err != nil {
		o.failTerminal(ctx, e, fmt.Sprintf("loading agent: %v", err))
		return
	}

	c, err := workflow.Step(ctx, o.engine, workflowID, "select_cluster", func(ctx context.Context) (cluster.Cluster, error) {
		prefs := cluster.Preferences{}
		if c, err := uuid.Parse(preferredCluster); err == nil {
			if preferred, err := o.selector.Lookup(ctx, e.OrganizationID, c); err == nil {
				return preferred, nil
			}
		}
		return o.selector.Select(ctx, e.OrganizationID, prefs)
	})
	if err != nil {
		if apiErr, ok := apierr.As(err); ok && apiErr.Kind == apierr.KindNoEligibleClust {
			o.failTerminal(ctx, e, "no eligible cluster")
			return
		}
		o.logger.Error("selecting cluster for execution", "execution_id", e.ID, "error", err)
		return
	}

	if err := o.store.SetCluster(ctx, e.ID, c.ID); err != nil {
		o.logger.Error("persisting execution cluster", "execution_id", e.ID, "error", err)
		return
	}

	if _, err := o.store.TransitionToQueued(ctx, e.ID); err != nil {
		o.logger.Error("transitioning execution to queued", "execution_id", e.ID, "error", err)
		return
	}

	work := queue.WorkItem{
		ExecutionID:   e.ID,
		AgentID:       a.ID,
		AgentName:     a.Name,
		AgentImage:    a.Image,
		Input:         e.Input,
		Resources:     a.Resources,
		RetryPolicy:   a.RetryPolicy,
		UseSandbox:    a.UseAgentSandbox,
		NetworkPolicy: a.NetworkPolicy,
		WarmPoolSize:  a.WarmPoolSize,
		EnvVars:       a.EnvironmentVariables,
	}
	if err := o.queue.Enqueue(ctx, e.OrganizationID, c.ID, queue.NewWorkMessage(work), queuePriority(e.Priority)); err != nil {
		o.logger.Error("enqueueing work item", "execution_id", e.ID, "error", err)
		return
	}

	queuedEvent := jsonvalue.Object()
	queuedEvent.Set("executionId", jsonvalue.String(e.ID.String()))
	if err := o.engine.Send(ctx, "execution.queued", queuedEvent, nil); err != nil {
		o.logger.Error("emitting execution.queued", "execution_id", e.ID, "error", err)
	}

	timeout := resourceTimeout(a.Resources) + 60*time.Second
	payload, ok, err := o.engine.WaitForEvent(ctx, "execution.completed", "executionId", e.ID.String(), timeout)
	if err != nil {
		o.logger.Error("waiting for execution completion", "execution_id", e.ID, "error", err)
		return
	}
	if !ok {
		o.handleAttemptFailure(ctx, e, a, "execution_timeout: exceeded "+timeout.String())
		return
	}

	result := payload.Get("result")
	resourceUsage := payload.Get("resourceUsage")
	durationMs := int64(0)
	if n, ok := payload.Get("durationMs").AsNumber(); ok {
		durationMs = int64(n)
	}

	if _, err := o.store.TransitionToCompleted(ctx, e.ID, result, resourceUsage, durationMs); err != nil {
		o.logger.Error("transitioning execution to completed", "execution_id", e.ID, "error", err)
		return
	}
	telemetry.ExecutionsTotal.WithLabelValues("completed").Inc()
}

// HandleFailureEvent processes an inbound `execution.failed` event from
// C9, applying the agent's retry policy: reschedule with backoff, or —
// once maxAttempts is exhausted — write the terminal FAILED state and
// notify ops (spec §4.6 retry/backoff workflow).
func (o *Orchestrator) HandleFailureEvent(ctx context.Context, e Execution, errMsg string) {
	a, err := o.agents.LoadAgent(ctx, e.OrganizationID, e.AgentID.String())
	if err != nil {
		o.logger.Error("loading agent for retry decision", "execution_id", e.ID, "error", err)
		return
	}
	o.handleAttemptFailure(ctx, e, a, errMsg)
}

func (o *Orchestrator) handleAttemptFailure(ctx context.Context, e Execution, a agent.Agent, errMsg string) {
	failed, err := o.store.TransitionToFailed(ctx, e.ID, []Status{StatusQueued, StatusRunning}, errMsg)
	if err != nil {
		o.logger.Error("transitioning execution to failed", "execution_id", e.ID, "error", err)
		return
	}

	if failed.Attempt >= failed.MaxAttempts {
		o.finalizeFailed(ctx, failed)
		return
	}

	backoff := retryBackoff(a.RetryPolicy, failed.Attempt)
	nextAttempt := failed.Attempt + 1
	scheduledAt := time.Now().Add(backoff)
	nextRetryAt := pgtype.Timestamptz{Time: scheduledAt, Valid: true}

	if _, err := o.store.ResetForRetry(ctx, e.ID, nextAttempt, nextRetryAt); err != nil {
		o.logger.Error("resetting execution for retry", "execution_id", e.ID, "error", err)
		return
	}

	// Re-emit execution.requested delayed to the backoff deadline; the
	// dispatcher that originally consumed execution.requested picks this
	// up and re-runs the workflow for the bumped attempt (spec §4.6).
	requested := jsonvalue.Object()
	requested.Set("executionId", jsonvalue.String(e.ID.String()))
	if err := o.engine.Send(ctx, "execution.requested", requested, &scheduledAt); err != nil {
		o.logger.Error("scheduling execution retry", "execution_id", e.ID, "error", err)
	}

	backoffKind, _ := a.RetryPolicy.Get("backoff").AsString()
	telemetry.ExecutionRetriesTotal.WithLabelValues(strings.ToLower(backoffKind)).Inc()
}

func (o *Orchestrator) failTerminal(ctx context.Context, e Execution, errMsg string) {
	failed, err := o.store.TransitionToFailed(ctx, e.ID, []Status{StatusPending, StatusQueued, StatusRunning}, errMsg)
	if err != nil {
		o.logger.Error("transitioning execution to terminal failure", "execution_id", e.ID, "error", err)
		return
	}
	o.finalizeFailed(ctx, failed)
}

func (o *Orchestrator) finalizeFailed(ctx context.Context, e Execution) {
	telemetry.ExecutionsTotal.WithLabelValues("failed").Inc()

	clusterID := ""
	if e.ClusterID != nil {
		clusterID = e.ClusterID.String()
	}
	o.notifier.NotifyExecutionFailed(ctx, notify.FailedExecution{
		ExecutionID:    e.ID.String(),
		OrganizationID: e.OrganizationID.String(),
		AgentID:        e.AgentID.String(),
		ClusterID:      clusterID,
		Attempt:        e.Attempt,
		MaxAttempts:    e.MaxAttempts,
		Error:          e.Error,
	})
}

// maxRetryBackoff caps the computed delay before the next attempt. Chosen as
// a round default for this module rather than copied from a fixed nightowl
// constant — nightowl's escalation tiers use per-tier TimeoutMinutes config,
// not a hardcoded ceiling.
const maxRetryBackoff = 5 * time.Minute

// retryBackoff computes the delay before the next attempt from the agent's
// retryPolicy (spec §4.6: constant = initialDelay; linear = initialDelay ×
// (attempt+1); exponential = initialDelay × 2^attempt), capped at
// maxRetryBackoff.
func retryBackoff(policy jsonvalue.Value, attempt int) time.Duration {
	initialDelay := parseDuration(durationStringOr(policy, "initialDelay", "1s"))
	backoffKind, _ := policy.Get("backoff").AsString()

	var backoff time.Duration
	switch backoffKind {
	case "linear":
		backoff = initialDelay * time.Duration(attempt+1)
	case "exponential":
		backoff = initialDelay * time.Duration(1<<uint(attempt))
	default:
		backoff = initialDelay
	}

	if backoff > maxRetryBackoff {
		return maxRetryBackoff
	}
	return backoff
}

func resourceTimeout(resources jsonvalue.Value) time.Duration {
	return parseDuration(durationStringOr(resources, "timeout", "300s"))
}

func durationStringOr(v jsonvalue.Value, key, fallback string) string {
	if s, ok := v.Get(key).AsString(); ok && s != "" {
		return s
	}
	return fallback
}

// parseDuration parses the `^\d+(s|m|h)$` resource-spec duration shape
// (spec §6). A bare number is read as seconds; any other suffix, or a
// non-numeric value, yields 0.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	unit := s[len(s)-1]
	numPart := s
	var multiplier time.Duration
	switch unit {
	case 's':
		numPart, multiplier = s[:len(s)-1], time.Second
	case 'm':
		numPart, multiplier = s[:len(s)-1], time.Minute
	case 'h':
		numPart, multiplier = s[:len(s)-1], time.Hour
	default:
		multiplier = time.Second
	}
	n, err := strconv.Atoi(numPart)
	if err != nil {
		return 0
	}
	return time.Duration(n) * multiplier
}

func queuePriority(p Priority) queue.Priority {
	switch p {
	case PriorityHigh:
		return queue.PriorityHigh
	case PriorityLow:
		return queue.PriorityLow
	default:
		return queue.PriorityNormal
	}
}
