package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// dispatchBatchSize bounds how many execution.requested events one poll
// tick claims, so a backlog after an outage is drained gradually rather
// than spiking concurrency past the per-org limiter.
const dispatchBatchSize = 50

// Dispatcher polls for due `execution.requested` events emitted by
// handleAttemptFailure's retry reschedule and runs the orchestrator workflow
// for each bumped attempt (spec §4.6: the retry path "emits a new
// execution.requested scheduled at now + delay" rather than re-triggering
// in-process). The initial submission's first attempt is started directly
// by the HTTP handler and reaches this poller only when Run deferred it
// because the organization was at its concurrency limit.
type Dispatcher struct {
	orchestrator *Orchestrator
	store        *Store
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewDispatcher creates a Dispatcher. Run must be called, typically in its
// own goroutine.
func NewDispatcher(orchestrator *Orchestrator, store *Store, pollInterval time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{orchestrator: orchestrator, store: store, pollInterval: pollInterval, logger: logger}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("execution dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("execution dispatcher stopped")
			return nil
		case <-ticker.C:
			d.poll(ctx)
			d.pollFailures(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	events, err := d.orchestrator.engine.ClaimDueEvents(ctx, "execution.requested", dispatchBatchSize)
	if err != nil {
		d.logger.Error("claiming due execution.requested events", "error", err)
		return
	}

	for _, payload := range events {
		d.dispatch(ctx, payload)
	}
}

// pollFailures claims due `execution.failed` events emitted by C9
// (spec §4.6's companion failure workflow) and runs them through the
// retry/backoff decision, mirroring poll's claim-and-dispatch shape.
func (d *Dispatcher) pollFailures(ctx context.Context) {
	events, err := d.orchestrator.engine.ClaimDueEvents(ctx, "execution.failed", dispatchBatchSize)
	if err != nil {
		d.logger.Error("claiming due execution.failed events", "error", err)
		return
	}

	for _, payload := range events {
		d.dispatchFailure(ctx, payload)
	}
}

func (d *Dispatcher) dispatchFailure(ctx context.Context, payload jsonvalue.Value) {
	idStr, ok := payload.Get("executionId").AsString()
	if !ok {
		d.logger.Error("execution.failed event missing executionId")
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		d.logger.Error("execution.failed event has invalid executionId", "execution_id", idStr, "error", err)
		return
	}

	e, err := d.store.GetByID(ctx, id)
	if err != nil {
		d.logger.Error("loading execution for failure handling", "execution_id", id, "error", err)
		return
	}
	if e.Status != StatusQueued && e.Status != StatusRunning {
		// Already resolved by another path (e.g. the workflow's own wait
		// timed out and independently drove the retry/terminal transition
		// first), so there is nothing left for this event to do.
		return
	}

	errMsg, _ := payload.Get("error").AsString()
	d.orchestrator.HandleFailureEvent(ctx, e, errMsg)
}

func (d *Dispatcher) dispatch(ctx context.Context, payload jsonvalue.Value) {
	idStr, ok := payload.Get("executionId").AsString()
	if !ok {
		d.logger.Error("execution.requested event missing executionId")
		return
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		d.logger.Error("execution.requested event has invalid executionId", "execution_id", idStr, "error", err)
		return
	}

	e, err := d.store.GetByID(ctx, id)
	if err != nil {
		d.logger.Error("loading execution for dispatch", "execution_id", id, "error", err)
		return
	}
	if e.Status != StatusPending {
		// Already picked up (e.g. the submitting request's own goroutine
		// ran it before this poller claimed the durable event).
		return
	}

	preferredCluster, _ := payload.Get("preferredCluster").AsString()
	go d.orchestrator.Run(context.Background(), e, preferredCluster)
}
