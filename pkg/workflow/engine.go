// Package workflow implements C6: a durable workflow engine adapter
// exposing step/send/waitForEvent primitives (spec §4.5, §9). Step results
// are memoized in Postgres so a replay after crash/restart skips completed
// steps; events are durably logged in Postgres and fanned out over Redis
// pub/sub so any process — not just the one that started the wait — can
// resume a suspended workflow (spec §9: "state lives outside the process").
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// Engine is the C6 workflow engine adapter.
type Engine struct {
	pool         *pgxpool.Pool
	rdb          *redis.Client
	pollInterval time.Duration
}

// NewEngine creates an Engine. pollInterval bounds how long a waiter can
// miss a pub/sub wake-up (e.g. because it started waiting after the event
// was published, or the subscriber connection briefly dropped) before it
// re-checks Postgres directly.
func NewEngine(pool *pgxpool.Pool, rdb *redis.Client, pollInterval time.Duration) *Engine {
	return &Engine{pool: pool, rdb: rdb, pollInterval: pollInterval}
}

// Step runs fn exactly once per (workflowID, name); memoizes the result in
// Postgres so a replay after a crash skips completed steps (spec §4.5).
// fn must be idempotent at the durable-store layer (CAS), since transient
// failures are retried by the caller's own retry loop, not by Step itself.
func Step[T any](ctx context.Context, e *Engine, workflowID, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	existing, ok, err := e.loadStep(ctx, workflowID, name)
	if err != nil {
		return zero, fmt.Errorf("loading step %s/%s: %w", workflowID, name, err)
	}
	if ok {
		var result T
		if err := json.Unmarshal(existing, &result); err != nil {
			return zero, fmt.Errorf("decoding memoized step %s/%s: %w", workflowID, name, err)
		}
		return result, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("encoding step %s/%s result: %w", workflowID, name, err)
	}
	if err := e.saveStep(ctx, workflowID, name, encoded); err != nil {
		return zero, fmt.Errorf("saving step %s/%s: %w", workflowID, name, err)
	}
	return result, nil
}

func (e *Engine) loadStep(ctx context.Context, workflowID, name string) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	err := e.pool.QueryRow(ctx,
		`SELECT result FROM workflow_steps WHERE workflow_id = $1 AND step_name = $2`,
		workflowID, name,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (e *Engine) saveStep(ctx context.Context, workflowID, name string, result json.RawMessage) error {
	_, err := e.pool.Exec(ctx,
		`INSERT INTO workflow_steps (workflow_id, step_name, result, created_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (workflow_id, step_name) DO NOTHING`,
		workflowID, name, result,
	)
	return err
}

// Send emits an event, durably logging it in Postgres and — if due now —
// publishing it on Redis pub/sub to wake any live waiter immediately
// (spec §4.5: "emits an event, optionally delayed to wall-clock ts").
func (e *Engine) Send(ctx context.Context, eventName string, payload jsonvalue.Value, scheduledAt *time.Time) error {
	due := time.Now()
	if scheduledAt != nil {
		due = *scheduledAt
	}

	encoded, err := payload.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}

	_, err = e.pool.Exec(ctx,
		`INSERT INTO workflow_events (id, event_name, payload, scheduled_at, created_at)
		 VALUES ($1, $2, $3, $4, now())`,
		uuid.New(), eventName, encoded, due,
	)
	if err != nil {
		return fmt.Errorf("recording event %s: %w", eventName, err)
	}

	if !due.After(time.Now()) {
		_ = e.rdb.Publish(ctx, channelFor(eventName), encoded).Err()
	}
	return nil
}

func channelFor(eventName string) string {
	return "workflow:events:" + eventName
}

// ClaimDueEvents atomically claims up to limit not-yet-dispatched events
// named eventName whose scheduledAt has passed, marking them dispatched so
// a second poller (another pod, or this one on its next tick) does not
// process them again. Used by callers that need to react to an event once
// — e.g. the execution retry scheduler waking up a new workflow run — as
// opposed to WaitForEvent, which is for a single in-flight waiter.
func (e *Engine) ClaimDueEvents(ctx context.Context, eventName string, limit int) ([]jsonvalue.Value, error) {
	rows, err := e.pool.Query(ctx, `
		UPDATE workflow_events SET dispatched = true
		WHERE id IN (
			SELECT id FROM workflow_events
			WHERE event_name = $1 AND scheduled_at <= now() AND dispatched = false
			ORDER BY scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING payload`, eventName, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming due events %s: %w", eventName, err)
	}
	defer rows.Close()

	var out []jsonvalue.Value
	for rows.Next() {
		var raw json.RawMessage
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning claimed event: %w", err)
		}
		var payload jsonvalue.Value
		if err := payload.UnmarshalJSON(raw); err != nil {
			return nil, fmt.Errorf("decoding claimed event payload: %w", err)
		}
		out = append(out, payload)
	}
	return out, rows.Err()
}

// WaitForEvent suspends until an event named eventName arrives whose
// payload has matchField == matchValue, or returns ok=false after timeout
// (spec §4.5). It checks Postgres first for an event that already arrived,
// then listens on Redis pub/sub while periodically re-polling Postgres —
// this covers both the fast path (a live process publishes while we wait)
// and the crash-recovery path (the event arrived while no one was
// listening, or the waiting process itself restarted).
func (e *Engine) WaitForEvent(ctx context.Context, eventName, matchField, matchValue string, timeout time.Duration) (jsonvalue.Value, bool, error) {
	if payload, ok, err := e.findMatchingEvent(ctx, eventName, matchField, matchValue); err != nil {
		return jsonvalue.Undefined(), false, err
	} else if ok {
		return payload, true, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub := e.rdb.Subscribe(waitCtx, channelFor(eventName))
	defer sub.Close()
	notifications := sub.Channel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return jsonvalue.Undefined(), false, nil
		case msg := <-notifications:
			if msg == nil {
				continue
			}
			var payload jsonvalue.Value
			if err := payload.UnmarshalJSON([]byte(msg.Payload)); err != nil {
				continue
			}
			if fieldMatches(payload, matchField, matchValue) {
				return payload, true, nil
			}
		case <-ticker.C:
			if payload, ok, err := e.findMatchingEvent(waitCtx, eventName, matchField, matchValue); err != nil {
				return jsonvalue.Undefined(), false, err
			} else if ok {
				return payload, true, nil
			}
		}
	}
}

func (e *Engine) findMatchingEvent(ctx context.Context, eventName, matchField, matchValue string) (jsonvalue.Value, bool, error) {
	var raw json.RawMessage
	err := e.pool.QueryRow(ctx,
		`SELECT payload FROM workflow_events
		 WHERE event_name = $1 AND scheduled_at <= now() AND payload->>$2 = $3
		 ORDER BY created_at DESC LIMIT 1`,
		eventName, matchField, matchValue,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return jsonvalue.Undefined(), false, nil
	}
	if err != nil {
		return jsonvalue.Undefined(), false, err
	}

	var payload jsonvalue.Value
	if err := payload.UnmarshalJSON(raw); err != nil {
		return jsonvalue.Undefined(), false, err
	}
	return payload, true, nil
}

func fieldMatches(payload jsonvalue.Value, field, value string) bool {
	s, ok := payload.Get(field).AsString()
	return ok && s == value
}
