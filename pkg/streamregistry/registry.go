// Package streamregistry implements C4: the per-process mapping from
// clusterId to its active relayer stream, kept eventually consistent
// across pods via Redis pub/sub (spec §4.4). A relayer may reconnect to a
// different pod while the old pod still believes it owns the stream; the
// registry's job is to make that handover safe and to let any pod push a
// message to a cluster whose stream lives on another pod.
package streamregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/dispatch/internal/telemetry"
	"github.com/wisbric/dispatch/pkg/cluster"
)

// SignalChannel is the shared Redis pub/sub topic carrying signal envelopes
// across pods (spec §6: "topic control-plane:signals").
const SignalChannel = "control-plane:signals"

const livenessTTL = 60 * time.Second

// reaperWindow bounds how long a stream may go without an inbound frame or
// heartbeat before the registry tears it down (spec §4.4).
const reaperWindow = 120 * time.Second

// SignalType tags a signal envelope published on SignalChannel (spec §6).
type SignalType string

const (
	SignalUnregisterStream SignalType = "UNREGISTER_STREAM"
	SignalConfigUpdate     SignalType = "CONFIG_UPDATE"
)

// Signal is the wire envelope exchanged on SignalChannel.
type Signal struct {
	Type      SignalType      `json:"type"`
	ClusterID uuid.UUID       `json:"clusterId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Stream is the minimal surface the registry needs from a relayer-facing
// bidirectional stream (satisfied by the gRPC server stream wrapper in
// pkg/relayer).
type Stream interface {
	Send(msg []byte) error
	Close()
}

type entry struct {
	stream Stream
	timer  *time.Timer
}

// Registry is the C4 stream registry: a local map guarded by a mutex, plus
// a Redis pub/sub connection used to coordinate ownership across pods
// (spec §4.4, §9: "the stream registry's map is owned by one process and
// protected by a mutex; cross-pod coordination uses the signal channel,
// never shared in-memory state").
type Registry struct {
	mu       sync.Mutex
	streams  map[uuid.UUID]*entry
	rdb      *redis.Client
	clusters *cluster.Store
	logger   *slog.Logger
}

// New creates a Registry. Run must be called (typically in its own
// goroutine) to process inbound signals from other pods.
func New(rdb *redis.Client, clusters *cluster.Store, logger *slog.Logger) *Registry {
	return &Registry{
		streams:  make(map[uuid.UUID]*entry),
		rdb:      rdb,
		clusters: clusters,
		logger:   logger,
	}
}

// Run subscribes to SignalChannel and applies inbound UNREGISTER_STREAM
// signals against the local map. It blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	r.logger.Info("stream registry signal listener started")

	pubsub := r.rdb.Subscribe(ctx, SignalChannel)
	defer pubsub.Close()
	signals := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stream registry signal listener stopped")
			return nil
		case msg := <-signals:
			if msg == nil {
				continue
			}
			r.handleSignal(ctx, msg.Payload)
		}
	}
}

func (r *Registry) handleSignal(ctx context.Context, raw string) {
	var sig Signal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		r.logger.Warn("decoding stream registry signal", "error", err)
		return
	}

	switch sig.Type {
	case SignalUnregisterStream:
		if r.releaseLocal(sig.ClusterID) {
			telemetry.ClusterUnregisteredTotal.WithLabelValues("stale_owner_signal").Inc()
		}
	case SignalConfigUpdate:
		r.mu.Lock()
		e, ok := r.streams[sig.ClusterID]
		r.mu.Unlock()
		if !ok {
			return
		}
		if err := e.stream.Send(sig.Payload); err != nil {
			r.logger.Warn("forwarding config update to locally owned stream", "cluster_id", sig.ClusterID, "error", err)
		}
	}
}

// RegisterStream takes ownership of clusterId's stream on this pod
// (spec §4.4 `Disconnected → Active` transition): it forces any stale
// owner elsewhere to release, replaces any local stream, records the
// fleet-wide liveness key, and arms the reaper.
func (r *Registry) RegisterStream(ctx context.Context, clusterID uuid.UUID, stream Stream) error {
	if err := r.broadcast(ctx, Signal{Type: SignalUnregisterStream, ClusterID: clusterID}); err != nil {
		r.logger.Warn("broadcasting unregister-stream", "cluster_id", clusterID, "error", err)
	}

	r.mu.Lock()
	if old, ok := r.streams[clusterID]; ok {
		old.timer.Stop()
		old.stream.Close()
	}
	e := &entry{stream: stream}
	e.timer = time.AfterFunc(reaperWindow, func() { r.reap(ctx, clusterID) })
	r.streams[clusterID] = e
	count := len(r.streams)
	r.mu.Unlock()

	telemetry.ClusterLiveStreams.Set(float64(count))

	if err := r.touchLiveness(ctx, clusterID); err != nil {
		return fmt.Errorf("recording cluster liveness: %w", err)
	}
	return nil
}

// Heartbeat re-arms the reaper timer and refreshes the liveness TTL; call
// on every inbound frame or explicit heartbeat (spec §4.4 step 4).
func (r *Registry) Heartbeat(ctx context.Context, clusterID uuid.UUID) error {
	r.mu.Lock()
	e, ok := r.streams[clusterID]
	if ok {
		e.timer.Reset(reaperWindow)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("no locally registered stream for cluster %s", clusterID)
	}
	return r.touchLiveness(ctx, clusterID)
}

// UnregisterStream tears down the local stream and its liveness key and
// marks the cluster stale, on end-of-stream, write error, or reaper expiry
// (spec §4.4's `Active →` transitions).
func (r *Registry) UnregisterStream(ctx context.Context, clusterID uuid.UUID, reason string) {
	if r.releaseLocal(clusterID) {
		telemetry.ClusterUnregisteredTotal.WithLabelValues(reason).Inc()
		r.deleteLiveness(ctx, clusterID)
		if err := r.clusters.MarkStale(ctx, clusterID); err != nil {
			r.logger.Error("marking cluster stale after stream teardown", "cluster_id", clusterID, "error", err)
		}
	}
}

func (r *Registry) reap(ctx context.Context, clusterID uuid.UUID) {
	r.logger.Info("reaping stale stream", "cluster_id", clusterID)
	r.UnregisterStream(ctx, clusterID, "reaper_expiry")
}

// releaseLocal destroys the local stream entry, if any, without touching
// Redis state. Returns true if an entry was removed.
func (r *Registry) releaseLocal(clusterID uuid.UUID) bool {
	r.mu.Lock()
	e, ok := r.streams[clusterID]
	if ok {
		e.timer.Stop()
		e.stream.Close()
		delete(r.streams, clusterID)
	}
	count := len(r.streams)
	r.mu.Unlock()

	if ok {
		telemetry.ClusterLiveStreams.Set(float64(count))
	}
	return ok
}

// SendToCluster writes msg to clusterId's stream if it is owned locally,
// or else publishes a CONFIG_UPDATE signal so the owning pod forwards it
// (spec §4.4: "delivery is best-effort; there is no per-message ack here").
func (r *Registry) SendToCluster(ctx context.Context, clusterID uuid.UUID, msg []byte) error {
	r.mu.Lock()
	e, ok := r.streams[clusterID]
	r.mu.Unlock()

	if ok {
		return e.stream.Send(msg)
	}

	return r.broadcast(ctx, Signal{Type: SignalConfigUpdate, ClusterID: clusterID, Payload: msg})
}

// IsLocal reports whether clusterId's stream is currently owned by this
// process.
func (r *Registry) IsLocal(clusterID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[clusterID]
	return ok
}

func (r *Registry) broadcast(ctx context.Context, sig Signal) error {
	b, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("encoding signal: %w", err)
	}
	return r.rdb.Publish(ctx, SignalChannel, b).Err()
}

func (r *Registry) touchLiveness(ctx context.Context, clusterID uuid.UUID) error {
	return r.rdb.Set(ctx, livenessKey(clusterID), "true", livenessTTL).Err()
}

func (r *Registry) deleteLiveness(ctx context.Context, clusterID uuid.UUID) {
	r.rdb.Del(ctx, livenessKey(clusterID))
}

func livenessKey(clusterID uuid.UUID) string {
	return fmt.Sprintf("cluster:%s:alive", clusterID)
}
