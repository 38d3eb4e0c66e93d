package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/dispatch/internal/telemetry"
)

// ErrEmpty is returned by Dequeue when no message arrives before timeout.
var ErrEmpty = errors.New("queue: dequeue timed out")

// Queue is the C3 per-(organization,cluster,priority) FIFO work queue.
type Queue struct {
	redis *redis.Client
}

// New creates a Queue backed by the given Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{redis: rdb}
}

// key returns the Redis list key for (org, cluster, priority) following
// spec §4.2's namespacing: `org:{org}:cluster:{cluster}:work[:high|:low]`.
// NORMAL has no suffix.
func key(org, cluster uuid.UUID, priority Priority) string {
	base := fmt.Sprintf("org:%s:cluster:%s:work", org, cluster)
	switch priority {
	case PriorityHigh:
		return base + ":high"
	case PriorityLow:
		return base + ":low"
	default:
		return base
	}
}

// orderedKeys returns the three priority keys for (org, cluster) in strict
// dequeue precedence: high, normal, low.
func orderedKeys(org, cluster uuid.UUID) []string {
	return []string{
		key(org, cluster, PriorityHigh),
		key(org, cluster, PriorityNormal),
		key(org, cluster, PriorityLow),
	}
}

// Enqueue appends msg to the tail of the (org, cluster, priority) queue.
func (q *Queue) Enqueue(ctx context.Context, org, cluster uuid.UUID, msg Message, priority Priority) error {
	b, err := msg.encode()
	if err != nil {
		return fmt.Errorf("encoding queue message: %w", err)
	}
	if err := q.redis.RPush(ctx, key(org, cluster, priority), b).Err(); err != nil {
		return fmt.Errorf("enqueueing message: %w", err)
	}
	telemetry.QueueEnqueuedTotal.WithLabelValues(strings.ToLower(string(priority))).Inc()
	telemetry.QueueDepth.WithLabelValues(strings.ToLower(string(priority))).Inc()
	return nil
}

// Dequeue atomically pops the first non-empty queue among [high, normal,
// low] for (org, cluster), blocking up to timeout. Returns ErrEmpty if no
// message arrives within timeout (spec §4.2).
func (q *Queue) Dequeue(ctx context.Context, org, cluster uuid.UUID, timeout time.Duration) (Message, error) {
	keys := orderedKeys(org, cluster)

	poppedKey, elements, err := q.redis.BLMPop(ctx, timeout, "left", 1, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, ErrEmpty
		}
		return Message{}, fmt.Errorf("dequeueing message: %w", err)
	}
	if len(elements) == 0 {
		return Message{}, ErrEmpty
	}

	msg, err := decodeMessage([]byte(elements[0]))
	if err != nil {
		return Message{}, fmt.Errorf("decoding queue message: %w", err)
	}

	priority := priorityOfKey(poppedKey)
	telemetry.QueueDequeuedTotal.WithLabelValues(strings.ToLower(string(priority))).Inc()
	telemetry.QueueDepth.WithLabelValues(strings.ToLower(string(priority))).Dec()

	return msg, nil
}

func priorityOfKey(k string) Priority {
	switch {
	case strings.HasSuffix(k, ":high"):
		return PriorityHigh
	case strings.HasSuffix(k, ":low"):
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Peek returns the messages currently in the (org, cluster, priority) queue
// without removing them.
func (q *Queue) Peek(ctx context.Context, org, cluster uuid.UUID, priority Priority) ([]Message, error) {
	raw, err := q.redis.LRange(ctx, key(org, cluster, priority), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("peeking queue: %w", err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		msg, err := decodeMessage([]byte(r))
		if err != nil {
			return nil, fmt.Errorf("decoding peeked message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Length returns the queue length for a single priority (spec §4.2:
// `Length(priority?)`).
func (q *Queue) Length(ctx context.Context, org, cluster uuid.UUID, priority Priority) (int, error) {
	n, err := q.redis.LLen(ctx, key(org, cluster, priority)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting queue length: %w", err)
	}
	return int(n), nil
}

// TotalLength sums the queue length across all three priorities for
// (org, cluster) — the load signal the C5 selector reads as its load
// penalty (spec §4.3). Implements cluster.QueueLengther.
func (q *Queue) TotalLength(ctx context.Context, org, cluster uuid.UUID) (int, error) {
	total := 0
	for _, k := range orderedKeys(org, cluster) {
		n, err := q.redis.LLen(ctx, k).Result()
		if err != nil {
			return 0, fmt.Errorf("getting queue length: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// DrainCluster returns all messages across all three priorities for
// (org, cluster) and deletes the underlying keys.
func (q *Queue) DrainCluster(ctx context.Context, org, cluster uuid.UUID) ([]Message, error) {
	var all []Message
	for _, p := range []Priority{PriorityHigh, PriorityNormal, PriorityLow} {
		msgs, err := q.Peek(ctx, org, cluster, p)
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
	}

	if err := q.redis.Del(ctx, orderedKeys(org, cluster)...).Err(); err != nil {
		return nil, fmt.Errorf("draining cluster queue: %w", err)
	}
	return all, nil
}

// Stats summarizes queue depth for one (org, cluster) pair.
type Stats struct {
	Organization uuid.UUID
	Cluster      uuid.UUID
	High         int
	Normal       int
	Low          int
}

// GlobalStats enumerates all work queues via a non-blocking cursor scan
// (spec §4.2) and reports their depths.
func (q *Queue) GlobalStats(ctx context.Context) ([]Stats, error) {
	depths := map[string]map[Priority]int{}

	var cursor uint64
	for {
		keys, next, err := q.redis.Scan(ctx, cursor, "org:*:cluster:*:work*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning queue keys: %w", err)
		}
		for _, k := range keys {
			org, cluster, priority, ok := parseKey(k)
			if !ok {
				continue
			}
			n, err := q.redis.LLen(ctx, k).Result()
			if err != nil {
				return nil, fmt.Errorf("getting queue length for %s: %w", k, err)
			}
			id := org + "|" + cluster
			if depths[id] == nil {
				depths[id] = map[Priority]int{}
			}
			depths[id][priority] = int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out := make([]Stats, 0, len(depths))
	for id, byPriority := range depths {
		parts := strings.SplitN(id, "|", 2)
		org, _ := uuid.Parse(parts[0])
		cluster, _ := uuid.Parse(parts[1])
		out = append(out, Stats{
			Organization: org,
			Cluster:      cluster,
			High:         byPriority[PriorityHigh],
			Normal:       byPriority[PriorityNormal],
			Low:          byPriority[PriorityLow],
		})
	}
	return out, nil
}

// parseKey extracts (org, cluster, priority) from a queue key of the form
// `org:{org}:cluster:{cluster}:work[:high|:low]`.
func parseKey(k string) (org, cluster string, priority Priority, ok bool) {
	parts := strings.Split(k, ":")
	if len(parts) < 4 || parts[0] != "org" || parts[2] != "cluster" {
		return "", "", "", false
	}
	org = parts[1]
	cluster = parts[3]
	priority = PriorityNormal
	if len(parts) >= 6 && parts[4] == "work" {
		switch parts[5] {
		case "high":
			priority = PriorityHigh
		case "low":
			priority = PriorityLow
		}
	}
	return org, cluster, priority, true
}
