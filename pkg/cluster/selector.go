package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/dispatch/internal/apierr"
	"github.com/wisbric/dispatch/internal/telemetry"
	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// QueueLengther reports the current queue length for a cluster, summed
// across priorities — the C5 selector's load signal (spec §4.3 step 3).
// Satisfied by *queue.Queue without pkg/cluster importing pkg/queue.
type QueueLengther interface {
	TotalLength(ctx context.Context, organizationID, clusterID uuid.UUID) (int, error)
}

// Preferences are the optional selection hints from an execute request
// (spec §4.3).
type Preferences struct {
	PreferredRegion string
	RequireGPU      bool
	RequireSandbox  bool
}

// Selector implements C5: filters eligible clusters and scores them by
// load, health, and region.
type Selector struct {
	store *Store
	queue QueueLengther
	rand  *rand.Rand
}

// NewSelector creates a Selector. rngSeed fixes the jitter source for
// deterministic tests (spec §4.3: "deterministic only when the jitter
// source is seeded deterministically"); production wiring passes the
// wall-clock time in nanoseconds.
func NewSelector(store *Store, queue QueueLengther, rngSeed int64) *Selector {
	return &Selector{store: store, queue: queue, rand: rand.New(rand.NewSource(rngSeed))}
}

type scoredCluster struct {
	cluster Cluster
	score   float64
}

// Select runs the C5 algorithm: fetch ACTIVE clusters, filter by
// capability requirements, score survivors, and return the top-scoring
// cluster. Returns apierr.NoEligibleCluster when the filtered set is empty.
func (s *Selector) Select(ctx context.Context, organizationID uuid.UUID, prefs Preferences) (Cluster, error) {
	start := time.Now()
	defer func() {
		telemetry.ClusterSelectionDuration.Observe(time.Since(start).Seconds())
	}()

	clusters, err := s.store.ListEligibleClusters(ctx, organizationID)
	if err != nil {
		return Cluster{}, fmt.Errorf("listing eligible clusters: %w", err)
	}

	candidates := make([]Cluster, 0, len(clusters))
	for _, c := range clusters {
		caps := decodeCapabilities(c.Capabilities)
		if prefs.RequireGPU && caps.GPUCount <= 0 {
			continue
		}
		if prefs.RequireSandbox && !caps.Sandbox {
			continue
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		telemetry.NoEligibleClusterTotal.Inc()
		return Cluster{}, apierr.NoEligibleCluster("no cluster satisfies the requested capabilities")
	}

	now := time.Now()
	scored := make([]scoredCluster, 0, len(candidates))
	for _, c := range candidates {
		score, err := s.score(ctx, organizationID, c, prefs, now)
		if err != nil {
			return Cluster{}, fmt.Errorf("scoring cluster %s: %w", c.ID, err)
		}
		scored = append(scored, scoredCluster{cluster: c, score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored[0].cluster, nil
}

// Lookup returns the cluster by id if it exists in organizationID and is
// ACTIVE, for the "try the caller's preferred cluster first" path; it
// applies no capability filter or scoring. Otherwise it returns an error,
// and the caller (Orchestrator.Run) falls back to Select.
func (s *Selector) Lookup(ctx context.Context, organizationID, clusterID uuid.UUID) (Cluster, error) {
	c, err := s.store.Get(ctx, organizationID, clusterID)
	if err != nil {
		return Cluster{}, fmt.Errorf("looking up preferred cluster: %w", err)
	}
	if c.Status != StatusActive {
		return Cluster{}, apierr.NoEligibleCluster("preferred cluster is not ACTIVE")
	}
	return c, nil
}

func (s *Selector) score(ctx context.Context, organizationID uuid.UUID, c Cluster, prefs Preferences, now time.Time) (float64, error) {
	score := 100.0

	queueLen, err := s.queue.TotalLength(ctx, organizationID, c.ID)
	if err != nil {
		return 0, err
	}
	score -= minFloat(float64(queueLen)*5, 50)

	if c.LastHeartbeat == nil {
		score -= 10
	} else if age := now.Sub(*c.LastHeartbeat); age > 5*time.Minute {
		ageMinutes := age.Minutes()
		score -= minFloat(ageMinutes*2, 20)
	}

	caps := decodeCapabilities(c.Capabilities)
	if prefs.PreferredRegion != "" && caps.Region == prefs.PreferredRegion {
		score += 20
	}

	score += s.rand.Float64() * 10

	return score, nil
}

func decodeCapabilities(v jsonvalue.Value) Capabilities {
	var c Capabilities
	if n, ok := v.Get("gpuCount").AsNumber(); ok {
		c.GPUCount = int(n)
	}
	if s, ok := v.Get("region").AsString(); ok {
		c.Region = s
	}
	if b, ok := v.Get("sandbox").AsBool(); ok {
		c.Sandbox = b
	}
	return c
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
