package cluster

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/dispatch/internal/apierr"
	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

type fakeQueueLengther struct {
	lengths map[uuid.UUID]int
}

func (f fakeQueueLengther) TotalLength(_ context.Context, _ uuid.UUID, clusterID uuid.UUID) (int, error) {
	return f.lengths[clusterID], nil
}

func capabilitiesValue(gpu int, region string, sandbox bool) jsonvalue.Value {
	v := jsonvalue.Object()
	v.Set("gpuCount", jsonvalue.Number(float64(gpu)))
	v.Set("region", jsonvalue.String(region))
	v.Set("sandbox", jsonvalue.Bool(sandbox))
	return v
}

func TestDecodeCapabilities(t *testing.T) {
	v := capabilitiesValue(2, "us-east", true)
	c := decodeCapabilities(v)
	if c.GPUCount != 2 || c.Region != "us-east" || !c.Sandbox {
		t.Fatalf("decodeCapabilities = %+v", c)
	}
}

func TestMinFloat(t *testing.T) {
	if got := minFloat(10, 50); got != 10 {
		t.Errorf("minFloat(10, 50) = %v, want 10", got)
	}
	if got := minFloat(60, 50); got != 50 {
		t.Errorf("minFloat(60, 50) = %v, want 50", got)
	}
}

func TestSelectorScore_PreferredRegionBonus(t *testing.T) {
	now := time.Now()
	sel := &Selector{}
	clusterA := Cluster{ID: uuid.New(), LastHeartbeat: &now, Capabilities: capabilitiesValue(0, "us-east", false)}
	clusterB := Cluster{ID: uuid.New(), LastHeartbeat: &now, Capabilities: capabilitiesValue(0, "eu-west", false)}

	queue := fakeQueueLengther{lengths: map[uuid.UUID]int{clusterA.ID: 0, clusterB.ID: 0}}
	sel.queue = queue
	sel.rand = rand.New(rand.NewSource(0))

	scoreA, err := sel.score(context.Background(), uuid.Nil, clusterA, Preferences{PreferredRegion: "us-east"}, now)
	if err != nil {
		t.Fatal(err)
	}
	scoreB, err := sel.score(context.Background(), uuid.Nil, clusterB, Preferences{PreferredRegion: "us-east"}, now)
	if err != nil {
		t.Fatal(err)
	}
	if scoreA <= scoreB {
		t.Errorf("expected region-matching cluster to score higher: A=%v B=%v", scoreA, scoreB)
	}
}

func TestNoEligibleClusterError_KindAndStatus(t *testing.T) {
	sel := &Selector{store: nil, queue: fakeQueueLengther{}, rand: rand.New(rand.NewSource(0))}
	_ = sel

	apiErr := apierr.NoEligibleCluster("no cluster satisfies the requested capabilities")
	if apiErr.Kind != apierr.KindNoEligibleClust {
		t.Fatalf("unexpected kind: %v", apiErr.Kind)
	}
	if apiErr.HTTPStatus() != 422 {
		t.Errorf("HTTPStatus = %d, want 422", apiErr.HTTPStatus())
	}
}
