package queue

import (
	"testing"

	"github.com/google/uuid"
)

func testUUID(seed string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed))
}

func TestKey_PriorityNaming(t *testing.T) {
	org, cluster := testUUID("org"), testUUID("cluster")

	cases := map[Priority]string{
		PriorityHigh:   "org:" + org.String() + ":cluster:" + cluster.String() + ":work:high",
		PriorityNormal: "org:" + org.String() + ":cluster:" + cluster.String() + ":work",
		PriorityLow:    "org:" + org.String() + ":cluster:" + cluster.String() + ":work:low",
	}
	for priority, want := range cases {
		if got := key(org, cluster, priority); got != want {
			t.Errorf("key(%s) = %q, want %q", priority, got, want)
		}
	}
}

func TestOrderedKeys_PrecedenceOrder(t *testing.T) {
	org, cluster := testUUID("org"), testUUID("cluster")
	keys := orderedKeys(org, cluster)
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(keys))
	}
	if priorityOfKey(keys[0]) != PriorityHigh || priorityOfKey(keys[1]) != PriorityNormal || priorityOfKey(keys[2]) != PriorityLow {
		t.Errorf("orderedKeys precedence wrong: %v", keys)
	}
}

func TestParseKey(t *testing.T) {
	org, cluster := testUUID("org"), testUUID("cluster")

	for priority, k := range map[Priority]string{
		PriorityHigh:   key(org, cluster, PriorityHigh),
		PriorityNormal: key(org, cluster, PriorityNormal),
		PriorityLow:    key(org, cluster, PriorityLow),
	} {
		gotOrg, gotCluster, gotPriority, ok := parseKey(k)
		if !ok {
			t.Fatalf("parseKey(%q) failed", k)
		}
		if gotOrg != org.String() || gotCluster != cluster.String() || gotPriority != priority {
			t.Errorf("parseKey(%q) = (%s, %s, %s), want (%s, %s, %s)", k, gotOrg, gotCluster, gotPriority, org, cluster, priority)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg := NewWorkMessage(WorkItem{AgentName: "analyzer"})
	b, err := msg.encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodeMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Type != MessageWork || decoded.Work.AgentName != "analyzer" {
		t.Errorf("round trip mismatch: %+v", decoded)
	}
}
