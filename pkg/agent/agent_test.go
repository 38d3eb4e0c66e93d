package agent

import (
	"testing"

	"github.com/google/uuid"
)

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []AgentClusterStatus
		want     Status
	}{
		{"empty", nil, StatusPending},
		{"all active", []AgentClusterStatus{{Status: StatusActive}, {Status: StatusActive}}, StatusActive},
		{"one pending", []AgentClusterStatus{{Status: StatusActive}, {Status: StatusPending}}, StatusPending},
		{"one failed wins", []AgentClusterStatus{{Status: StatusActive}, {Status: StatusFailed}, {Status: StatusPending}}, StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AggregateStatus(tc.statuses); got != tc.want {
				t.Errorf("AggregateStatus(%v) = %v, want %v", tc.statuses, got, tc.want)
			}
		})
	}
}

func TestConfigHash_StableUnderFieldOrder(t *testing.T) {
	resources := resourceSpecValue(ResourceSpec{CPU: "2", Memory: "4Gi", Timeout: "300s"})
	retry := retryPolicyValue(RetryPolicy{MaxAttempts: 3, Backoff: "exponential", InitialDelay: "1s"})

	a := Config{Name: "analyzer", Image: "docker.io/acme/x:v1", Resources: resources, RetryPolicy: retry, WarmPoolSize: 1, NetworkPolicy: "standard"}
	b := Config{NetworkPolicy: "standard", WarmPoolSize: 1, RetryPolicy: retry, Resources: resources, Image: "docker.io/acme/x:v1", Name: "analyzer"}

	hashA, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hashB, err := b.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if hashA != hashB {
		t.Errorf("hashes differ despite identical content: %s != %s", hashA, hashB)
	}
}

func TestConfigHash_ChangesWithContent(t *testing.T) {
	a := Config{Name: "analyzer", Image: "docker.io/acme/x:v1", NetworkPolicy: "standard"}
	b := Config{Name: "analyzer", Image: "docker.io/acme/x:v2", NetworkPolicy: "standard"}

	hashA, _ := a.Hash()
	hashB, _ := b.Hash()
	if hashA == hashB {
		t.Error("expected different hashes for different images")
	}
}

func TestValidateRegisterRequest(t *testing.T) {
	valid := RegisterRequest{
		Name:          "analyzer",
		Image:         "docker.io/acme/x:v1",
		Resources:     ResourceSpec{CPU: "2", Memory: "4Gi", Timeout: "300s"},
		RetryPolicy:   RetryPolicy{MaxAttempts: 3, Backoff: "exponential", InitialDelay: "1s"},
		WarmPoolSize:  1,
		NetworkPolicy: "standard",
	}
	if err := ValidateRegisterRequest(valid); err != nil {
		t.Errorf("expected valid request to pass, got %v", err)
	}

	invalidName := valid
	invalidName.Name = "Bad_Name!"
	if err := ValidateRegisterRequest(invalidName); err == nil {
		t.Error("expected invalid name to fail validation")
	}

	invalidImage := valid
	invalidImage.Image = "not-an-image"
	if err := ValidateRegisterRequest(invalidImage); err == nil {
		t.Error("expected invalid image to fail validation")
	}

	invalidMemory := valid
	invalidMemory.Resources.Memory = "4GB"
	if err := ValidateRegisterRequest(invalidMemory); err == nil {
		t.Error("expected invalid memory format to fail validation")
	}

	invalidWarmPool := valid
	invalidWarmPool.WarmPoolSize = 101
	if err := ValidateRegisterRequest(invalidWarmPool); err == nil {
		t.Error("expected out-of-range warmPoolSize to fail validation")
	}
}

func TestAgentClusterStatus_UniqueKey(t *testing.T) {
	agentID, clusterID := uuid.New(), uuid.New()
	st := AgentClusterStatus{AgentID: agentID, ClusterID: clusterID, Status: StatusPending}
	if st.AgentID != agentID || st.ClusterID != clusterID {
		t.Error("unexpected field values")
	}
}
