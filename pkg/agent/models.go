// Package agent implements the Agent and AgentClusterStatus models, the
// C2 agent store operations, and the C8 registration orchestrator
// (spec §3, §4.7).
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/dispatch/pkg/crypto"
	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// Status is an Agent's aggregate lifecycle state (spec §3).
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusFailed  Status = "FAILED"
)

// Agent is a declarative agent definition.
type Agent struct {
	ID                   uuid.UUID
	OrganizationID       uuid.UUID
	Name                 string
	Image                string
	Resources            jsonvalue.Value
	RetryPolicy          jsonvalue.Value
	UseAgentSandbox      bool
	WarmPoolSize         int
	NetworkPolicy        string
	EnvironmentVariables jsonvalue.Value
	ConfigHash           string
	Status               Status
	RegistrationReport   jsonvalue.Value
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Config is the behaviorally-significant subset of an Agent used to
// compute configHash (spec §3): "name, image, resources, retryPolicy,
// useAgentSandbox, warmPoolSize, networkPolicy".
type Config struct {
	Name            string          `json:"name"`
	Image           string          `json:"image"`
	Resources       jsonvalue.Value `json:"resources"`
	RetryPolicy     jsonvalue.Value `json:"retryPolicy"`
	UseAgentSandbox bool            `json:"useAgentSandbox"`
	WarmPoolSize    int             `json:"warmPoolSize"`
	NetworkPolicy   string          `json:"networkPolicy"`
}

// Hash computes the agent's configHash: SHA-256 of the canonical JSON
// serialization of Config, with recursively sorted keys (spec §3).
func (c Config) Hash() (string, error) {
	return crypto.ConfigHash(c)
}

// AgentClusterStatus is the per-cluster provisioning state for an agent
// (spec §3). `(AgentID, ClusterID)` is unique.
type AgentClusterStatus struct {
	AgentID   uuid.UUID
	ClusterID uuid.UUID
	Status    Status
	Error     string
	UpdatedAt time.Time
}

// AggregateStatus computes the global Agent.status from per-cluster
// statuses, per the spec §3 rule: "FAILED if any cluster is FAILED, else
// PENDING if any is PENDING, else ACTIVE".
func AggregateStatus(statuses []AgentClusterStatus) Status {
	if len(statuses) == 0 {
		return StatusPending
	}

	sawPending := false
	for _, s := range statuses {
		if s.Status == StatusFailed {
			return StatusFailed
		}
		if s.Status == StatusPending {
			sawPending = true
		}
	}
	if sawPending {
		return StatusPending
	}
	return StatusActive
}

// RegisterRequest is one agent configuration submitted to the registration
// orchestrator (C8 §4.7), validated against the §6 constraints.
type RegisterRequest struct {
	Name                 string          `json:"name" validate:"required,max=100"`
	Image                string          `json:"image" validate:"required"`
	Resources            ResourceSpec    `json:"resources" validate:"required"`
	RetryPolicy          RetryPolicy     `json:"retryPolicy" validate:"required"`
	UseAgentSandbox      bool            `json:"useAgentSandbox"`
	WarmPoolSize         int             `json:"warmPoolSize" validate:"gte=0,lte=100"`
	NetworkPolicy        string          `json:"networkPolicy" validate:"required,oneof=restricted standard unrestricted"`
	EnvironmentVariables jsonvalue.Value `json:"environmentVariables"`
}

// ResourceSpec is the §6 resources shape, validated by regex constraints.
type ResourceSpec struct {
	CPU     string `json:"cpu" validate:"required"`
	Memory  string `json:"memory" validate:"required"`
	GPU     string `json:"gpu"`
	Timeout string `json:"timeout" validate:"required"`
}

// RetryPolicy is the §6 retryPolicy shape.
type RetryPolicy struct {
	MaxAttempts  int    `json:"maxAttempts" validate:"required,gte=1,lte=10"`
	Backoff      string `json:"backoff" validate:"required,oneof=exponential linear constant"`
	InitialDelay string `json:"initialDelay"`
}
