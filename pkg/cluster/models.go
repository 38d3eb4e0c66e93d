// Package cluster implements the Cluster model, its store, and the C5
// cluster selector (spec §3, §4.3).
package cluster

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// Status is a Cluster's lifecycle state (spec §3).
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusFailed  Status = "FAILED"
)

// Cluster is an edge fleet exposed to the control plane by a relayer.
type Cluster struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Status         Status
	LastHeartbeat  *time.Time
	RelayerVersion string
	SecretHash     string
	Capabilities   jsonvalue.Value
	CreatedAt      time.Time
}

// Capabilities is the strongly-typed view of the capabilities JSON blob
// consulted by the C5 selector.
type Capabilities struct {
	GPUCount int    `json:"gpuCount"`
	Region   string `json:"region"`
	Sandbox  bool   `json:"sandbox"`
}

// heartbeatWindow is the spec §3 invariant: ACTIVE requires a heartbeat
// within this window of wall-clock time.
const heartbeatWindow = 120 * time.Second

// IsLive reports whether the cluster's heartbeat is within the liveness
// window as of now. It does not by itself determine Cluster.Status — that
// also requires a globally-registered stream (spec §3), which only the
// stream registry knows about.
func (c Cluster) IsLive(now time.Time) bool {
	if c.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*c.LastHeartbeat) <= heartbeatWindow
}
