// Package execution implements the Execution model, its store, and the
// C7 execution orchestrator including the retry/backoff companion workflow
// (spec §3, §4.6).
package execution

import (
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// Status is an Execution's lifecycle state. Transitions are monotone along
// PENDING → QUEUED → RUNNING → (COMPLETED | FAILED) (spec §3).
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Priority is the execution's queue priority (spec §3).
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Execution is one attempt at running an agent.
type Execution struct {
	ID             uuid.UUID
	AgentID        uuid.UUID
	OrganizationID uuid.UUID
	ClusterID      *uuid.UUID
	Status         Status
	Input          jsonvalue.Value
	Priority       Priority
	Attempt        int
	MaxAttempts    int
	QueuedAt       *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	DurationMs     *int64
	Result         jsonvalue.Value
	ResourceUsage  jsonvalue.Value
	Error          string
	NextRetryAt    *time.Time
	CreatedAt      time.Time
}

// IsTerminal reports whether status is a terminal state (spec §3:
// "completedAt set ⇔ terminal status").
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CreateRequest is the public-API execute request body (spec §6:
// `POST /api/execute`).
type CreateRequest struct {
	Agent           string          `json:"agent" validate:"required"`
	Input           jsonvalue.Value `json:"input"`
	Priority        Priority        `json:"priority"`
	PreferredCluster string         `json:"cluster"`
}

// StatusView is the public-API execution status shape (spec §6:
// `GET /api/executions/{id}`).
type StatusView struct {
	ExecutionID   uuid.UUID       `json:"executionId"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt"`
	QueuedAt      *time.Time      `json:"queuedAt,omitempty"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	DurationMs    *int64          `json:"durationMs,omitempty"`
	Result        jsonvalue.Value `json:"result,omitempty"`
	ResourceUsage jsonvalue.Value `json:"resourceUsage,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// ToStatusView projects an Execution into its public API representation.
func (e Execution) ToStatusView() StatusView {
	return StatusView{
		ExecutionID:   e.ID,
		Status:        e.Status,
		CreatedAt:     e.CreatedAt,
		QueuedAt:      e.QueuedAt,
		StartedAt:     e.StartedAt,
		CompletedAt:   e.CompletedAt,
		DurationMs:    e.DurationMs,
		Result:        e.Result,
		ResourceUsage: e.ResourceUsage,
		Error:         e.Error,
	}
}
