// Package queue implements C3: a Redis-backed, per-(organization,cluster,
// priority) FIFO work queue with blocking dequeue, peek, length, and drain
// (spec §4.2).
package queue

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/wisbric/dispatch/pkg/jsonvalue"
)

// Priority is strictly ordered high > normal > low at dequeue time (spec §4.2).
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// MessageType tags the QueueMessage union (spec §3).
type MessageType string

const (
	MessageWork         MessageType = "WORK"
	MessageRegistration MessageType = "REGISTRATION"
)

// WorkItem is the transient payload carried for one execution attempt
// (spec §3): created on enqueue, destroyed on successful stream write.
type WorkItem struct {
	ExecutionID   uuid.UUID       `json:"executionId"`
	AgentID       uuid.UUID       `json:"agentId"`
	AgentName     string          `json:"agentName"`
	AgentImage    string          `json:"agentImage"`
	Input         jsonvalue.Value `json:"input"`
	Resources     jsonvalue.Value `json:"resources"`
	RetryPolicy   jsonvalue.Value `json:"retryPolicy"`
	UseSandbox    bool            `json:"useSandbox"`
	NetworkPolicy string          `json:"networkPolicy"`
	WarmPoolSize  int             `json:"warmPoolSize"`
	EnvVars       jsonvalue.Value `json:"environmentVariables"`
}

// RegistrationItem conveys enough to materialize an agent's workload on the
// edge (spec §3: "registration messages convey enough to materialize the
// workload on the edge; work messages are lean").
type RegistrationItem struct {
	AgentID       uuid.UUID       `json:"agentId"`
	AgentName     string          `json:"agentName"`
	AgentImage    string          `json:"agentImage"`
	Resources     jsonvalue.Value `json:"resources"`
	RetryPolicy   jsonvalue.Value `json:"retryPolicy"`
	UseSandbox    bool            `json:"useSandbox"`
	WarmPoolSize  int             `json:"warmPoolSize"`
	NetworkPolicy string          `json:"networkPolicy"`
	EnvVars       jsonvalue.Value `json:"environmentVariables"`
}

// Message is the wire-level tagged union enqueued/dequeued by the queue.
// Exactly one of Work/Registration is populated, selected by Type.
type Message struct {
	Type         MessageType       `json:"type"`
	Work         *WorkItem         `json:"work,omitempty"`
	Registration *RegistrationItem `json:"registration,omitempty"`
}

// NewWorkMessage wraps a WorkItem as a Message.
func NewWorkMessage(item WorkItem) Message {
	return Message{Type: MessageWork, Work: &item}
}

// NewRegistrationMessage wraps a RegistrationItem as a Message.
func NewRegistrationMessage(item RegistrationItem) Message {
	return Message{Type: MessageRegistration, Registration: &item}
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

func decodeMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
