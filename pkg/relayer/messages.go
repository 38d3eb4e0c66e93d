package relayer

import "github.com/wisbric/dispatch/pkg/jsonvalue"

// RegisterClusterRequest is the unary RegisterCluster RPC input (spec §6).
type RegisterClusterRequest struct {
	APIKey         string          `json:"apiKey"`
	ClusterName    string          `json:"clusterName"`
	RelayerVersion string          `json:"relayerVersion"`
	Capabilities   jsonvalue.Value `json:"capabilities"`
}

// RegisterClusterResponse is the unary RegisterCluster RPC output. ClusterToken
// is returned in plaintext exactly once (spec §6).
type RegisterClusterResponse struct {
	ClusterID    string          `json:"clusterId"`
	ConfigJSON   jsonvalue.Value `json:"configJson"`
	ClusterToken string          `json:"clusterToken"`
}

// FrameType tags the client→server and server→client frame unions carried
// over the Stream RPC (spec §6).
type FrameType string

const (
	FrameHeartbeat       FrameType = "heartbeat"
	FrameExecutionStatus FrameType = "execution_status"
	FrameLogBatch        FrameType = "log_batch"
	FrameMetricBatch     FrameType = "metric_batch"
	FrameTraceBatch      FrameType = "trace_batch"

	FrameWorkItem         FrameType = "work_item"
	FrameRegistrationItem FrameType = "registration_item"
	FrameConfigUpdate     FrameType = "config_update"
)

// ExecutionStatusFrame reports the terminal or interim status of one
// execution attempt, inbound from the relayer (spec §6).
type ExecutionStatusFrame struct {
	ExecutionID   string          `json:"executionId"`
	Status        string          `json:"status"`
	Result        jsonvalue.Value `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	DurationMs    int64           `json:"durationMs,omitempty"`
	ResourceUsage jsonvalue.Value `json:"resourceUsage,omitempty"`
}

// ClientFrame is the client→server tagged union: exactly one of the
// non-empty fields is populated, selected by Type (spec §6).
type ClientFrame struct {
	Type            FrameType             `json:"type"`
	ExecutionStatus *ExecutionStatusFrame `json:"executionStatus,omitempty"`
	LogBatch        jsonvalue.Value       `json:"logBatch,omitempty"`
	MetricBatch     jsonvalue.Value       `json:"metricBatch,omitempty"`
	TraceBatch      jsonvalue.Value       `json:"traceBatch,omitempty"`
}

// ServerFrame is the server→client tagged union (spec §6).
type ServerFrame struct {
	Type             FrameType       `json:"type"`
	WorkItem         jsonvalue.Value `json:"workItem,omitempty"`
	RegistrationItem jsonvalue.Value `json:"registrationItem,omitempty"`
	ConfigUpdate     jsonvalue.Value `json:"configUpdate,omitempty"`
}
