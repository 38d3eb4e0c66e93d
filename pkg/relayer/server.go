// Package relayer implements C9: the gRPC-facing stream loop that
// authenticates edge relayers, registers their streams (C4), marks
// clusters ACTIVE (C2), pushes C3 work and registration messages to the
// wire, and turns inbound execution status frames into C7 workflow events
// (spec §4.8).
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/wisbric/dispatch/pkg/agent"
	"github.com/wisbric/dispatch/pkg/cluster"
	"github.com/wisbric/dispatch/pkg/crypto"
	"github.com/wisbric/dispatch/pkg/execution"
	"github.com/wisbric/dispatch/pkg/jsonvalue"
	"github.com/wisbric/dispatch/pkg/orgs"
	"github.com/wisbric/dispatch/pkg/queue"
	"github.com/wisbric/dispatch/pkg/streamregistry"
	"github.com/wisbric/dispatch/pkg/workflow"
)

// dequeuePollInterval is how long the producer blocks per Dequeue call
// while waiting for work (spec §4.8 step 3).
const dequeuePollInterval = 5 * time.Second

// Server implements RelayerServer: the two relayer-facing RPCs.
type Server struct {
	orgs       *orgs.Service
	clusters   *cluster.Store
	agents     *agent.Store
	executions *execution.Store
	queue      *queue.Queue
	registry   *streamregistry.Registry
	engine     *workflow.Engine
	logger     *slog.Logger
}

// NewServer creates a relayer Server.
func NewServer(orgSvc *orgs.Service, clusters *cluster.Store, agents *agent.Store, executions *execution.Store, q *queue.Queue, registry *streamregistry.Registry, engine *workflow.Engine, logger *slog.Logger) *Server {
	return &Server{orgs: orgSvc, clusters: clusters, agents: agents, executions: executions, queue: q, registry: registry, engine: engine, logger: logger}
}

// RegisterCluster authenticates the caller's API key, mints a cluster
// record in PENDING status, and returns a one-time cluster token whose
// bcrypt hash alone is persisted (spec §4.8 step 1, §6).
func (s *Server) RegisterCluster(ctx context.Context, req RegisterClusterRequest) (RegisterClusterResponse, error) {
	key, ok, err := s.orgs.VerifyAPIKey(ctx, req.APIKey)
	if err != nil {
		return RegisterClusterResponse{}, status.Error(codes.Internal, "verifying api key")
	}
	if !ok {
		return RegisterClusterResponse{}, status.Error(codes.Unauthenticated, "invalid api key")
	}

	rawToken, tokenHash, err := crypto.GenerateClusterToken()
	if err != nil {
		return RegisterClusterResponse{}, status.Error(codes.Internal, "generating cluster token")
	}

	c, err := s.clusters.Register(ctx, cluster.RegisterParams{
		OrganizationID: key.OrganizationID,
		Name:           req.ClusterName,
		RelayerVersion: req.RelayerVersion,
		SecretHash:     tokenHash,
		Capabilities:   req.Capabilities,
	})
	if err != nil {
		return RegisterClusterResponse{}, status.Error(codes.Internal, "registering cluster")
	}

	config := jsonvalue.Object()
	config.Set("clusterId", jsonvalue.String(c.ID.String()))
	config.Set("organizationId", jsonvalue.String(c.OrganizationID.String()))

	return RegisterClusterResponse{
		ClusterID:    c.ID.String(),
		ConfigJSON:   config,
		ClusterToken: rawToken,
	}, nil
}

// serverStream adapts a grpc.ServerStream into the Send/Close surface the
// stream registry needs, writing frames through the JSON codec.
type serverStream struct {
	stream grpc.ServerStream
}

func (s *serverStream) Send(msg []byte) error {
	var frame ServerFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return err
	}
	return s.stream.SendMsg(&frame)
}

func (s *serverStream) Close() {}

// Stream runs the C9 stream loop for one relayer connection: authenticate,
// register (C4), mark ACTIVE (C2), spawn a work-queue producer, and serve
// inbound frames until end-of-stream, error, or reaper expiry (spec §4.8).
func (s *Server) Stream(stream grpc.ServerStream) error {
	ctx := stream.Context()

	organizationID, clusterID, err := s.authenticateStream(ctx)
	if err != nil {
		return err
	}

	wrapped := &serverStream{stream: stream}
	if err := s.registry.RegisterStream(ctx, clusterID, wrapped); err != nil {
		return status.Error(codes.Internal, "registering stream")
	}
	if err := s.clusters.MarkActive(ctx, clusterID); err != nil {
		s.logger.Error("marking cluster active", "cluster_id", clusterID, "error", err)
	}

	producerDone := make(chan struct{})
	go s.runProducer(ctx, organizationID, clusterID, producerDone)
	defer func() { <-producerDone }()

	for {
		var frame ClientFrame
		if err := stream.RecvMsg(&frame); err != nil {
			s.registry.UnregisterStream(ctx, clusterID, teardownReason(err))
			return nil
		}
		s.handleInboundFrame(ctx, clusterID, frame)
	}
}

func (s *Server) authenticateStream(ctx context.Context) (organizationID, clusterID uuid.UUID, err error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return uuid.Nil, uuid.Nil, status.Error(codes.Unauthenticated, "missing metadata")
	}

	apiKeys := md.Get("x-api-key")
	clusterIDs := md.Get("cluster-id")
	if len(apiKeys) == 0 || len(clusterIDs) == 0 {
		return uuid.Nil, uuid.Nil, status.Error(codes.Unauthenticated, "missing x-api-key or cluster-id")
	}

	key, ok, err := s.orgs.VerifyAPIKey(ctx, apiKeys[0])
	if err != nil || !ok {
		return uuid.Nil, uuid.Nil, status.Error(codes.Unauthenticated, "invalid api key")
	}

	cid, err := uuid.Parse(clusterIDs[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, status.Error(codes.Unauthenticated, "invalid cluster-id")
	}

	c, err := s.clusters.Get(ctx, key.OrganizationID, cid)
	if err != nil {
		return uuid.Nil, uuid.Nil, status.Error(codes.Unauthenticated, "unknown cluster")
	}

	return key.OrganizationID, c.ID, nil
}

// runProducer repeatedly dequeues work for (organizationID, clusterID) and
// writes it to the stream, exiting once this pod no longer owns the stream
// or a write fails (spec §4.8 step 3).
func (s *Server) runProducer(ctx context.Context, organizationID, clusterID uuid.UUID, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := s.queue.Dequeue(ctx, organizationID, clusterID, dequeuePollInterval)
		if err != nil {
			if err == queue.ErrEmpty {
				continue
			}
			s.logger.Warn("dequeuing work for stream", "cluster_id", clusterID, "error", err)
			continue
		}

		frame, ok := frameFromMessage(msg)
		if !ok {
			continue
		}

		if !s.registry.IsLocal(clusterID) {
			return
		}

		encoded, err := json.Marshal(frame)
		if err != nil {
			s.logger.Error("encoding server frame", "cluster_id", clusterID, "error", err)
			continue
		}
		if err := s.registry.SendToCluster(ctx, clusterID, encoded); err != nil {
			s.logger.Warn("writing frame to stream, unregistering", "cluster_id", clusterID, "error", err)
			s.registry.UnregisterStream(ctx, clusterID, "write_error")
			return
		}
	}
}

func (s *Server) handleInboundFrame(ctx context.Context, clusterID uuid.UUID, frame ClientFrame) {
	if frame.Type != FrameHeartbeat {
		// Every inbound frame counts as liveness: re-arm the reaper off the
		// read path.
		go func() {
			if err := s.registry.Heartbeat(context.Background(), clusterID); err != nil {
				s.logger.Warn("heartbeat", "cluster_id", clusterID, "error", err)
			}
		}()
	}

	switch frame.Type {
	case FrameHeartbeat:
		go func() {
			bg := context.Background()
			if err := s.registry.Heartbeat(bg, clusterID); err != nil {
				s.logger.Warn("heartbeat", "cluster_id", clusterID, "error", err)
			}
			if err := s.clusters.TouchHeartbeat(bg, clusterID); err != nil {
				s.logger.Warn("touching cluster heartbeat", "cluster_id", clusterID, "error", err)
			}
		}()
	case FrameExecutionStatus:
		if frame.ExecutionStatus == nil {
			return
		}
		s.dispatchExecutionStatus(ctx, *frame.ExecutionStatus)
	case FrameLogBatch, FrameMetricBatch, FrameTraceBatch:
		// Forwarded to an external telemetry sink, out of scope here.
	}
}

// dispatchExecutionStatus turns an inbound execution_status frame into the
// execution.completed or execution.failed workflow event C7's dispatchers
// consume, or — for a RUNNING frame — an opportunistic store write that
// C7's workflow neither requires nor waits on (spec §4.8 step 4, §6
// resolution 2).
func (s *Server) dispatchExecutionStatus(ctx context.Context, f ExecutionStatusFrame) {
	switch f.Status {
	case "completed", "COMPLETED":
		payload := jsonvalue.Object()
		payload.Set("executionId", jsonvalue.String(f.ExecutionID))
		payload.Set("result", f.Result)
		payload.Set("resourceUsage", f.ResourceUsage)
		payload.Set("durationMs", jsonvalue.Number(float64(f.DurationMs)))
		if err := s.engine.Send(ctx, "execution.completed", payload, nil); err != nil {
			s.logger.Error("emitting execution.completed", "execution_id", f.ExecutionID, "error", err)
		}
	case "failed", "FAILED":
		payload := jsonvalue.Object()
		payload.Set("executionId", jsonvalue.String(f.ExecutionID))
		payload.Set("error", jsonvalue.String(f.Error))
		if err := s.engine.Send(ctx, "execution.failed", payload, nil); err != nil {
			s.logger.Error("emitting execution.failed", "execution_id", f.ExecutionID, "error", err)
		}
	case "running", "RUNNING":
		id, err := uuid.Parse(f.ExecutionID)
		if err != nil {
			s.logger.Warn("execution_status RUNNING frame has invalid executionId", "execution_id", f.ExecutionID, "error", err)
			return
		}
		if _, err := s.executions.TransitionToRunning(ctx, id); err != nil && err != execution.ErrCASFailed {
			s.logger.Warn("recording execution RUNNING", "execution_id", f.ExecutionID, "error", err)
		}
	default:
		s.logger.Warn("execution_status frame has unknown status", "execution_id", f.ExecutionID, "status", f.Status)
	}
}

func frameFromMessage(msg queue.Message) (ServerFrame, bool) {
	switch msg.Type {
	case queue.MessageWork:
		if msg.Work == nil {
			return ServerFrame{}, false
		}
		v, err := encodeAsValue(msg.Work)
		if err != nil {
			return ServerFrame{}, false
		}
		return ServerFrame{Type: FrameWorkItem, WorkItem: v}, true
	case queue.MessageRegistration:
		if msg.Registration == nil {
			return ServerFrame{}, false
		}
		v, err := encodeAsValue(msg.Registration)
		if err != nil {
			return ServerFrame{}, false
		}
		return ServerFrame{Type: FrameRegistrationItem, RegistrationItem: v}, true
	default:
		return ServerFrame{}, false
	}
}

func encodeAsValue(v any) (jsonvalue.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return jsonvalue.Undefined(), err
	}
	var out jsonvalue.Value
	if err := out.UnmarshalJSON(b); err != nil {
		return jsonvalue.Undefined(), err
	}
	return out, nil
}

func teardownReason(err error) string {
	if err == nil || errors.Is(err, io.EOF) {
		return "end_of_stream"
	}
	return "error"
}
