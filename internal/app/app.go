package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/wisbric/dispatch/internal/audit"
	"github.com/wisbric/dispatch/internal/auth"
	"github.com/wisbric/dispatch/internal/config"
	"github.com/wisbric/dispatch/internal/httpserver"
	"github.com/wisbric/dispatch/internal/platform"
	"github.com/wisbric/dispatch/internal/telemetry"
	"github.com/wisbric/dispatch/pkg/agent"
	"github.com/wisbric/dispatch/pkg/cluster"
	"github.com/wisbric/dispatch/pkg/execution"
	"github.com/wisbric/dispatch/pkg/notify"
	"github.com/wisbric/dispatch/pkg/orgs"
	"github.com/wisbric/dispatch/pkg/queue"
	"github.com/wisbric/dispatch/pkg/relayer"
	"github.com/wisbric/dispatch/pkg/streamregistry"
	"github.com/wisbric/dispatch/pkg/workflow"
)

const version = "0.1.0"

// Run wires every component (C1-C9) and starts the API, relayer gRPC
// server, stream-registry signal listener, and execution dispatcher,
// blocking until ctx is cancelled (spec §9 construction order: store →
// queue → signaling → stream registry → selector → orchestrator →
// stream server).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting dispatch", "mode", cfg.Mode, "listen", cfg.ListenAddr(), "grpc_listen", cfg.GRPCListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "dispatch", version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	switch cfg.Mode {
	case "migrate":
		return nil
	case "api":
		return runAPI(ctx, cfg, logger, db, rdb, metricsReg)
	case "worker":
		return runWorker(ctx, cfg, logger, db, rdb)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// components bundles the per-process wiring shared by the API server (which
// also runs the relayer gRPC service and background loops) and the worker
// mode (background loops only, for horizontal scale-out of the dispatcher
// and signal listener independent of the HTTP/gRPC surface).
type components struct {
	orgsSvc      *orgs.Service
	agents       *agent.Store
	agentOrch    *agent.Orchestrator
	clusters     *cluster.Store
	selector     *cluster.Selector
	q            *queue.Queue
	engine       *workflow.Engine
	limiter      *workflow.ConcurrencyLimiter
	notifier     *notify.Notifier
	registry     *streamregistry.Registry
	execStore    *execution.Store
	execOrch     *execution.Orchestrator
	dispatcher   *execution.Dispatcher
	relayerSrv   *relayer.Server
	auditWriter  *audit.Writer
}

func buildComponents(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) *components {
	orgsSvc := orgs.NewService(db, logger)
	agents := agent.NewStore(db)
	clusters := cluster.NewStore(db)
	q := queue.New(rdb)
	agentOrch := agent.NewOrchestrator(agents, clusters, q, logger)

	selector := cluster.NewSelector(clusters, q, time.Now().UnixNano())

	pollInterval, err := time.ParseDuration(cfg.DequeuePollInterval)
	if err != nil {
		pollInterval = 5 * time.Second
	}
	engine := workflow.NewEngine(db, rdb, pollInterval)
	limiter := workflow.NewConcurrencyLimiter(rdb, cfg.OrgConcurrencyLimit)
	notifier := notify.NewNotifier(cfg.SlackBotToken, cfg.SlackOpsChannel, logger)
	registry := streamregistry.New(rdb, clusters, logger)

	execStore := execution.NewStore(db)
	execOrch := execution.NewOrchestrator(execStore, agents, selector, q, engine, limiter, notifier, logger)
	dispatcher := execution.NewDispatcher(execOrch, execStore, pollInterval, logger)

	relayerSrv := relayer.NewServer(orgsSvc, clusters, agents, execStore, q, registry, engine, logger)

	auditWriter := audit.NewWriter(db, logger)

	return &components{
		orgsSvc: orgsSvc, agents: agents, agentOrch: agentOrch, clusters: clusters,
		selector: selector, q: q, engine: engine, limiter: limiter, notifier: notifier,
		registry: registry, execStore: execStore, execOrch: execOrch, dispatcher: dispatcher,
		relayerSrv: relayerSrv, auditWriter: auditWriter,
	}
}

// runBackgroundLoops starts the stream-registry signal listener and the
// execution retry dispatcher. Both are safe to run in every process that
// shares the same Postgres/Redis backing, so api and worker modes both
// call this (spec §9: any pod may own a stream or process a retry).
func runBackgroundLoops(ctx context.Context, c *components, logger *slog.Logger) {
	go func() {
		if err := c.registry.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("stream registry signal listener exited", "error", err)
		}
	}()
	go func() {
		if err := c.dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("execution dispatcher exited", "error", err)
		}
	}()
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, metricsReg *prometheus.Registry) error {
	c := buildComponents(cfg, logger, db, rdb)
	c.auditWriter.Start(ctx)
	defer c.auditWriter.Close()

	runBackgroundLoops(ctx, c, logger)

	apikeyAuth := auth.NewAPIKeyAuthenticator(db, logger)
	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, apikeyAuth)

	orgsHandler := orgs.NewHandler(logger, c.auditWriter, db)
	srv.APIRouter.Mount("/keys", orgsHandler.Routes())

	agentHandler := agent.NewHandler(logger, c.auditWriter, c.agentOrch, c.agents)
	srv.APIRouter.Mount("/agents", agentHandler.Routes())

	execHandler := execution.NewHandler(logger, c.auditWriter, c.execOrch, c.execStore)
	srv.APIRouter.Mount("/executions", execHandler.Routes())

	grpcSrv := grpc.NewServer()
	grpcSrv.RegisterService(&relayer.ServiceDesc, c.relayerSrv)

	grpcListener, err := net.Listen("tcp", cfg.GRPCListenAddr())
	if err != nil {
		return fmt.Errorf("listening for grpc: %w", err)
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("relayer grpc server listening", "addr", cfg.GRPCListenAddr())
		grpcErrCh <- grpcSrv.Serve(grpcListener)
	}()

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
			return
		}
		httpErrCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api and grpc servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownDrainSeconds)*time.Second)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-httpErrCh:
		grpcSrv.GracefulStop()
		return err
	case err := <-grpcErrCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownDrainSeconds)*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		return err
	}
}

// runWorker runs only the background loops (stream signal listener,
// execution dispatcher) without serving HTTP or gRPC — for horizontal
// scale-out of retry processing independent of relayer connection count.
func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) error {
	c := buildComponents(cfg, logger, db, rdb)
	logger.Info("worker started")
	runBackgroundLoops(ctx, c, logger)
	<-ctx.Done()
	logger.Info("worker stopped")
	return nil
}
