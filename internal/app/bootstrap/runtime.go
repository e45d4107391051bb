package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	auditadapter "github.com/toolvault/download-gateway/internal/adapters/audit"
	cacheadapter "github.com/toolvault/download-gateway/internal/adapters/cache"
	catalogadapter "github.com/toolvault/download-gateway/internal/adapters/catalog"
	eventadapter "github.com/toolvault/download-gateway/internal/adapters/events"
	httpadapter "github.com/toolvault/download-gateway/internal/adapters/http"
	"github.com/toolvault/download-gateway/internal/adapters/memory"
	metricsadapter "github.com/toolvault/download-gateway/internal/adapters/metrics"
	"github.com/toolvault/download-gateway/internal/adapters/postgres"
	"github.com/toolvault/download-gateway/internal/adapters/security"
	"github.com/toolvault/download-gateway/internal/application"
	"github.com/toolvault/download-gateway/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping download gateway",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"store", cfg.Store,
		"max_concurrent", cfg.MaxConcurrent,
	)

	cleanup := func(context.Context) {}

	var (
		tokens    ports.TokenStore
		rateLimit ports.RateLimiter
		gate      ports.ConcurrencyGate
		digests   ports.DigestCache
	)
	switch cfg.Store {
	case "redis":
		redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL, cfg.RedisPoolSize)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		tokens = cacheadapter.NewRedisTokenStore(redisClient)
		rateLimit = cacheadapter.NewRedisRateLimiter(redisClient, cfg.CooldownWindow)
		gate = cacheadapter.NewRedisConcurrencyGate(redisClient, cfg.MaxConcurrent)
		digests = cacheadapter.NewRedisDigestCache(redisClient)
		cleanup = func(context.Context) { _ = redisClient.Close() }
	default:
		tokens = memory.NewTokenStore()
		rateLimit = memory.NewRateLimiter(cfg.CooldownWindow)
		gate = memory.NewConcurrencyGate(cfg.MaxConcurrent)
		digests = memory.NewDigestCache()
	}

	var signer ports.SessionSigner
	if cfg.SessionSecret != "" {
		signer, err = security.NewSessionSigner(cfg.SessionSecret)
		if err != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("init session signer: %w", err)
		}
	} else {
		logger.Warn("using ephemeral session key for local/dev runtime")
		signer, err = security.NewEphemeralSessionSigner()
		if err != nil {
			cleanup(ctx)
			return nil, fmt.Errorf("init ephemeral session signer: %w", err)
		}
	}

	// The durable audit trail is optional. A gateway without Postgres still
	// serves downloads with the file sink only.
	var auditRepo ports.AuditRepository
	var outboxRepo ports.OutboxRepository
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
		if err != nil {
			logger.Error("postgres unavailable; durable audit disabled", "error", err)
		} else if err := postgres.RunMigrations(ctx, pool); err != nil {
			logger.Error("postgres migrations failed; durable audit disabled", "error", err)
		} else {
			repos := postgres.NewRepositories(pool)
			auditRepo = repos.Audit
			outboxRepo = repos.Outbox
			prevCleanup := cleanup
			cleanup = func(ctx context.Context) {
				if sqlDB, err := pool.DB(); err == nil {
					_ = sqlDB.Close()
				}
				prevCleanup(ctx)
			}
		}
	}

	promMetrics := metricsadapter.NewPrometheusMetrics()

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ToolsRoot:       cfg.ToolsRoot,
			TokenTTL:        cfg.TokenTTL,
			ChunkSize:       cfg.ChunkSize,
			SpeedLimitKBps:  cfg.SpeedLimitKBps,
			DigestAlgorithm: cfg.DigestAlgorithm,
		},
		Catalog:   catalogadapter.NewFileCatalog(cfg.CatalogPath),
		Tokens:    tokens,
		RateLimit: rateLimit,
		Gate:      gate,
		Digests:   digests,
		Audit:     auditadapter.NewFileSink(cfg.AuditLogPath),
		AuditRepo: auditRepo,
		Metrics:   promMetrics,
		Logger:    logger,
	})

	handler := httpadapter.NewHandler(svc, signer, cfg.SessionTTL, cfg.SecureCookies)
	router := httpadapter.NewRouter(handler, promMetrics.Handler())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		cleanup(ctx)
		return nil, fmt.Errorf("listen gRPC: %w", err)
	}

	var outbox *eventadapter.OutboxWorker
	if outboxRepo != nil {
		outbox = eventadapter.NewOutboxWorker(
			logger,
			outboxRepo,
			eventadapter.NewLoggingPublisher(logger),
			promMetrics,
			eventadapter.WorkerOptions{
				PollInterval: cfg.OutboxPollInterval,
				BatchSize:    cfg.OutboxBatchSize,
				ClaimTTL:     cfg.OutboxClaimTTL,
				MaxRetries:   cfg.OutboxMaxRetries,
			},
		)
	}

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		outbox:     outbox,
		cleanupFn:  cleanup,
	}, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.outbox == nil {
		return errors.New("outbox worker requires a configured postgres url")
	}

	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
