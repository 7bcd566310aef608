// Package app wires the sync engine's concrete collaborators (adapters,
// resilience orchestrator, job manager, pipeline stages, control plane)
// from a loaded Config into one runnable Service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/camasync/syncengine/internal/adapter"
	adapterpg "github.com/camasync/syncengine/internal/adapter/postgres"
	"github.com/camasync/syncengine/internal/adapter/sqlitesrc"
	"github.com/camasync/syncengine/internal/api"
	"github.com/camasync/syncengine/internal/audit"
	"github.com/camasync/syncengine/internal/catalog"
	"github.com/camasync/syncengine/internal/conflict"
	"github.com/camasync/syncengine/internal/config"
	dbpostgres "github.com/camasync/syncengine/internal/database/postgres"
	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/heal"
	"github.com/camasync/syncengine/internal/infrastructure/lock"
	"github.com/camasync/syncengine/internal/infrastructure/migrations"
	"github.com/camasync/syncengine/internal/jobs"
	"github.com/camasync/syncengine/internal/metrics"
	"github.com/camasync/syncengine/internal/realtime"
	"github.com/camasync/syncengine/internal/resilience"
	"github.com/camasync/syncengine/internal/syncengine"
	"github.com/camasync/syncengine/internal/transform"
	"github.com/camasync/syncengine/internal/validate"
	sharedmetrics "github.com/camasync/syncengine/pkg/metrics"
)

// Service collects every wired collaborator a running process needs: the
// HTTP router, the worker pool that executes jobs, and everything that
// must be started/stopped alongside them.
type Service struct {
	Config *config.Config
	Logger *slog.Logger

	CatalogManager *catalog.Manager
	Orchestrator   *resilience.Orchestrator
	JobManager     *jobs.Manager
	Engine         *syncengine.Engine
	Pool           *syncengine.Pool
	Router         *api.Handlers
	HTTPHandler    http.Handler

	bus         realtime.EventBus
	targetPool  *dbpostgres.PostgresPool
	dbExporter  *dbpostgres.PrometheusExporter
	redisClient *redis.Client
}

// Build wires a Service from cfg. It connects to the target database and
// source adapter but does not start the worker pool, event bus, or health
// loop — call Start for that.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	catalogMgr, err := catalog.NewManager(cfg.Sync.FieldMappingPath, cfg.Sync.ResolutionRulesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	cat := catalogMgr.GetCatalog()

	source := sqlitesrc.New(sqlitesrc.Config{
		Path:         cfg.Sqlite.Path,
		ReadOnly:     cfg.Sqlite.ReadOnly,
		BusyTimeout:  cfg.Sqlite.BusyTimeout,
		QueryTimeout: cfg.Sqlite.QueryTimeout,
		MaxOpenConns: cfg.Sqlite.MaxOpenConns,
	}, logger)
	if err := source.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect source adapter: %w", err)
	}

	if err := runMigrations(ctx, cfg, logger); err != nil {
		source.Disconnect(ctx)
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	pgConfig := &dbpostgres.PostgresConfig{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		User:              cfg.Database.Username,
		Password:          cfg.Database.Password,
		SSLMode:           cfg.Database.SSLMode,
		MaxConns:          int32(cfg.Database.MaxConnections),
		MinConns:          int32(cfg.Database.MinConnections),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second,
		ConnectTimeout:    cfg.Database.ConnectTimeout,
	}
	targetPool := dbpostgres.NewPostgresPool(pgConfig, logger)
	if err := targetPool.Connect(ctx); err != nil {
		source.Disconnect(ctx)
		return nil, fmt.Errorf("connect target pool: %w", err)
	}
	target := adapterpg.New(targetPool, logger)
	if err := target.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect target adapter: %w", err)
	}

	dbMetrics := sharedmetrics.DefaultRegistry().Infra().DB
	dbExporter := dbpostgres.NewPrometheusExporter(targetPool, dbMetrics)

	resolver, err := adapter.NewLRUIDResolver(50000)
	if err != nil {
		return nil, fmt.Errorf("create id resolver: %w", err)
	}

	orchestrator := resilience.NewOrchestrator(logger)
	wireResilience(orchestrator, cfg, source, target, logger)

	var redisClient *redis.Client
	var locker jobs.JobLocker = jobs.NoopLocker{}
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			MaxRetries:   cfg.Redis.MaxRetries,
		})
		locker = jobs.NewRedisJobLocker(redisClient, lock.DefaultConfig(), logger)
	}

	auditSink := audit.NewPostgresSink(targetPool, logger)
	jobStore := jobs.NewPostgresStore(targetPool)
	watermarkStore := jobs.NewPostgresWatermarkStore(targetPool)
	jobManager := jobs.New(jobStore, auditSink, logger, cfg.Sync.StaleJobTimeout(), time.Now)

	transformer := transform.NewTransformer(cat.Mappings)
	validator := validate.New(time.Now)
	healer := heal.New(validator, time.Now)
	conflictResolver := conflict.New(cat.Rules, conflict.DefaultClassifier)

	metricsSink := metrics.NewPrometheusSink("camasync_sync")

	bus := realtime.NewEventBus(logger, realtime.NewRealtimeMetrics("camasync"))

	engine := syncengine.New(syncengine.Deps{
		Source:       source,
		Target:       target,
		Resolver:     resolver,
		Transformer:  transformer,
		Validator:    validator,
		Healer:       healer,
		Conflicts:    conflictResolver,
		Orchestrator: orchestrator,
		JobManager:   jobManager,
		Watermarks:   watermarkStore,
		AuditSink:    auditSink,
		MetricsSink:  metricsSink,
		Logger:       logger,
	}, syncengine.Config{BatchSize: cfg.Sync.BatchSize})

	pool := syncengine.NewPool(engine, jobManager, locker, logger, syncengine.PoolConfig{
		WorkerCount:        cfg.Sync.WorkerPoolSize,
		StaleSweepInterval: cfg.Sync.StaleSweepInterval,
	})

	handlers := api.NewHandlers(jobManager, orchestrator, bus, logger)
	router := api.NewRouter(api.DefaultRouterConfig(logger, handlers))

	// relay job lifecycle notifications onto the event bus so /sync/stream
	// subscribers see status changes without polling /sync/status.
	go relayJobNotifications(jobManager, jobStore, bus, logger)

	svc := &Service{
		Config:         cfg,
		Logger:         logger,
		CatalogManager: catalogMgr,
		Orchestrator:   orchestrator,
		JobManager:     jobManager,
		Engine:         engine,
		Pool:           pool,
		Router:         handlers,
		HTTPHandler:    router,
		bus:            bus,
		targetPool:     targetPool,
		dbExporter:     dbExporter,
		redisClient:    redisClient,
	}
	return svc, nil
}

// runMigrations applies pending goose migrations against the target CAMA
// database before any adapter or pool touches it, using its own short-lived
// connection independent of the pgxpool used for regular traffic.
func runMigrations(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	mgr, err := migrations.NewMigrationManager(&migrations.MigrationConfig{
		Driver:  "pgx",
		DSN:     cfg.GetDatabaseURL(),
		Dialect: "postgres",
		Dir:     "migrations",
		Table:   "goose_db_version",
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create migration manager: %w", err)
	}
	defer mgr.Disconnect(ctx)

	if err := mgr.Connect(ctx); err != nil {
		return err
	}
	return mgr.Up(ctx)
}

// wireResilience registers per-adapter breakers, retries, rate limiters,
// health checks, and recovery actions from cfg, matching the named
// entries config.setDefaults seeds ("source", "target").
func wireResilience(o *resilience.Orchestrator, cfg *config.Config, source adapter.SourceAdapter, target adapter.TargetAdapter, logger *slog.Logger) {
	retryMetrics := sharedmetrics.NewRetryMetrics()

	for name, bc := range cfg.Breakers {
		o.RegisterBreaker(name, resilience.BreakerConfig{
			FailureThreshold:         bc.FailureThreshold,
			HalfOpenSuccessThreshold: bc.HalfOpenSuccessThreshold,
			ResetTimeout:             time.Duration(bc.ResetTimeoutSeconds) * time.Second,
		})
	}

	for name, rc := range cfg.Retries {
		strategy := o.RegisterRetry(name, resilience.RetryConfig{
			Kind:         resilience.RetryStrategyKind(rc.Strategy),
			InitialWait:  rc.InitialWait,
			Base:         rc.Base,
			MaxWait:      rc.MaxWait,
			MaxRetries:   rc.MaxRetries,
			MaxRetryTime: rc.MaxRetryTime,
			JitterFactor: rc.JitterFactor,
		})
		strategy.SetMetrics(retryMetrics)
	}

	for name, rl := range cfg.RateLimits {
		o.RegisterRateLimiter(name, rl.RequestsPerSecond, rl.Burst)
	}

	for name, hc := range cfg.Health {
		var check resilience.HealthCheckFunc
		switch name {
		case "source":
			check = source.Healthy
		case "target":
			check = target.Healthy
		default:
			continue
		}
		o.RegisterHealthCheck(
			name, check,
			time.Duration(hc.IntervalSeconds)*time.Second,
			hc.FailureThreshold, hc.RecoveryThreshold,
			hc.DependsOn, name, name,
		)
		o.RegisterRecovery(name, func(ctx context.Context) error {
			logger.Warn("recovery action invoked", "resource", name)
			return nil
		}, time.Duration(hc.CooldownSeconds)*time.Second)
	}
}

// relayJobNotifications forwards job-lifecycle notifications from the job
// manager onto the event bus, so websocket subscribers see terminal
// status changes without polling /sync/status/{job_id}.
func relayJobNotifications(jobManager *jobs.Manager, store jobs.Store, bus realtime.EventBus, logger *slog.Logger) {
	for jobID := range jobManager.Notifications() {
		job, ok := store.Get(jobID)
		if !ok {
			continue
		}
		eventType := jobEventType(job.Status)
		if eventType == "" {
			continue
		}
		err := bus.Publish(realtime.Event{
			Type: eventType,
			ID:   jobID,
			Data: map[string]any{
				"job_id": jobID,
				"status": string(job.Status),
				"kind":   string(job.Kind),
			},
			Timestamp: time.Now(),
			Source:    realtime.EventSourceJobManager,
		})
		if err != nil {
			logger.Warn("publish job event failed", "job_id", jobID, "error", err)
		}
	}
}

func jobEventType(status domain.JobStatus) string {
	switch status {
	case domain.JobStatusRunning:
		return realtime.EventTypeJobStarted
	case domain.JobStatusCompleted:
		return realtime.EventTypeJobCompleted
	case domain.JobStatusFailed:
		return realtime.EventTypeJobFailed
	case domain.JobStatusCancelled:
		return realtime.EventTypeJobCancelled
	default:
		return ""
	}
}

// Start begins the worker pool, event bus, health loop, and database
// metrics exporter. Call Stop to shut everything down in reverse order.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	s.dbExporter.Start(ctx, 10*time.Second)
	s.Orchestrator.StartHealthLoop(ctx, s.Config.Sync.HealthLoopInterval)
	s.Pool.Start(ctx)
	return nil
}

// Stop gracefully shuts down the pool, health loop, exporter, bus, and
// closes every external connection this Service opened.
func (s *Service) Stop(ctx context.Context) {
	if err := s.Pool.Stop(30 * time.Second); err != nil {
		s.Logger.Warn("worker pool shutdown timed out", "error", err)
	}
	s.Orchestrator.StopHealthLoop()
	s.dbExporter.Stop()
	s.bus.Stop(ctx)
	s.targetPool.Close()
	if s.redisClient != nil {
		s.redisClient.Close()
	}
}
