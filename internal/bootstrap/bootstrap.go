package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/crimson-crm/internal/config"
	"github.com/kirillkom/crimson-crm/internal/core/domain"
	"github.com/kirillkom/crimson-crm/internal/core/ports"
	"github.com/kirillkom/crimson-crm/internal/core/usecase"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/queue/nats"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/resilience"
	"github.com/kirillkom/crimson-crm/internal/infrastructure/sudreg"
	"github.com/kirillkom/crimson-crm/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue       *nats.Queue
	SyncMetrics *metrics.SyncMetrics

	SyncUC    *usecase.RegistrySyncUseCase
	QueryUC   *usecase.CompanyQueryUseCase
	ImportUC  *usecase.CRMImportUseCase
	TriggerUC *usecase.SyncTrigger

	closeOnce sync.Once
	closeFn   func()
}

// New wires every process from one config. NATS and Neo4j are optional:
// an empty NATS_URL or NEO4J_URI disables them.
func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	registryRepo := postgres.NewRegistryRepository(db)
	if err := registryRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure registry schema: %w", err)
	}
	crmRepo := postgres.NewCRMRepository(db)
	if err := crmRepo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure crm schema: %w", err)
	}

	syncMetrics := metrics.NewSyncMetrics(service)
	registryExecutor := resilience.NewExecutor(resilience.RegistryConfig(cfg.SudregBreakerEnabled), logger)
	registryExecutor.OnStateChange(syncMetrics.ObserveBreakerState)
	client := sudreg.New(sudreg.Config{
		BaseURL:        cfg.SudregBaseURL,
		TokenURL:       cfg.SudregTokenURL,
		ClientID:       cfg.SudregClientID,
		ClientSecret:   cfg.SudregClientSecret,
		Timeout:        time.Duration(cfg.SudregHTTPTimeoutSeconds) * time.Second,
		RateLimitRPS:   cfg.SudregRateLimitRPS,
		RateLimitBurst: cfg.SudregRateLimitBurst,
	}, registryExecutor)

	closers := []func(){func() { _ = db.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		queue  *nats.Queue
		events ports.SyncEventPublisher
	)
	if cfg.NATSURL != "" {
		queue, err = nats.New(cfg.NATSURL, nats.Options{
			TriggerSubject:     cfg.NATSSyncTriggerSubject,
			EventsSubject:      cfg.NATSSyncEventsSubject,
			ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig(), logger),
			Logger:             logger,
		})
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		events = queue
		closers = append(closers, queue.Close)
	}

	var graph ports.ClassificationGraph
	if cfg.Neo4jURI != "" {
		g, err := openGraph(ctx, cfg, logger)
		if err != nil {
			// The projection is a side channel; the registry cache works without it.
			logger.Warn("graph_projection_disabled", "error", err)
		} else {
			graph = g
			closers = append(closers, func() { _ = g.Close(context.Background()) })
		}
	}

	syncUC := usecase.NewRegistrySyncUseCase(client, registryRepo, events, graph, syncMetrics, domain.SyncLimits{
		PageSize:          cfg.SudregPageSize,
		DetailConcurrency: cfg.SyncDetailConcurrency,
	}, logger)
	queryUC := usecase.NewCompanyQueryUseCase(client, registryRepo, graph, logger)
	importUC := usecase.NewCRMImportUseCase(registryRepo, crmRepo, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:       queue,
		SyncMetrics: syncMetrics,

		SyncUC:    syncUC,
		QueryUC:   queryUC,
		ImportUC:  importUC,
		TriggerUC: usecase.NewSyncTrigger(syncUC, logger),

		closeFn: func() {
			// Let an in-flight run finish before its stores go away.
			syncUC.Wait()
			closeAll()
		},
	}, nil
}

func openGraph(ctx context.Context, cfg config.Config, logger *slog.Logger) (*neo4j.ClassificationGraph, error) {
	g, err := neo4j.New(ctx, neo4j.Config{
		URI:      cfg.Neo4jURI,
		User:     cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
		Database: cfg.Neo4jDatabase,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := g.EnsureConstraints(ctx); err != nil {
		_ = g.Close(ctx)
		return nil, err
	}
	return g, nil
}

// Close releases every store exactly once; later calls are no-ops.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.closeFn != nil {
			a.closeFn()
		}
	})
}
