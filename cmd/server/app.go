package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/starsorty/starsorty-api/internal/arbiter"
	"github.com/starsorty/starsorty-api/internal/classify"
	"github.com/starsorty/starsorty-api/internal/config"
	"github.com/starsorty/starsorty-api/internal/metrics"
	"github.com/starsorty/starsorty-api/internal/platform/gemini"
	"github.com/starsorty/starsorty-api/internal/platform/openai"
	"github.com/starsorty/starsorty-api/internal/platform/postgres"
	"github.com/starsorty/starsorty-api/internal/platform/rediscache"
	"github.com/starsorty/starsorty-api/internal/rules"
	"github.com/starsorty/starsorty-api/internal/run"
	"github.com/starsorty/starsorty-api/internal/store"
	"github.com/starsorty/starsorty-api/internal/task"
	"github.com/starsorty/starsorty-api/internal/taxonomy"
)

// application holds the shared application dependencies so wiring and
// cleanup stay in one place.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	registry *prometheus.Registry
	quality  *metrics.Quality

	repoStore store.RepoStore
	taskStore store.TaskStore

	tasks        *task.Service
	batches      *classify.Service
	orchestrator *run.Orchestrator

	cache *rediscache.Cache
}

// newApplication builds the full dependency graph. The database connection
// is established by the caller; everything downstream of it is wired here.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.quality = metrics.NewQuality(app.registry)

	schema, err := taxonomy.Load(cfg.Classify.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	logger.Info("taxonomy loaded",
		"categories", len(schema.Categories),
		"tags", len(schema.TagIDs()))

	ruleSet, err := rules.Load(cfg.Classify.RulesJSON, cfg.Classify.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load classification rules: %w", err)
	}
	logger.Info("classification rules loaded", "rules", len(ruleSet))

	arb, err := buildArbitrator(ctx, cfg, logger, schema)
	if err != nil {
		return nil, err
	}

	engine := classify.NewEngine(
		schema,
		ruleSet,
		classify.Mode(cfg.Classify.Mode),
		classify.Policy{
			DirectThreshold: cfg.Classify.DirectThreshold,
			AIBandThreshold: cfg.Classify.AIBandThreshold,
		},
		arb,
		app.quality,
		logger.With("component", "engine"),
	)

	app.repoStore = postgres.NewPostgresRepoStore(db, cfg.Classify.FailCountCap)
	app.taskStore = postgres.NewPostgresTaskStore(db)
	app.tasks = task.NewService(app.taskStore, logger.With("component", "tasks"))
	app.batches = classify.NewService(
		engine,
		app.repoStore,
		nil, // content fetching is owned by the ingestion side
		app.quality,
		logger.With("component", "classify"),
	)

	if cfg.Redis.URL != "" {
		cache, err := rediscache.New(ctx, cfg.Redis.URL, logger.With("component", "cache"))
		if err != nil {
			// The cache only accelerates list endpoints; a broken Redis
			// must not keep the server from starting.
			logger.Warn("redis unavailable, continuing without cache", "error", err)
		} else {
			app.cache = cache
		}
	}

	var invalidator run.CacheInvalidator
	if app.cache != nil {
		invalidator = app.cache
	}

	app.orchestrator = run.NewOrchestrator(
		app.repoStore,
		app.batches,
		app.tasks,
		invalidator,
		run.Config{
			DefaultBatchSize:   cfg.Classify.DefaultBatchSize,
			MaxBatchSize:       cfg.Classify.MaxBatchSize,
			DefaultConcurrency: cfg.Classify.DefaultConcurrency,
			MaxConcurrency:     cfg.Classify.MaxConcurrency,
		},
		logger.With("component", "orchestrator"),
	)

	// Tasks left running by a previous process would block retries forever.
	swept, err := app.tasks.SweepStale(
		ctx, time.Duration(cfg.Classify.StaleTaskMinutes)*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to sweep stale tasks: %w", err)
	}
	if swept > 0 {
		logger.Info("stale tasks failed at startup", "count", swept)
	}

	logger.Info("application initialized")
	return app, nil
}

// buildArbitrator selects the provider adapter from configuration and wraps
// it with retries and a circuit breaker. A nil return with nil error means
// arbitration is disabled and every AI route degrades by policy.
func buildArbitrator(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	schema *taxonomy.Schema,
) (arbiter.Arbitrator, error) {
	var (
		inner arbiter.Arbitrator
		err   error
	)
	arbLogger := logger.With("component", "arbiter")

	switch cfg.LLM.Provider {
	case "", "none":
		logger.Info("AI arbitration disabled, rule fallback only")
		return nil, nil
	case "gemini":
		inner, err = gemini.New(ctx, arbLogger, cfg.LLM, schema)
	case "openai", "anthropic":
		inner, err = openai.New(arbLogger, cfg.LLM, schema)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", arbiter.ErrInvalidConfig, cfg.LLM.Provider)
	}
	if err != nil {
		if errors.Is(err, arbiter.ErrNotConfigured) {
			logger.Warn("AI provider not configured, arbitration disabled", "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to initialize AI arbitrator: %w", err)
	}

	resilience := arbiter.DefaultResilienceConfig()
	resilience.MaxRetries = cfg.LLM.MaxRetries
	if cfg.LLM.RetryDelaySeconds > 0 {
		resilience.BaseDelay = time.Duration(cfg.LLM.RetryDelaySeconds) * time.Second
	}

	logger.Info("AI arbitrator initialized",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"max_retries", resilience.MaxRetries)
	return arbiter.NewResilientArbitrator(inner, resilience, arbLogger), nil
}

// Run starts the HTTP server and blocks until shutdown.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()
	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup releases application resources in reverse dependency order.
func (app *application) cleanup() {
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Error("error closing redis connection", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
