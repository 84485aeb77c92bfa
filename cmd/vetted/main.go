package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/servicehub/vetted/internal/config"
	"github.com/servicehub/vetted/internal/control"
	"github.com/servicehub/vetted/internal/engine"
	"github.com/servicehub/vetted/internal/metrics"
	"github.com/servicehub/vetted/internal/model"
	"github.com/servicehub/vetted/internal/queue"
	"github.com/servicehub/vetted/internal/registry"
	"github.com/servicehub/vetted/internal/runtime"
	"github.com/servicehub/vetted/internal/storage"
	"github.com/servicehub/vetted/internal/telemetry"
	"github.com/servicehub/vetted/internal/verify"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("VETTED_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("vetted starting", "version", version, "store", cfg.StoreBackend)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Task and decision stores.
	var (
		tasks     storage.TaskStore
		decisions storage.DecisionStore
	)
	mem := storage.NewMemory()
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		tasks, decisions = pg, pg
		logger.Info("storage: postgres")
	default:
		tasks, decisions = mem, mem
		logger.Info("storage: memory")
	}

	// Provider records live in the marketplace's SQLite database.
	var providers storage.ProviderStore = mem
	if cfg.ProviderDBPath != "" {
		sq, err := storage.NewSQLite(cfg.ProviderDBPath)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer func() { _ = sq.Close() }()
		if err := sq.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		providers = sq
		logger.Info("providers: sqlite", "path", cfg.ProviderDBPath)
	} else {
		logger.Info("providers: memory (no VETTED_PROVIDER_DB)")
	}

	// Identity registry: real HTTP endpoint when configured, otherwise the
	// in-process static registry seeded from file.
	var reg registry.Registry
	if cfg.RegistryURL != "" {
		reg = registry.NewHTTPRegistry(registry.HTTPConfig{
			BaseURL:        cfg.RegistryURL,
			APIKey:         cfg.RegistryAPIKey,
			RequestTimeout: cfg.RegistryTimeout,
			Rate:           cfg.RegistryRPS,
			Burst:          cfg.RegistryBurst,
		}, logger)
		logger.Info("registry: http", "url", cfg.RegistryURL)
	} else {
		seed, err := config.LoadRegistrySeed(cfg.RegistrySeedPath)
		if err != nil {
			return fmt.Errorf("registry: %w", err)
		}
		static := registry.NewStatic()
		for _, doc := range seed {
			static.Add(registry.Entry{
				DocumentType: doc.Type,
				Number:       doc.Number,
				HolderName:   doc.HolderName,
				Phone:        doc.Phone,
			})
		}
		reg = static
		logger.Info("registry: static", "seeded", len(seed))
	}

	agents, err := config.LoadAgents(cfg.AgentsPath)
	if err != nil {
		return err
	}

	q := queue.New()
	q.RegisterMetrics()

	verifier := verify.New(reg, logger)
	eng := engine.New(map[model.AgentType]engine.Evaluator{
		model.AgentKYC:            engine.NewKYCEvaluator(providers, verifier, logger),
		model.AgentFraud:          engine.NewFraudEvaluator(logger),
		model.AgentServiceQuality: engine.NewRuleEvaluator(logger),
		model.AgentSupport:        engine.NewRuleEvaluator(logger),
		model.AgentQA:             engine.NewRuleEvaluator(logger),
	})
	agg := metrics.New(decisions)

	rt := runtime.New(q, eng, tasks, decisions, agg, logger,
		runtime.WithRetryPolicy(cfg.RetryBudget, cfg.RetryBase, cfg.RetryCap),
		runtime.WithApplier(engine.NewKYCApplier(providers)),
	)
	for _, a := range agents {
		if err := rt.Register(a); err != nil {
			return err
		}
	}
	if err := rt.Start(ctx); err != nil {
		return err
	}

	plane := control.New(rt, q, tasks, decisions, providers, agg, logger)

	// Reload tasks a previous run left pending in the stores.
	if n, err := plane.RequeuePending(ctx); err != nil {
		logger.Warn("startup requeue failed", "error", err)
	} else if n > 0 {
		logger.Info("startup requeue", "tasks", n)
	}

	// Kick off verification for providers already waiting when we come up.
	if n, err := plane.BulkEnqueuePendingKYC(ctx); err != nil {
		logger.Warn("startup kyc enqueue failed", "error", err)
	} else if n > 0 {
		logger.Info("startup kyc enqueue", "tasks", n)
	}

	logger.Info("vetted running", "agents", len(agents))

	<-ctx.Done()
	logger.Info("shutting down")

	// Loops drain their in-flight task and exit; tasks still pending stay
	// in the stores and are requeued on the next start.
	if err := rt.Wait(); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
