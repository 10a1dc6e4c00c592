package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carsnap/angle-review/internal/config"
	"github.com/carsnap/angle-review/internal/core/ports"
	"github.com/carsnap/angle-review/internal/core/usecase"
	natsbus "github.com/carsnap/angle-review/internal/infrastructure/bus/nats"
	memorycache "github.com/carsnap/angle-review/internal/infrastructure/cache/memory"
	rediscache "github.com/carsnap/angle-review/internal/infrastructure/cache/redis"
	"github.com/carsnap/angle-review/internal/infrastructure/repository/postgres"
	"github.com/carsnap/angle-review/internal/infrastructure/resilience"
	"github.com/carsnap/angle-review/internal/infrastructure/scorer/heuristic"
	"github.com/carsnap/angle-review/internal/infrastructure/scorer/vision"
	"github.com/carsnap/angle-review/internal/observability/logging"
)

// App wires the whole dependency graph once for both binaries.
type App struct {
	Config config.Config
	Log    *slog.Logger

	Repo ports.ImageRepository
	Bus  ports.EventBus

	ClassifyUC *usecase.ClassifyBatchUseCase
	Persist    *usecase.PersistUseCase
	Gate       *usecase.GenerationGate
	Poller     *usecase.StatusPoller

	closeFn func()
}

func New(ctx context.Context, service string, cfg config.Config) (*App, error) {
	log := logging.NewJSONLogger(service, cfg.LogLevel)
	slog.SetDefault(log)

	executor := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
			Multiplier:  cfg.RetryMultiplier,
		},
		Breaker: resilience.BreakerPolicy{
			Enabled:      true,
			MinRequests:  uint32(cfg.BreakerMinRequests),
			FailureRatio: cfg.BreakerFailureRatio,
			OpenTimeout:  time.Duration(cfg.BreakerOpenSeconds) * time.Second,
		},
	})

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewImageRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	bus, err := natsbus.NewWithOptions(cfg.NATSURL, natsbus.Options{
		ResilienceExecutor: executor,
		Logger:             log,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	cache, closeCache, err := newResultCache(cfg)
	if err != nil {
		bus.Close()
		_ = db.Close()
		return nil, err
	}

	heuristicScorer := heuristic.New()
	var modelScorer ports.AngleScorer
	if cfg.VisionURL != "" {
		modelScorer = vision.New(cfg.VisionURL, cfg.VisionModel, executor)
	}

	classifyUC := usecase.NewClassifyBatchUseCase(heuristicScorer, modelScorer, cache, repo, usecase.ClassifyConfig{
		ModelThreshold: cfg.ModelThreshold,
		BatchTimeout:   cfg.BatchTimeout(),
	})
	persist := usecase.NewPersistUseCase(repo, bus, executor, log)
	gate := usecase.NewGenerationGate(persist)
	poller := usecase.NewStatusPoller(persist, cfg.PollInterval(), cfg.PollFailureThreshold, cfg.PollStallThreshold)

	return &App{
		Config: cfg,
		Log:    log,

		Repo: repo,
		Bus:  bus,

		ClassifyUC: classifyUC,
		Persist:    persist,
		Gate:       gate,
		Poller:     poller,

		closeFn: func() {
			bus.Close()
			if closeCache != nil {
				closeCache()
			}
			_ = db.Close()
		},
	}, nil
}

func newResultCache(cfg config.Config) (ports.ResultCache, func(), error) {
	switch cfg.CacheBackend {
	case "redis":
		cache, err := rediscache.New(cfg.RedisAddr, cfg.CacheTTL())
		if err != nil {
			return nil, nil, fmt.Errorf("init redis cache: %w", err)
		}
		return cache, func() { _ = cache.Close() }, nil
	default:
		return memorycache.New(cfg.CacheMaxEntries, cfg.CacheTTL()), nil, nil
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
