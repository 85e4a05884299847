package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/emiliopalmerini/splitd/internal/adapters/memory"
	"github.com/emiliopalmerini/splitd/internal/adapters/redis"
	"github.com/emiliopalmerini/splitd/internal/adapters/turso"
	"github.com/emiliopalmerini/splitd/internal/config"
	"github.com/emiliopalmerini/splitd/internal/decision"
	"github.com/emiliopalmerini/splitd/internal/logging"
	"github.com/emiliopalmerini/splitd/internal/ports"
	"github.com/emiliopalmerini/splitd/internal/registry"
	"github.com/emiliopalmerini/splitd/internal/resolver"
	"github.com/emiliopalmerini/splitd/internal/stats"
)

// AppContext holds all shared dependencies for CLI commands.
type AppContext struct {
	Config *config.Config
	Logger *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Experiments ports.ExperimentRepository
	Assignments ports.AssignmentRepository
	Events      ports.EventLedger

	Registry *registry.Registry
}

// NewAppContext loads the configuration and opens the stores for the
// configured backend. Experiments live in SQL unless the memory backend is
// selected; the redis backend moves assignments and events to Redis.
func NewAppContext(ctx context.Context) (*AppContext, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr, os.Getenv("NO_COLOR") != "")

	app := &AppContext{Config: cfg, Logger: logger}

	if cfg.AssignmentBackend == config.BackendMemory {
		store := memory.NewStore()
		app.Experiments = store.Experiments
		app.Assignments = store.Assignments
		app.Events = store.Events
	} else {
		db, err := turso.NewDB(cfg.DatabaseURL, cfg.AuthToken)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		app.DB = db
		repos := turso.NewRepositories(db)
		app.Experiments = repos.Experiments
		app.Assignments = repos.Assignments
		app.Events = repos.Events
	}

	if cfg.AssignmentBackend == config.BackendRedis {
		client, err := redis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Namespace)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.Redis = client
		if err := client.Ping(ctx); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		app.Assignments = redis.NewAssignmentRepository(client)
		app.Events = redis.NewEventLedger(client).WithStreamMaxLen(cfg.Redis.StreamMax)
	}

	app.Registry = registry.New(app.Experiments, logger, registry.Options{CacheTTL: cfg.ExperimentCacheTTL})
	return app, nil
}

// DecisionService builds the decision service. A nil ingestor makes
// events synchronous.
func (a *AppContext) DecisionService(ingestor *decision.Ingestor, metrics ports.MetricsExporter) *decision.Service {
	return decision.NewService(
		a.Registry,
		resolver.New(a.Assignments, a.Logger),
		a.Events,
		ingestor,
		metrics,
		a.Logger,
		decision.Options{
			Timeout:         a.Config.DecisionTimeout,
			RecordExposures: a.Config.RecordExposures,
			Stats: stats.Options{
				MinSampleSize:       a.Config.MinSampleSize,
				ConfidenceThreshold: a.Config.ConfidenceThreshold,
			},
		},
	)
}

// IngestWorkers is the number of ingestor workers to run. A local SQL
// ledger shares the single database connection with the decision path, so
// extra workers would only queue on it and hold the connection longer.
func (a *AppContext) IngestWorkers() int {
	if a.Config.AssignmentBackend == config.BackendSQL && turso.IsLocal(a.Config.DatabaseURL) {
		return 1
	}
	return a.Config.IngestWorkers
}

// Close releases all resources held by the AppContext.
func (a *AppContext) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
