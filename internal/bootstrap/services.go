package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-research-api/config"
	"github.com/target/mmk-research-api/internal/adapters/engine"
	"github.com/target/mmk-research-api/internal/core"
	"github.com/target/mmk-research-api/internal/data"
	domainjob "github.com/target/mmk-research-api/internal/domain/job"
	"github.com/target/mmk-research-api/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *data.JobRepo
	Feed          core.ChangeFeed
	Hub           *domainjob.ChangeHub
	Dispatcher    *service.Dispatcher
	Callbacks     *service.CallbackReceiver
	Status        *service.StatusReconciler
	StatsReporter *service.StatsReporter
	Observability ObservabilityContainer
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config *config.AppConfig
	DB     *sql.DB
	// RedisClient is required only when the change feed runs over Redis.
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices wires repositories, the change feed and the job services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs, err := buildObservability(logger, cfg.Observability)
	if err != nil {
		return ServiceContainer{}, err
	}

	repo := data.NewJobRepo(deps.DB, data.RepoConfig{
		Logger:        logger,
		SchemaRecheck: cfg.Postgres.SchemaRecheck,
	})

	feed, err := newChangeFeed(deps, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	hub, err := domainjob.NewChangeHub(domainjob.HubOptions{
		Feed:        feed,
		Loader:      repo,
		Logger:      logger,
		Backoff:     cfg.Notify.Backoff,
		LoadTimeout: cfg.Notify.WaitWindow,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("change hub: %w", err)
	}

	out := ServiceContainer{
		Jobs:          repo,
		Feed:          feed,
		Hub:           hub,
		Observability: obs,
	}

	if cfg.IsHTTPServerEnabled() {
		if err := buildJobServices(&out, cfg, logger); err != nil {
			return ServiceContainer{}, err
		}
	}

	if cfg.IsJobStatsEnabled() {
		reporter, err := service.NewStatsReporter(service.StatsReporterOptions{
			Repo:    repo,
			Config:  cfg.StatsReporter,
			Logger:  logger,
			Metrics: obs.Recorder,
		})
		if err != nil {
			return ServiceContainer{}, fmt.Errorf("stats reporter: %w", err)
		}
		out.StatsReporter = reporter
	}

	return out, nil
}

func buildJobServices(out *ServiceContainer, cfg *config.AppConfig, logger *slog.Logger) error {
	engineClient, err := engine.NewClient(engine.Config{
		BaseURL:       cfg.Engine.BaseURL,
		TriggerPath:   cfg.Engine.TriggerPath,
		Timeout:       cfg.Engine.Timeout,
		RatePerSecond: cfg.Engine.RatePerSecond,
		Burst:         cfg.Engine.Burst,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("engine client: %w", err)
	}

	out.Dispatcher, err = service.NewDispatcher(service.DispatcherOptions{
		Repo:     out.Jobs,
		Engine:   engineClient,
		Callback: service.CallbackTarget{BaseURL: cfg.Callback.BaseURL, Secret: cfg.Callback.Secret},
		Feed:     out.Feed,
		Logger:   logger,
		Metrics:  out.Observability.Recorder,

		// The engine client applies cfg.Engine.Timeout per attempt; leave room
		// for a rate limiter wait on top of it.
		TriggerTimeout: 2 * cfg.Engine.Timeout,
	})
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	out.Callbacks, err = service.NewCallbackReceiver(service.CallbackReceiverOptions{
		Repo:            out.Jobs,
		Secret:          cfg.Callback.Secret,
		Feed:            out.Feed,
		Logger:          logger,
		Metrics:         out.Observability.Recorder,
		FailureNotifier: out.Observability.FailureNotifier,
	})
	if err != nil {
		return fmt.Errorf("callback receiver: %w", err)
	}

	out.Status, err = service.NewStatusReconciler(service.StatusReconcilerOptions{Repo: out.Jobs, Logger: logger})
	if err != nil {
		return fmt.Errorf("status reconciler: %w", err)
	}
	return nil
}

// newChangeFeed selects the change feed transport.
//
//nolint:ireturn // the transport is chosen at runtime.
func newChangeFeed(deps *ServiceDeps, logger *slog.Logger) (core.ChangeFeed, error) {
	notifyCfg := deps.Config.Notify
	switch notifyCfg.Transport {
	case config.ChangeFeedRedis:
		if deps.RedisClient == nil {
			return nil, errors.New("redis change feed requires a redis client")
		}
		return data.NewRedisChangeFeed(deps.RedisClient, data.RedisChangeFeedOptions{
			Channel: notifyCfg.Channel,
			Logger:  logger,
		}), nil
	case config.ChangeFeedPostgres, "":
		return data.NewPostgresChangeFeed(deps.DB, data.PostgresChangeFeedOptions{
			Channel: notifyCfg.Channel,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown change feed transport %q", notifyCfg.Transport)
	}
}
