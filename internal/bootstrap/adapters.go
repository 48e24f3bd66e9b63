package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/adapters/browser"
	"github.com/ratemate/taas/internal/adapters/lighthouse"
	"github.com/ratemate/taas/internal/adapters/mobsf"
	"github.com/ratemate/taas/internal/adapters/zapscan"
	"github.com/ratemate/taas/internal/data"
	"github.com/ratemate/taas/internal/domain/model"
	"github.com/ratemate/taas/internal/domain/policy"
	"github.com/ratemate/taas/internal/observability/notify"
	"github.com/ratemate/taas/internal/observability/notify/slack"
	"github.com/ratemate/taas/internal/observability/statsd"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/sites"
	"github.com/ratemate/taas/internal/statusfile"
	"github.com/ratemate/taas/internal/storage"
	"github.com/ratemate/taas/internal/visual"
	"github.com/ratemate/taas/internal/worker"
)

// Container holds the shared infrastructure adapters both services run on.
// DB, Store and the repositories are nil when the backing system is down or
// not configured; the API and worker degrade rather than refuse to start.
type Container struct {
	Config *config.AppConfig
	Logger *slog.Logger

	DB    *sql.DB
	Redis *redis.Client

	Queue   *queue.Queue
	Cancels *queue.CancelFlags
	Limiter *queue.RateLimiter
	Status  *statusfile.Store

	Store  *storage.ObjectStore
	Visual *visual.Engine

	Sites    *sites.Registry
	Metrics  *statsd.Client
	Notifier notify.Sink

	Sessions *data.SessionRepo
	Results  *data.ResultRepo
	Keys     *data.APIKeyRepo
}

// NewContainer connects to Redis (required), Postgres (best-effort), and the
// object store (optional), and wires the shared adapters.
func NewContainer(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	redisClient, err := ConnectRedis(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	status, err := statusfile.NewStore(cfg.Results.Dir)
	if err != nil {
		return nil, fmt.Errorf("open status dir: %w", err)
	}

	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Redis:   redisClient,
		Queue:   queue.NewQueue(redisClient, cfg.Queue.Name),
		Cancels: queue.NewCancelFlags(redisClient),
		Limiter: queue.NewRateLimiter(redisClient),
		Status:  status,
	}

	// The state store is best-effort: the service runs on the mirror alone
	// when Postgres is unreachable.
	db, err := ConnectDB(cfg.Postgres, logger)
	if err != nil {
		logger.Error("state store unavailable, continuing on status files", "error", err)
	} else {
		if cfg.Postgres.RunMigrationsOnStart {
			if err := RunMigrations(ctx, db, logger); err != nil {
				return nil, err
			}
		}
		c.DB = db
		c.Sessions = data.NewSessionRepo(db)
		c.Results = data.NewResultRepo(db)
		c.Keys = data.NewAPIKeyRepo(db)
	}

	if cfg.Storage.Configured() {
		store, err := storage.New(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		c.Store = store
		c.Visual = visual.NewEngine(store, cfg.Visual)
	} else {
		logger.Warn("object store not configured, artifact capture disabled")
	}

	registry, err := loadSites(cfg.SitesFile)
	if err != nil {
		return nil, err
	}
	c.Sites = registry

	metrics, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Statsd.Addr != "",
		Address: cfg.Statsd.Addr,
		Prefix:  cfg.Statsd.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
	} else {
		c.Metrics = metrics
	}

	if cfg.Notify.WebhookURL != "" {
		sink, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.Notify.WebhookURL,
			Timeout:    cfg.Notify.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			c.Notifier = sink
		}
	}

	return c, nil
}

func loadSites(path string) (*sites.Registry, error) {
	if path == "" {
		return sites.NewRegistry(nil), nil
	}
	registry, err := sites.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load sites file: %w", err)
	}
	return registry, nil
}

// Close releases the container's connections.
func (c *Container) Close() {
	if c.Metrics != nil {
		if err := c.Metrics.Close(); err != nil {
			c.Logger.Error("close statsd client", "error", err)
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.Error("close database", "error", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Error("close redis client", "error", err)
		}
	}
}

// NewRunner builds the worker loop over the container's adapters.
func (c *Container) NewRunner() (*worker.Runner, error) {
	cfg := c.Config

	var perf *lighthouse.Client
	if cfg.Perf.URL != "" {
		perf = lighthouse.NewClient(cfg.Perf, nil)
	}
	var zap *zapscan.Client
	if cfg.ZAP.URL != "" {
		zap = zapscan.NewClient(cfg.ZAP, nil)
	}
	var analyzer *mobsf.Client
	if cfg.MobSF.URL != "" {
		analyzer = mobsf.NewClient(cfg.MobSF, nil)
	}

	var artifacts worker.ArtifactStore
	if c.Store != nil {
		artifacts = c.Store
	}

	web, err := worker.NewWebExecutor(worker.WebExecutorOptions{
		Driver:    browser.NewDriver(),
		Artifacts: artifacts,
		Visual:    c.Visual,
		Perf:      perf,
		ZAP:       zap,
		Sites:     c.Sites,
		Crawler:   worker.NewCrawler(&http.Client{Timeout: cfg.Perf.Timeout}, 0),
		Policy:    policy.FromConfig(cfg.Perf, cfg.ZAP),
		Logger:    c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init web executor: %w", err)
	}

	mobile := worker.NewMobileExecutor(worker.MobileExecutorOptions{
		MobSF:     analyzer,
		Artifacts: artifacts,
		Logger:    c.Logger,
	})

	opts := worker.RunnerOptions{
		Queue:   c.Queue,
		Cancels: c.Cancels,
		Status:  c.Status,
		Executors: map[model.Kind]worker.Executor{
			model.KindWeb:    web,
			model.KindMobile: mobile,
		},
		Artifacts:   artifacts,
		Notifier:    c.Notifier,
		Logger:      c.Logger,
		Concurrency: cfg.Services.Worker.Concurrency,
		PopTimeout:  cfg.Services.Worker.PopTimeout,
	}
	if c.Metrics != nil {
		opts.Metrics = c.Metrics
	}
	if c.Sessions != nil {
		opts.Sessions = c.Sessions
	}
	if c.Results != nil {
		opts.Results = c.Results
	}

	return worker.NewRunner(opts)
}
