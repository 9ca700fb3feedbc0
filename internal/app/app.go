// Package app wires configuration into the stores, caches and publishers
// shared by the API and the worker.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/deutsch-portal/lernportal-hub/config"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/progress"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/session"
	"github.com/deutsch-portal/lernportal-hub/internal/domain/shared"
	"github.com/deutsch-portal/lernportal-hub/internal/infrastructure/persistence/redis"
	"github.com/deutsch-portal/lernportal-hub/pkg/logger"
	"github.com/deutsch-portal/lernportal-hub/pkg/tracing"
)

// Infrastructure holds the long-lived dependencies of a binary.
type Infrastructure struct {
	Config *config.Config
	Log    *logger.Logger
	Clock  shared.Clock

	Progress progress.Repository
	Lessons  session.LessonSource

	// StorePinger checks the progress store. Nil for the memory driver.
	StorePinger Pinger

	// Redis is nil when Redis is disabled or unreachable.
	Redis       *redis.Cache
	Leaderboard *redis.LeaderboardCache
	Publisher   *redis.Publisher

	closers []func()
}

// Pinger is implemented by the stores and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = os.Stdout
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// InitTracing starts the tracer provider for service.
func InitTracing(ctx context.Context, cfg *config.Config, service string, log *logger.Logger) (tracing.ShutdownFunc, error) {
	return tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Observability.TracingEnabled,
		ServiceName: service,
		Environment: string(cfg.App.Environment),
		Version:     cfg.App.Version,
		Exporter:    cfg.Observability.TracingExporter,
		Endpoint:    cfg.Observability.TracingEndpoint,
		Insecure:    cfg.Observability.TracingInsecure,
		SampleRatio: cfg.Observability.TracingSampleRatio,
	}, log)
}

// OpenInfrastructure opens the configured store, seeds the badge catalog
// and connects to Redis when enabled. A Redis failure is logged and the
// binary continues without cache and pub/sub.
func OpenInfrastructure(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Infrastructure, error) {
	infra := &Infrastructure{
		Config: cfg,
		Log:    log,
		Clock:  shared.NewSystemClock(cfg.App.Location),
	}

	if err := infra.openStore(ctx); err != nil {
		infra.Close()
		return nil, err
	}

	catalog, err := LoadCatalog(cfg.Ledger.BadgeCatalogPath)
	if err != nil {
		infra.Close()
		return nil, err
	}
	if err := infra.Progress.SaveBadgeDefinitions(ctx, catalog.Badges); err != nil {
		infra.Close()
		return nil, fmt.Errorf("seed badge catalog: %w", err)
	}
	log.Info("badge catalog loaded", logger.Int("badges", len(catalog.Badges)))

	infra.openRedis(ctx)
	return infra, nil
}

// LoadCatalog reads the YAML catalog at path, or returns the built-in one
// when path is empty.
func LoadCatalog(path string) (*progress.Catalog, error) {
	if path == "" {
		return progress.DefaultCatalog(), nil
	}
	catalog, err := progress.LoadBadgeCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("badge catalog %s: %w", path, err)
	}
	return catalog, nil
}

func (i *Infrastructure) openRedis(ctx context.Context) {
	rc := i.Config.Redis
	if rc.Disabled {
		i.Log.Info("redis disabled, leaderboard cache and realtime events off")
		return
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.Host = rc.Host
	redisCfg.Port = rc.Port
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	redisCfg.PoolSize = rc.PoolSize
	redisCfg.MinIdleConns = rc.MinIdleConns
	redisCfg.DialTimeout = rc.DialTimeout
	redisCfg.ReadTimeout = rc.ReadTimeout
	redisCfg.WriteTimeout = rc.WriteTimeout
	redisCfg.KeyPrefix = rc.KeyPrefix

	cache, err := redis.NewCache(ctx, redisCfg, i.Log)
	if err != nil {
		i.Log.Warn("redis unavailable, continuing without cache", logger.Err(err))
		return
	}
	i.Redis = cache
	i.closers = append(i.closers, func() { _ = cache.Close() })

	leaderboard := redis.NewLeaderboardCache(cache, i.Config.Ledger.LeaderboardCacheTTL, i.Log)
	if i.Config.Features.LeaderboardCache() {
		i.Leaderboard = leaderboard
	} else if err := leaderboard.Invalidate(ctx); err != nil {
		// Nobody upserts while the cache is off, so an old snapshot would be
		// served stale once it is switched back on.
		i.Log.Warn("drop leaderboard snapshot failed", logger.Err(err))
	}
	i.Publisher = redis.NewPublisher(cache)
}

// LeaderboardCache returns the cache as the domain interface, or nil.
// A typed nil pointer must not leak into the interface.
func (i *Infrastructure) LeaderboardCache() progress.LeaderboardCache {
	if i.Leaderboard == nil {
		return nil
	}
	return i.Leaderboard
}

// Close releases everything in reverse order of opening.
func (i *Infrastructure) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
	i.closers = nil
}
