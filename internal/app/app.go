package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/balacloud/swing-trade-analyzer-sub001/internal/archive"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/breaker"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/cache"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/config"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/core"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/metrics"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/orchestrator"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider/alphavantage"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider/stooq"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/provider/yahoo"
	"github.com/balacloud/swing-trade-analyzer-sub001/internal/ratelimit"
)

// DefaultScanConcurrency bounds watchlist scans.
const DefaultScanConcurrency = 4

// App wires the cache, providers and orchestrator from configuration.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *cache.Store
	registry *provider.Registry
	orch     *orchestrator.Orchestrator
	metrics  *metrics.Registry
	exporter *archive.Exporter
}

// New builds the full fetch pipeline from cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}

	var m *metrics.Registry
	if cfg.Metrics.Enabled {
		m = metrics.NewRegistry()
	}

	registry := provider.NewRegistry()
	for name, pcfg := range cfg.Providers {
		if !pcfg.Enabled {
			continue
		}
		desc, err := buildDescriptor(name, pcfg, cfg.Breaker)
		if err != nil {
			store.Close()
			return nil, err
		}
		registry.Register(desc)
		logger.Info("provider registered",
			zap.String("provider", name),
			zap.Int("rate_capacity", pcfg.RateCapacity),
			zap.Float64("refill_per_minute", pcfg.RefillPerMinute))
	}

	policy := cache.NewTTLPolicy(
		cfg.Cache.FundamentalsTTL,
		cfg.Cache.QuoteTTL,
		cfg.Cache.SessionBuffer,
	)

	orch := orchestrator.New(registry, store, policy, logger, m)

	storage, err := buildArchiveStorage(cfg.Archive)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("building archive storage: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		orch:     orch,
		metrics:  m,
		exporter: archive.NewExporter(store, storage, logger),
	}, nil
}

func buildDescriptor(name string, pcfg config.ProviderConfig, bcfg config.BreakerConfig) (*provider.Descriptor, error) {
	var p provider.Provider
	switch name {
	case "yahoo":
		p = yahoo.New()
	case "stooq":
		p = stooq.New()
	case "alphavantage":
		p = alphavantage.New(pcfg.APIKey)
	default:
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown provider %q", name))
	}

	priorities := make(map[core.Category]int, len(pcfg.Priorities))
	for cat, rank := range pcfg.Priorities {
		parsed, err := core.ParseCategory(cat)
		if err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		priorities[parsed] = rank
	}

	return &provider.Descriptor{
		Provider:   p,
		Priorities: priorities,
		Breaker: breaker.New(breaker.Config{
			FailureThreshold:    bcfg.FailureThreshold,
			Cooldown:            bcfg.Cooldown,
			RateLimitedCooldown: bcfg.RateLimitedCooldown,
		}),
		Limiter: ratelimit.New(pcfg.RefillPerMinute/60.0, pcfg.RateCapacity),
		Timeout: pcfg.Timeout,
	}, nil
}

func buildArchiveStorage(acfg config.ArchiveConfig) (archive.Storage, error) {
	switch acfg.Type {
	case "", "localfs":
		path := acfg.Path
		if path == "" {
			path = "data/archive"
		}
		return archive.NewLocalFS(path)
	case "s3":
		return archive.NewS3(archive.S3Config{
			Bucket:    acfg.S3.Bucket,
			Endpoint:  acfg.S3.Endpoint,
			Region:    acfg.S3.Region,
			AccessKey: acfg.S3.AccessKey,
			SecretKey: acfg.S3.SecretKey,
			Prefix:    acfg.S3.Prefix,
		})
	}
	return nil, core.WrapError(core.ErrConfigInvalid,
		fmt.Errorf("unknown archive type %q", acfg.Type))
}

// Orchestrator returns the fetch pipeline.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Registry returns the provider registry.
func (a *App) Registry() *provider.Registry { return a.registry }

// Store returns the cache store.
func (a *App) Store() *cache.Store { return a.store }

// Metrics returns the metrics registry, nil when metrics are disabled.
func (a *App) Metrics() *metrics.Registry { return a.metrics }

// Watchlist returns the configured watchlist symbols.
func (a *App) Watchlist() []string {
	symbols := make([]string, 0, len(a.cfg.Watchlist))
	for _, item := range a.cfg.Watchlist {
		symbols = append(symbols, item.Symbol)
	}
	return symbols
}

// Scan fetches one category for every watchlist symbol.
func (a *App) Scan(ctx context.Context, category core.Category, concurrency int) map[string]*core.FetchResult {
	if concurrency < 1 {
		concurrency = DefaultScanConcurrency
	}
	return a.orch.FetchAll(ctx, a.Watchlist(), category, concurrency)
}

// ExportCache writes a snapshot of the cache to the archive backend.
func (a *App) ExportCache(ctx context.Context) (string, int, error) {
	return a.exporter.Export(ctx)
}

// Close releases the cache handle.
func (a *App) Close() error {
	return a.store.Close()
}
