package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/adoption/pkg/adoptiongraph"
	"github.com/Mindburn-Labs/adoption/pkg/artifacts"
	"github.com/Mindburn-Labs/adoption/pkg/audit"
	"github.com/Mindburn-Labs/adoption/pkg/benchmark"
	"github.com/Mindburn-Labs/adoption/pkg/catalog"
	"github.com/Mindburn-Labs/adoption/pkg/config"
	"github.com/Mindburn-Labs/adoption/pkg/evidence"
	"github.com/Mindburn-Labs/adoption/pkg/freshness"
	"github.com/Mindburn-Labs/adoption/pkg/grcsync"
	"github.com/Mindburn-Labs/adoption/pkg/intervention"
	"github.com/Mindburn-Labs/adoption/pkg/lineage"
	"github.com/Mindburn-Labs/adoption/pkg/metrics"
	"github.com/Mindburn-Labs/adoption/pkg/notify"
	"github.com/Mindburn-Labs/adoption/pkg/observability"
	"github.com/Mindburn-Labs/adoption/pkg/ratelimit"
	"github.com/Mindburn-Labs/adoption/pkg/store"
	"github.com/Mindburn-Labs/adoption/pkg/store/sqlstore"
)

// openStore is a variable so tests can substitute an in-memory store.
var openStore = func(ctx context.Context, cfg *config.Config) (store.Store, func() error, error) {
	s, err := sqlstore.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	// Lite mode owns its schema; Postgres is migrated explicitly.
	if cfg.LiteMode() {
		if err := s.Migrate(ctx, sqlstore.MigrateOptions{}); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
	}
	return s, s.Close, nil
}

// app is the wired engine for one CLI invocation.
type app struct {
	cfg       *config.Config
	store     store.Store
	caps      store.Capabilities
	metrics   *metrics.Metrics
	telemetry *observability.Provider
	limiter   ratelimit.Limiter

	catalog     *catalog.Service
	evidence    *evidence.Service
	lineage     *lineage.Service
	exporter    *evidence.Exporter
	freshness   *freshness.Service
	benchmarks  *benchmark.Resolver
	recommender *intervention.Recommender
	workflow    *intervention.Workflow
	graph       *adoptiongraph.Builder
	syncer      *grcsync.Syncer

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.close(ctx)
		}
	}()

	s, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = s
	a.closers = append(a.closers, func(context.Context) error { return closeStore() })

	if a.caps, err = s.Capabilities(ctx); err != nil {
		return nil, err
	}
	if !a.caps.Benchmarks {
		slog.WarnContext(ctx, "benchmark tables not provisioned, serving compat values")
	}

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTelEndpoint
	otelCfg.Insecure = cfg.OTelInsecure
	if a.telemetry, err = observability.New(ctx, otelCfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, a.telemetry.Shutdown)

	policy := ratelimit.Policy{RPM: cfg.RateLimitRPM, Burst: cfg.RateLimitBurst}
	if cfg.RedisAddr != "" {
		rl := ratelimit.Dial(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, policy)
		if err := rl.Ping(ctx); err != nil {
			_ = rl.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		a.limiter = rl
		a.closers = append(a.closers, func(context.Context) error { return rl.Close() })
	} else {
		a.limiter = ratelimit.NewMemoryLimiter(policy)
	}

	blobs, err := artifacts.New(ctx, artifacts.Config{
		Backend: artifacts.Backend(cfg.ArtifactStorage),
		DataDir: cfg.DataDir,
		S3: artifacts.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		},
		GCSBucket: cfg.GCSBucket,
		GCSPrefix: cfg.GCSPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init artifact storage: %w", err)
	}

	fallback := config.DefaultBenchmarkFallback()
	if cfg.BenchmarkFallbackFile != "" {
		if fallback, err = config.LoadBenchmarkFallback(cfg.BenchmarkFallbackFile); err != nil {
			return nil, err
		}
	}

	recorder := audit.NewRecorder(audit.NewStoreSink(s))

	a.catalog = catalog.NewService(s, recorder)
	if a.evidence, err = evidence.NewService(s, recorder); err != nil {
		return nil, err
	}
	a.evidence.WithMetrics(a.metrics).WithTelemetry(a.telemetry)
	a.lineage = lineage.NewService(s, recorder)
	a.exporter = evidence.NewExporter(a.evidence, a.lineage, blobs)
	a.freshness = freshness.NewService(s).WithMetrics(a.metrics).WithTelemetry(a.telemetry)
	a.benchmarks = benchmark.NewResolver(s, a.caps, fallback).
		WithMetrics(a.metrics).
		WithDefaultCohort(cfg.BenchmarkCohort)
	a.recommender = intervention.NewRecommender(s, a.freshness, a.limiter, recorder).WithMetrics(a.metrics)
	actions := intervention.DefaultActions(s, s, notify.NewOutbox(s))
	a.workflow = intervention.NewWorkflow(s, actions, recorder).
		WithMetrics(a.metrics).
		WithTelemetry(a.telemetry)
	a.graph = adoptiongraph.NewBuilder(s, a.freshness)
	a.syncer = grcsync.NewSyncer(s, grcsync.NewLogProvider(), a.limiter, recorder).WithMetrics(a.metrics)
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
