package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/metrics"
	"github.com/Mindburn-Labs/adoption/pkg/store/sqlstore"
)

func serveCmd(c *cli) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics and reassess the organization's controls on an interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			if interval <= 0 {
				return usageError{errors.New("--interval must be positive")}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.Background()) }()

			srv := metrics.NewServer(c.cfg.MetricsAddr, a.metrics)
			errCh := make(chan error, 1)
			go func() {
				slog.Info("metrics server listening", "addr", c.cfg.MetricsAddr)
				if err := srv.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			sweep(ctx, a, actor)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					slog.Info("shutting down")
					return srv.Shutdown(shutdownCtx)
				case err := <-errCh:
					return fmt.Errorf("metrics server: %w", err)
				case <-ticker.C:
					sweep(ctx, a, actor)
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Minute, "Reassessment interval")
	return cmd
}

// sweep reassesses every control and captures the org benchmark metrics.
// Failures are logged and retried on the next tick.
func sweep(ctx context.Context, a *app, actor contracts.Actor) {
	all, err := a.freshness.AssessAll(ctx, actor)
	if err != nil {
		slog.ErrorContext(ctx, "freshness sweep failed", "org_id", actor.OrgID, "error", err)
		return
	}
	counts := map[contracts.FreshnessState]int{}
	snaps := make([]contracts.FreshnessSnapshot, 0, len(all))
	for _, as := range all {
		counts[as.Snapshot.State]++
		snaps = append(snaps, as.Snapshot)
	}
	if _, err := a.benchmarks.Capture(ctx, actor.OrgID, snaps, time.Now()); err != nil {
		slog.ErrorContext(ctx, "benchmark capture failed", "org_id", actor.OrgID, "error", err)
	}
	slog.InfoContext(ctx, "freshness sweep",
		"org_id", actor.OrgID,
		"controls", len(all),
		"stale", counts[contracts.StateStale],
		"critical", counts[contracts.StateCritical])
}

func migrateCmd(c *cli) *cobra.Command {
	var skipBenchmarks bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := sqlstore.Open(ctx, c.cfg.DatabaseURL, c.cfg.DataDir)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if err := s.Migrate(ctx, sqlstore.MigrateOptions{SkipBenchmarks: skipBenchmarks}); err != nil {
				return err
			}
			caps, err := s.Capabilities(ctx)
			if err != nil {
				return err
			}
			return c.print(caps, "Schema is up to date")
		},
	}
	cmd.Flags().BoolVar(&skipBenchmarks, "skip-benchmarks", false, "Do not create the benchmark analytics tables")
	return cmd
}
