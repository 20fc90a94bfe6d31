package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/intervention"
)

func freshnessCmd(c *cli) *cobra.Command {
	var controlID string
	cmd := &cobra.Command{
		Use:   "freshness",
		Short: "Assess control freshness and record a snapshot",
		Long:  "Assess one control with --control, or every control in the organization.",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			if controlID != "" {
				res, err := a.freshness.Assess(ctx, actor, controlID)
				if err != nil {
					return nil, "", err
				}
				return res, fmt.Sprintf("%s is %s (score %d)", controlID, res.Snapshot.State, res.Snapshot.Score), nil
			}
			all, err := a.freshness.AssessAll(ctx, actor)
			if err != nil {
				return nil, "", err
			}
			return all, fmt.Sprintf("Assessed %d controls", len(all)), nil
		}),
	}
	cmd.Flags().StringVar(&controlID, "control", "", "Control ID")
	return cmd
}

func benchmarkCmd(c *cli) *cobra.Command {
	var metric, cohort string
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Compare organization metrics with an anonymized cohort",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			if metric != "" {
				res, err := a.benchmarks.Resolve(ctx, actor.OrgID, contracts.MetricName(metric), cohort)
				if err != nil {
					return nil, "", err
				}
				return res, fmt.Sprintf("%s: %s", res.Metric, res.Band), nil
			}
			all, err := a.benchmarks.ResolveAll(ctx, actor.OrgID, cohort)
			if err != nil {
				return nil, "", err
			}
			return all, fmt.Sprintf("%d metrics benchmarked", len(all)), nil
		}),
	}
	cmd.Flags().StringVar(&metric, "metric", "", "Single metric to resolve")
	cmd.Flags().StringVar(&cohort, "cohort", "", "Cohort (default from BENCHMARK_COHORT)")
	return cmd
}

func graphCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Build the obligation to freshness adoption graph",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			g, err := a.graph.Build(ctx, actor.OrgID)
			if err != nil {
				return nil, "", err
			}
			return g, fmt.Sprintf("%d nodes, %d edges", len(g.Nodes), g.Stats.Edges), nil
		}),
	}
}

func recommendCmd(c *cli) *cobra.Command {
	var controlID string
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Assess a control and propose interventions",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			res, err := a.recommender.Generate(ctx, actor, controlID)
			if err != nil {
				return nil, "", err
			}
			return res, fmt.Sprintf("%d recommendations created, %d already active", len(res.Created), len(res.Skipped)), nil
		}),
	}
	cmd.Flags().StringVar(&controlID, "control", "", "Control ID (required)")
	return cmd
}

func approveCmd(c *cli) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "approve <recommendation-id>",
		Short: "Approve a proposed recommendation",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&note, "note", "", "Approval note")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			r, err := a.workflow.Approve(ctx, actor, args[0], note)
			if err != nil {
				return nil, "", err
			}
			return r, "Recommendation approved", nil
		})(cmd, args)
	}
	return cmd
}

func dismissCmd(c *cli) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "dismiss <recommendation-id>",
		Short: "Dismiss a recommendation",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Dismissal reason")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			r, err := a.workflow.Dismiss(ctx, actor, args[0], reason)
			if err != nil {
				return nil, "", err
			}
			return r, "Recommendation dismissed", nil
		})(cmd, args)
	}
	return cmd
}

func executeCmd(c *cli) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "execute <recommendation-id>",
		Short: "Execute an approved recommendation",
		Long:  "Runs the recommendation's action once per idempotency key. Replays return the stored execution.",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&key, "idempotency-key", "", "Idempotency key (default auto-<id>)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			k := key
			if k == "" {
				k = intervention.DefaultIdempotencyKey(args[0])
			}
			res, err := a.workflow.Execute(ctx, actor, args[0], k)
			if err != nil {
				return nil, "", err
			}
			summary := fmt.Sprintf("Execution %s", res.Execution.Status)
			if res.Reused {
				summary += " (replayed)"
			}
			return res, summary, nil
		})(cmd, args)
	}
	return cmd
}

func historyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "history <recommendation-id>",
		Short: "List executions of a recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
				execs, err := a.workflow.History(ctx, actor.OrgID, args[0])
				if err != nil {
					return nil, "", err
				}
				return execs, fmt.Sprintf("%d executions", len(execs)), nil
			})(cmd, args)
		},
	}
}

func syncCmd(c *cli) *cobra.Command {
	var controlID string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push a control's queued evidence to the GRC integration",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			report, err := a.syncer.SyncControl(ctx, actor, controlID)
			if err != nil {
				return nil, "", err
			}
			return report, fmt.Sprintf("Synced %d, rejected %d", len(report.Synced), len(report.Rejected)), nil
		}),
	}
	cmd.Flags().StringVar(&controlID, "control", "", "Control ID (required)")
	return cmd
}
