package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/adoption/pkg/catalog"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/evidence"
)

func seedCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Load controls, campaigns, mappings and assignments from a catalog file",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			seed, err := catalog.LoadSeed(args[0])
			if err != nil {
				return nil, "", usageError{err}
			}
			report, err := a.catalog.Apply(ctx, actor, seed)
			if err != nil {
				return nil, "", err
			}
			return report, fmt.Sprintf("Seeded %d controls, %d mappings", report.Controls, report.Mappings), nil
		})(cmd, args)
	}
	return cmd
}

func mapCmd(c *cli) *cobra.Command {
	var controlID, campaignID, moduleID string
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Map a control to a campaign or module",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			m, err := a.catalog.MapControl(ctx, actor, controlID, campaignID, moduleID)
			if err != nil {
				return nil, "", err
			}
			return m, "Mapping created", nil
		}),
	}
	cmd.Flags().StringVar(&controlID, "control", "", "Control ID (required)")
	cmd.Flags().StringVar(&campaignID, "campaign", "", "Campaign ID (required)")
	cmd.Flags().StringVar(&moduleID, "module", "", "Module ID")
	return cmd
}

func evidenceCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evidence",
		Short: "Record, transition and list evidence",
	}
	cmd.AddCommand(evidenceRecordCmd(c), evidenceTransitionCmd(c), evidenceListCmd(c))
	return cmd
}

func evidenceRecordCmd(c *cli) *cobra.Command {
	var (
		req        evidence.CreateRequest
		evType     string
		status     string
		metadata   string
		occurredAt string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an evidence-producing event",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			req.Type = contracts.EvidenceType(evType)
			req.Status = contracts.EvidenceStatus(status)
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &req.Metadata); err != nil {
					return nil, "", usageError{fmt.Errorf("--metadata must be a JSON object: %w", err)}
				}
			}
			if occurredAt != "" {
				t, err := time.Parse(time.RFC3339, occurredAt)
				if err != nil {
					return nil, "", usageError{fmt.Errorf("--occurred-at must be RFC 3339: %w", err)}
				}
				req.OccurredAt = t
			}
			res, err := a.evidence.CreateEvidenceObjects(ctx, actor, req)
			if err != nil {
				return nil, "", err
			}
			return res, fmt.Sprintf("Recorded %d evidence records across %d controls", res.Created, len(res.ControlIDs)), nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&evType, "type", "", "Evidence type (required)")
	f.StringVar(&req.SourceTable, "source-table", "", "Source table of the event (required)")
	f.StringVar(&req.SourceID, "source-id", "", "Source row ID (required)")
	f.StringVar(&req.ControlID, "control", "", "Control ID; omit to fan out over mapped controls")
	f.StringVar(&req.CampaignID, "campaign", "", "Campaign ID")
	f.StringVar(&req.ModuleID, "module", "", "Module ID")
	f.StringVar(&req.AssignmentID, "assignment", "", "Assignment ID")
	f.StringVar(&req.UserID, "learner", "", "Learner user ID")
	f.StringVar(&status, "status", "", "Initial status (default queued)")
	f.StringVar(&metadata, "metadata", "", "Metadata as a JSON object")
	f.StringVar(&occurredAt, "occurred-at", "", "Event time (RFC 3339, default now)")
	f.BoolVar(&req.ForceNewVersion, "force-new-version", false, "Insert a new version and supersede prior records")
	return cmd
}

func evidenceTransitionCmd(c *cli) *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "transition <evidence-id>...",
		Short: "Move evidence records to a new status",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.Flags().StringVar(&to, "to", "", "Target status (required)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			changed, err := a.evidence.TransitionStatus(ctx, actor, args, contracts.EvidenceStatus(to))
			if err != nil {
				return nil, "", err
			}
			return map[string]any{"changed": changed}, fmt.Sprintf("%d records now %s", len(changed), to), nil
		})(cmd, args)
	}
	return cmd
}

func evidenceListCmd(c *cli) *cobra.Command {
	var controlID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a control's evidence oldest first",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			rows, err := a.evidence.ListForControl(ctx, actor.OrgID, controlID)
			if err != nil {
				return nil, "", err
			}
			return rows, fmt.Sprintf("%d evidence records", len(rows)), nil
		}),
	}
	cmd.Flags().StringVar(&controlID, "control", "", "Control ID (required)")
	return cmd
}

func lineageCmd(c *cli) *cobra.Command {
	var controlID string
	cmd := &cobra.Command{
		Use:   "lineage [evidence-id...]",
		Short: "Show lineage links for evidence, or a control's timeline with --control",
	}
	cmd.Flags().StringVar(&controlID, "control", "", "Show the control's evidence timeline")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if controlID == "" && len(args) == 0 {
			return usageError{fmt.Errorf("pass evidence IDs or --control")}
		}
		return c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			if controlID != "" {
				entries, err := a.lineage.Timeline(ctx, actor.OrgID, controlID)
				if err != nil {
					return nil, "", err
				}
				return entries, fmt.Sprintf("Timeline for %s: %d records", controlID, len(entries)), nil
			}
			lin, err := a.lineage.FetchLineageForIDs(ctx, actor.OrgID, args)
			if err != nil {
				return nil, "", err
			}
			return lin, "", nil
		})(cmd, args)
	}
	return cmd
}

func exportCmd(c *cli) *cobra.Command {
	var controlID string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a control's evidence bundle to artifact storage",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			res, err := a.exporter.ExportControl(ctx, actor, controlID)
			if err != nil {
				return nil, "", err
			}
			return res, fmt.Sprintf("Exported %d records as %s", res.RecordCount, res.Digest), nil
		}),
	}
	cmd.Flags().StringVar(&controlID, "control", "", "Control ID (required)")
	return cmd
}

func auditCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List the organization's audit trail, newest first",
		RunE: c.runWithApp(func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error) {
			events, err := a.store.ListAudit(ctx, actor.OrgID, limit)
			if err != nil {
				return nil, "", err
			}
			return events, fmt.Sprintf("%d audit events", len(events)), nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to show")
	return cmd
}
