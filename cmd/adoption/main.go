// Command adoption runs the control adoption freshness and intervention
// engine: evidence capture, freshness scoring, benchmarks and remediation
// workflows.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/adoption/pkg/apperror"
	"github.com/Mindburn-Labs/adoption/pkg/config"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

var version = "0.1.0"

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

// Exit codes.
const (
	exitOK      = 0
	exitRuntime = 1
	exitUsage   = 2
)

// usageError marks a flag or argument problem.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

// cli carries the global flags and writers shared by every command.
type cli struct {
	stdout, stderr io.Writer
	json           bool
	org            string
	user           string
	requestID      string
	cfg            *config.Config
}

func (c *cli) actor() (contracts.Actor, error) {
	if strings.TrimSpace(c.org) == "" {
		return contracts.Actor{}, usageError{errors.New("--org (or ADOPTION_ORG) is required")}
	}
	return contracts.Actor{OrgID: c.org, UserID: c.user, RequestID: c.requestID}, nil
}

// Run executes the CLI and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	c := &cli{stdout: stdout, stderr: stderr, cfg: config.Load(), requestID: uuid.NewString()}
	setupLogging(stderr, c.cfg.LogLevel)

	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(context.Background())
	if err == nil {
		return exitOK
	}
	c.printError(err)
	var ue usageError
	if errors.As(err, &ue) || apperror.Is(err, apperror.KindValidation) {
		return exitUsage
	}
	return exitRuntime
}

func setupLogging(w io.Writer, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "adoption",
		Short:         "Control adoption freshness and intervention engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.BoolVar(&c.json, "json", false, "Print results and errors as JSON")
	pf.StringVar(&c.org, "org", os.Getenv("ADOPTION_ORG"), "Organization scope")
	pf.StringVar(&c.user, "user", getenvDefault("ADOPTION_USER", "cli"), "Acting user recorded in the audit trail")

	root.AddCommand(
		serveCmd(c),
		migrateCmd(c),
		seedCmd(c),
		mapCmd(c),
		evidenceCmd(c),
		lineageCmd(c),
		exportCmd(c),
		freshnessCmd(c),
		benchmarkCmd(c),
		graphCmd(c),
		recommendCmd(c),
		approveCmd(c),
		dismissCmd(c),
		executeCmd(c),
		historyCmd(c),
		syncCmd(c),
		auditCmd(c),
	)
	return root
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// runWithApp opens the engine, runs fn and prints its result.
func (c *cli) runWithApp(fn func(ctx context.Context, a *app, actor contracts.Actor) (any, string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		actor, err := c.actor()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, c.cfg)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(ctx); cerr != nil {
				slog.WarnContext(ctx, "shutdown", "error", cerr)
			}
		}()

		result, summary, err := fn(ctx, a, actor)
		if err != nil {
			return err
		}
		return c.print(result, summary)
	}
}

func (c *cli) print(result any, summary string) error {
	if c.json {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	if summary != "" {
		_, _ = color.New(color.FgGreen, color.Bold).Fprintln(c.stdout, summary)
	}
	if result == nil {
		return nil
	}
	// Round trip through JSON so the YAML view uses the json field names.
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	_, err = c.stdout.Write(out)
	return err
}

func (c *cli) printError(err error) {
	var ue usageError
	if errors.As(err, &ue) {
		err = apperror.Validation("cli", "%s", ue.Error())
	}
	p := apperror.ToProblem(err, c.requestID)
	if c.json {
		enc := json.NewEncoder(c.stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(p)
		return
	}
	_, _ = color.New(color.FgRed, color.Bold).Fprintf(c.stderr, "Error: %s\n", p.Code)
	if p.Detail != "" {
		_, _ = fmt.Fprintf(c.stderr, "  %s\n", p.Detail)
	}
	if p.RetryAfterSeconds > 0 {
		_, _ = color.New(color.FgYellow).Fprintf(c.stderr, "  retry after %ds\n", p.RetryAfterSeconds)
	}
}
