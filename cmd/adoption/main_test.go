package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/config"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

const catalogYAML = `
controls:
  - code: "SOC2:CC2.2"
    title: Security awareness
    risk: high
  - code: "ISO:A.6.3"
    title: Awareness training
    owner: ciso@example.com
campaigns:
  - id: camp-1
    title: Annual awareness
    updated_at: 2026-01-10T00:00:00Z
mappings:
  - control: "SOC2:CC2.2"
    campaign: camp-1
  - control: "ISO:A.6.3"
    campaign: camp-1
assignments:
  - id: a1
    campaign: camp-1
    user: u1
  - id: a2
    campaign: camp-1
    user: u2
    status: completed
`

func setup(t *testing.T) (*store.MemoryStore, string) {
	t.Helper()
	s := store.NewMemoryStore()
	prev := openStore
	openStore = func(context.Context, *config.Config) (store.Store, func() error, error) {
		return s, func() error { return nil }, nil
	}
	t.Cleanup(func() { openStore = prev })

	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("ADOPTION_ORG", "org-1")
	t.Setenv("LOG_LEVEL", "ERROR")

	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))
	return s, path
}

func run(t *testing.T, args ...string) (int, []byte, []byte) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(args, &stdout, &stderr)
	return code, stdout.Bytes(), stderr.Bytes()
}

func runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	code, out, errOut := run(t, append(args, "--json")...)
	require.Equal(t, exitOK, code, "stderr: %s", errOut)
	require.NoError(t, json.Unmarshal(out, v), "stdout: %s", out)
}

// problem finds the RFC 7807 document among the stderr JSON values.
func problem(t *testing.T, stderr []byte) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(stderr))
	for {
		var v map[string]any
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if _, ok := v["code"]; ok {
			return v
		}
	}
	t.Fatalf("no problem detail in %s", stderr)
	return nil
}

func TestSeedRecordAndAssess(t *testing.T) {
	_, path := setup(t)

	var report map[string]any
	runJSON(t, &report, "seed", path)
	assert.EqualValues(t, 2, report["controls"])
	assert.EqualValues(t, 2, report["mappings"])

	var created map[string]any
	runJSON(t, &created, "evidence", "record",
		"--type", "quiz_pass",
		"--source-table", "quiz_attempts",
		"--source-id", "q-1",
		"--campaign", "camp-1",
		"--learner", "u1",
		"--metadata", `{"score": 92, "attempt": 1}`)
	assert.EqualValues(t, 2, created["created"], "fans out over both mapped controls")

	// Replaying the same event is deduplicated.
	var replay map[string]any
	runJSON(t, &replay, "evidence", "record",
		"--type", "quiz_pass", "--source-table", "quiz_attempts", "--source-id", "q-1", "--campaign", "camp-1")
	assert.EqualValues(t, 0, replay["created"])

	var assessment struct {
		Snapshot struct {
			ControlID string `json:"control_id"`
			State     string `json:"state"`
			Score     int    `json:"score"`
		} `json:"snapshot"`
		Trend struct {
			Points    []any `json:"points"`
			Synthetic bool  `json:"synthetic"`
		} `json:"trend"`
	}
	runJSON(t, &assessment, "freshness", "--control", "SOC2:CC2.2")
	assert.Equal(t, "SOC2:CC2.2", assessment.Snapshot.ControlID)
	assert.Equal(t, "fresh", assessment.Snapshot.State)
	assert.True(t, assessment.Trend.Synthetic)
	assert.Len(t, assessment.Trend.Points, 7)
}

func TestRecommendApproveExecute(t *testing.T) {
	s, path := setup(t)
	runJSON(t, &map[string]any{}, "seed", path)
	// Give SOC2 evidence so only ISO is recommended on.
	code, _, errOut := run(t, "evidence", "record", "--type", "attestation",
		"--source-table", "attestations", "--source-id", "att-1", "--control", "SOC2:CC2.2")
	require.Equal(t, exitOK, code, "stderr: %s", errOut)

	var gen struct {
		Snapshot struct {
			State string `json:"state"`
		} `json:"snapshot"`
		Created []struct {
			ID   string `json:"id"`
			Type string `json:"recommendation_type"`
		} `json:"created"`
	}
	runJSON(t, &gen, "recommend", "--control", "ISO:A.6.3")
	assert.Equal(t, "critical", gen.Snapshot.State)
	require.Len(t, gen.Created, 3)
	assert.Equal(t, "reminder_cadence", gen.Created[0].Type)
	id := gen.Created[0].ID

	// Executing before approval is a conflict.
	code, _, errOut = run(t, "execute", id, "--json")
	assert.Equal(t, exitRuntime, code)
	assert.Equal(t, "CONFLICT", problem(t, errOut)["code"])

	var approved map[string]any
	runJSON(t, &approved, "approve", id, "--note", "go")
	assert.Equal(t, "approved", approved["status"])

	var first, second struct {
		Execution struct {
			Status string         `json:"execution_status"`
			Result map[string]any `json:"result"`
		} `json:"execution"`
		Reused bool `json:"reused"`
	}
	runJSON(t, &first, "execute", id)
	assert.Equal(t, "completed", first.Execution.Status)
	assert.False(t, first.Reused)
	assert.EqualValues(t, 1, first.Execution.Result["queued"])

	runJSON(t, &second, "execute", id)
	assert.True(t, second.Reused)

	jobs, err := s.ListNotifications(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestErrors(t *testing.T) {
	setup(t)

	code, _, errOut := run(t, "freshness", "--control", "missing", "--json")
	assert.Equal(t, exitRuntime, code)
	assert.Equal(t, "NOT_FOUND", problem(t, errOut)["code"])

	code, _, errOut = run(t, "evidence", "record", "--type", "bogus",
		"--source-table", "t", "--source-id", "1", "--json")
	assert.Equal(t, exitUsage, code)
	assert.Equal(t, "VALIDATION_ERROR", problem(t, errOut)["code"])

	code, _, _ = run(t, "recommend", "--no-such-flag")
	assert.Equal(t, exitUsage, code)

	t.Setenv("ADOPTION_ORG", "")
	code, _, _ = run(t, "graph")
	assert.Equal(t, exitUsage, code)
}

func TestHumanOutput(t *testing.T) {
	_, path := setup(t)
	code, out, _ := run(t, "seed", path)
	require.Equal(t, exitOK, code)
	assert.Contains(t, string(out), "Seeded 2 controls")
	assert.Contains(t, string(out), "controls: 2")
}

func TestSweepCapturesOrgBenchmarks(t *testing.T) {
	_, path := setup(t)
	runJSON(t, &map[string]any{}, "seed", path)

	var before map[string]any
	runJSON(t, &before, "benchmark", "--metric", "control_freshness")
	assert.Nil(t, before["org_value"])

	ctx := context.Background()
	a, err := newApp(ctx, config.Load())
	require.NoError(t, err)
	defer func() { _ = a.close(ctx) }()
	sweep(ctx, a, contracts.Actor{OrgID: "org-1", UserID: "scheduler"})

	var after map[string]any
	runJSON(t, &after, "benchmark", "--metric", "stale_controls_ratio")
	require.NotNil(t, after["org_value"])
	assert.False(t, after["compat_mode"].(bool))

	var fresh map[string]any
	runJSON(t, &fresh, "benchmark", "--metric", "control_freshness")
	require.NotNil(t, fresh["org_value"])
}
