package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

func TestObserveFreshness(t *testing.T) {
	m := New()
	m.ObserveFreshness(contracts.FreshnessSnapshot{OrgID: "org", ControlID: "c1",
		State: contracts.StateStale, Score: 41})

	assert.Equal(t, 41.0, testutil.ToFloat64(m.freshnessScore.WithLabelValues("org", "c1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.freshnessState.WithLabelValues("org", "c1", "stale")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.freshnessState.WithLabelValues("org", "c1", "fresh")))

	m.ObserveFreshness(contracts.FreshnessSnapshot{OrgID: "org", ControlID: "c1",
		State: contracts.StateFresh, Score: 90})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.freshnessState.WithLabelValues("org", "c1", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.freshnessState.WithLabelValues("org", "c1", "fresh")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.EvidenceCreated(contracts.EvidenceQuizPass, 2, 1)
	m.RecommendationCreated(contracts.RecommendReminderCadence)
	m.ExecutionFinished(contracts.ExecutionCompleted, true)
	m.RateLimited("recommend")
	m.BenchmarkCompatMode()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evidenceTotal.WithLabelValues("quiz_pass", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evidenceTotal.WithLabelValues("quiz_pass", "existing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("completed", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.benchmarkCompat))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveFreshness(contracts.FreshnessSnapshot{})
	m.RateLimited("x")
	m.BenchmarkCompatMode()
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecommendationCreated(contracts.RecommendManagerEscalation)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `adoption_recommendations_created_total{recommendation_type="manager_escalation"} 1`)
}
