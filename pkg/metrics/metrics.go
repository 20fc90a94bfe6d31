// Package metrics exposes engine state as Prometheus collectors. All methods
// are safe on a nil *Metrics so services can run without a registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mindburn-Labs/adoption/pkg/contracts"
)

var freshnessStates = []contracts.FreshnessState{
	contracts.StateFresh, contracts.StateAging, contracts.StateStale, contracts.StateCritical,
}

type Metrics struct {
	registry *prometheus.Registry

	freshnessScore  *prometheus.GaugeVec
	freshnessState  *prometheus.GaugeVec
	evidenceTotal   *prometheus.CounterVec
	recommendations *prometheus.CounterVec
	executions      *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	benchmarkCompat prometheus.Counter
}

// New registers the engine collectors plus Go runtime and process
// collectors on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.freshnessScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adoption",
		Name:      "control_freshness_score",
		Help:      "Latest freshness score (0-100) per control",
	}, []string{"org_id", "control_id"})
	m.freshnessState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "adoption",
		Name:      "control_freshness_state",
		Help:      "1 for the control's current freshness state, 0 otherwise",
	}, []string{"org_id", "control_id", "state"})
	m.evidenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adoption",
		Name:      "evidence_records_total",
		Help:      "Evidence create outcomes by type",
	}, []string{"evidence_type", "outcome"})
	m.recommendations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adoption",
		Name:      "recommendations_created_total",
		Help:      "Recommendations created by type",
	}, []string{"recommendation_type"})
	m.executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adoption",
		Name:      "intervention_executions_total",
		Help:      "Execute calls by resulting status",
	}, []string{"status", "reused"})
	m.rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "adoption",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"action"})
	m.benchmarkCompat = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "adoption",
		Name:      "benchmark_compat_mode_total",
		Help:      "Benchmark resolutions served from fallback values",
	})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.freshnessScore, m.freshnessState, m.evidenceTotal,
		m.recommendations, m.executions, m.rateLimited, m.benchmarkCompat,
	)
	return m
}

// Registry returns the private registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFreshness records a computed snapshot.
func (m *Metrics) ObserveFreshness(snap contracts.FreshnessSnapshot) {
	if m == nil {
		return
	}
	m.freshnessScore.WithLabelValues(snap.OrgID, snap.ControlID).Set(float64(snap.Score))
	for _, s := range freshnessStates {
		v := 0.0
		if s == snap.State {
			v = 1
		}
		m.freshnessState.WithLabelValues(snap.OrgID, snap.ControlID, string(s)).Set(v)
	}
}

// EvidenceCreated counts inserted and deduplicated records.
func (m *Metrics) EvidenceCreated(t contracts.EvidenceType, inserted, existing int) {
	if m == nil {
		return
	}
	m.evidenceTotal.WithLabelValues(string(t), "inserted").Add(float64(inserted))
	m.evidenceTotal.WithLabelValues(string(t), "existing").Add(float64(existing))
}

func (m *Metrics) RecommendationCreated(t contracts.RecommendationType) {
	if m == nil {
		return
	}
	m.recommendations.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) ExecutionFinished(status contracts.ExecutionStatus, reused bool) {
	if m == nil {
		return
	}
	r := "false"
	if reused {
		r = "true"
	}
	m.executions.WithLabelValues(string(status), r).Inc()
}

func (m *Metrics) RateLimited(action string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(action).Inc()
}

func (m *Metrics) BenchmarkCompatMode() {
	if m == nil {
		return
	}
	m.benchmarkCompat.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server serves /metrics and /healthz on addr.
type Server struct {
	server *http.Server
}

func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{server: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}}
}

func (s *Server) Serve() error                       { return s.server.ListenAndServe() }
func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
