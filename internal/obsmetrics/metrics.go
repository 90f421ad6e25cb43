// Package obsmetrics exposes the run's prometheus collectors: counters
// and gauges for conservation warnings, epistemic debt, calibration
// error, commit events, and beam expansions, served on an optional
// --metrics-addr per spec §6.
package obsmetrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the agent loop and its collaborators
// report through. Constructed once per run against a private registry so
// concurrent test runs never collide on the default global registry.
type Metrics struct {
	registry *prometheus.Registry

	ConservationWarnings prometheus.Counter
	EpistemicDebtBits    prometheus.Gauge
	CostMultiplier       prometheus.Gauge
	CalibrationECE       prometheus.Gauge
	CommitsTotal         prometheus.Counter
	RejectionsTotal      *prometheus.CounterVec
	BeamExpansionsTotal  prometheus.Counter
	BeamNodesEvaluated   prometheus.Counter
	CycleDurationSeconds prometheus.Histogram
}

// New constructs and registers every collector against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ConservationWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biovm_conservation_warnings_total",
			Help: "Untracked-mass clamp events raised by the BVM step function.",
		}),
		EpistemicDebtBits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biovm_epistemic_debt_bits",
			Help: "Current total accrued epistemic debt, in bits.",
		}),
		CostMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biovm_epistemic_cost_multiplier",
			Help: "Current claim cost multiplier derived from accrued debt.",
		}),
		CalibrationECE: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biovm_calibration_ece",
			Help: "Expected calibration error of the active calibrator.",
		}),
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biovm_commits_total",
			Help: "Number of COMMIT actions executed by the agent loop.",
		}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biovm_design_rejections_total",
			Help: "Number of designs rejected by the design bridge, by violation code.",
		}, []string{"violation_code"}),
		BeamExpansionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biovm_beam_expansions_total",
			Help: "Number of beam planner Expand calls.",
		}),
		BeamNodesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biovm_beam_nodes_evaluated_total",
			Help: "Number of beam nodes measured across all expansions.",
		}),
		CycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "biovm_cycle_duration_seconds",
			Help:    "Wall-clock duration of one agent loop cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.ConservationWarnings, m.EpistemicDebtBits, m.CostMultiplier,
		m.CalibrationECE, m.CommitsTotal, m.RejectionsTotal,
		m.BeamExpansionsTotal, m.BeamNodesEvaluated, m.CycleDurationSeconds,
	)
	return m
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until
// the server fails or ctx is canceled, in which case it shuts the server
// down.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
