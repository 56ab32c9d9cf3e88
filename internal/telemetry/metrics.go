// Package telemetry exposes Prometheus metrics for simulation runs.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"covsim/internal/evo"
)

const namespace = "covsim"

// Metrics owns a private registry so several clients in one process, or
// tests, never collide on the default registerer.
type Metrics struct {
	registry *prometheus.Registry

	cycles       prometheus.Counter
	candidates   prometheus.Counter
	perfect      prometheus.Counter
	runs         *prometheus.CounterVec
	bestScore    *prometheus.GaugeVec
	meanScore    *prometheus.GaugeVec
	similarity   *prometheus.GaugeVec
	retained     *prometheus.GaugeVec
	cycleSeconds prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed selection cycles.",
		}),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_scored_total",
			Help:      "Candidates scored across all cycles.",
		}),
		perfect: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "perfect_matches_total",
			Help:      "Cycles that produced an exact match to the target.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by terminal state.",
		}, []string{"state"}),
		bestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_score",
			Help:      "Best score of the latest cycle.",
		}, []string{"run_id"}),
		meanScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_score",
			Help:      "Mean candidate score of the latest cycle.",
		}, []string{"run_id"}),
		similarity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_similarity_percent",
			Help:      "Best score of the latest cycle as a percentage of the maximum.",
		}, []string{"run_id"}),
		retained: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retained_seeds",
			Help:      "Selected sequences identical to their parent in the latest cycle.",
		}, []string{"run_id"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time per cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	m.registry.MustRegister(
		m.cycles, m.candidates, m.perfect, m.runs,
		m.bestScore, m.meanScore, m.similarity, m.retained, m.cycleSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one completed cycle of runID that took seconds of wall time.
func (m *Metrics) Observe(runID string, record evo.CycleRecord, seconds float64) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.candidates.Add(float64(len(record.Ranked)))
	if record.PerfectMatch {
		m.perfect.Inc()
	}
	m.bestScore.WithLabelValues(runID).Set(record.BestScore)
	m.meanScore.WithLabelValues(runID).Set(record.MeanScore)
	m.similarity.WithLabelValues(runID).Set(evo.Similarity(record.BestScore, record.MaxScore))
	m.retained.WithLabelValues(runID).Set(float64(record.Retained))
	if seconds >= 0 {
		m.cycleSeconds.Observe(seconds)
	}
}

func (m *Metrics) RunFinished(state evo.State) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
