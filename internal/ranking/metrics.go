package ranking

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricRankingRecomputeTotal         = "ranking_recompute_total"
	MetricRankingRecomputeErrors        = "ranking_recompute_errors_total"
	MetricRankingRecomputeDuration      = "ranking_recompute_duration_seconds"
	MetricRankingLastRecomputeTimestamp = "ranking_last_recompute_timestamp"
	MetricRankingLastPromptCount        = "ranking_last_recompute_prompt_count"
	MetricRankingLastModelCount         = "ranking_last_recompute_model_count"
)

// Metrics instruments the recompute cycle itself: cycle counts and
// durations, plus gauges describing the most recent successful snapshot.
// The gauges answer "how fresh and how big is the ranking data" without a
// database query.
type Metrics struct {
	recomputeTotal         prometheus.Counter
	recomputeErrors        prometheus.Counter
	recomputeDuration      prometheus.Histogram
	lastRecomputeTimestamp prometheus.Gauge
	lastPromptCount        prometheus.Gauge
	lastModelCount         prometheus.Gauge
}

// NewMetrics initializes the collectors unregistered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		recomputeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankingRecomputeTotal,
			Help: "Total number of ranking recomputation cycles",
		}),
		recomputeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankingRecomputeErrors,
			Help: "Total number of failed ranking recomputation cycles",
		}),
		recomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: MetricRankingRecomputeDuration,
			Help: "Histogram of ranking recomputation duration in seconds",
			// Small populations finish in well under a second; a full
			// arena with Elo carryover runs tens of seconds.
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}),
		lastRecomputeTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankingLastRecomputeTimestamp,
			Help: "Unix timestamp of the last successful ranking recomputation",
		}),
		lastPromptCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankingLastPromptCount,
			Help: "Number of prompts included in the last ranking recomputation",
		}),
		lastModelCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRankingLastModelCount,
			Help: "Number of models ranked in the last ranking recomputation",
		}),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) IncRecomputeTotal()  { m.recomputeTotal.Inc() }
func (m *Metrics) IncRecomputeErrors() { m.recomputeErrors.Inc() }

// ObserveRecomputeDuration records one cycle's wall time in seconds,
// successful or not.
func (m *Metrics) ObserveRecomputeDuration(seconds float64) {
	m.recomputeDuration.Observe(seconds)
}

// The snapshot gauges are set only after a successful commit, so they
// always describe a computation readers can actually see.

func (m *Metrics) SetLastRecomputeTimestamp(timestamp float64) {
	m.lastRecomputeTimestamp.Set(timestamp)
}

func (m *Metrics) SetLastPromptCount(count float64) {
	m.lastPromptCount.Set(count)
}

func (m *Metrics) SetLastModelCount(count float64) {
	m.lastModelCount.Set(count)
}

// Collectors returns every collector this Metrics manages.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recomputeTotal,
		m.recomputeErrors,
		m.recomputeDuration,
		m.lastRecomputeTimestamp,
		m.lastPromptCount,
		m.lastModelCount,
	}
}
