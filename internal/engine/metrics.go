package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records engine activity.
type Metrics struct {
	rulesLearned *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	misses       prometheus.Counter
	retired      prometheus.Counter
	runDuration  prometheus.Histogram
}

// NewMetrics registers the engine metrics on reg. A nil reg keeps them in a
// private registry so that callers without a /metrics endpoint need no setup.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		rulesLearned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finzas_rules_learned_total",
				Help: "Rule drafts stored, by whether they created or merged a rule",
			},
			[]string{"result", "tier"},
		),
		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finzas_transactions_processed_total",
				Help: "Transactions visited by batch runs, by outcome",
			},
			[]string{"outcome"},
		),
		misses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "finzas_rule_misses_total",
				Help: "Human labels that overrode an engine-applied field",
			},
		),
		retired: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "finzas_rules_retired_total",
				Help: "Rules flagged as retired by maintenance",
			},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finzas_run_duration_seconds",
				Help:    "Duration of one owner batch run",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Outcome labels.
const (
	outcomeApplied = "applied"
	outcomeSkipped = "skipped"
	outcomeErrored = "errored"
)

func (m *Metrics) observeRun(res RunResult, seconds float64) {
	m.outcomes.WithLabelValues(outcomeApplied).Add(float64(res.Applied))
	m.outcomes.WithLabelValues(outcomeSkipped).Add(float64(res.Skipped))
	m.outcomes.WithLabelValues(outcomeErrored).Add(float64(res.Errored))
	m.runDuration.Observe(seconds)
}

func (m *Metrics) ruleLearned(created bool, tier string) {
	result := "merged"
	if created {
		result = "created"
	}
	m.rulesLearned.WithLabelValues(result, tier).Inc()
}
