package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus instruments.
type Metrics struct {
	JobsTotal    *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	LLMCostUSD   *prometheus.CounterVec
	Resolutions  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		JobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_jobs_total",
				Help: "Ingest task outcomes",
			},
			// outcome: processed, rejected, failed, pending_retry,
			// duplicate_parked, already_done, busy
			[]string{"outcome"},
		),
		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_step_duration_seconds",
				Help:    "Duration of individual pipeline steps",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"step"},
		),
		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_llm_cost_usd_total",
				Help: "Accumulated model cost in USD",
			},
			[]string{"provider"},
		),
		Resolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_duplicate_resolutions_total",
				Help: "User decisions on duplicate warnings",
			},
			[]string{"resolution"},
		),
	}
}

// All recording methods accept a nil receiver so tests can construct a
// pipeline without registering collectors.

func (m *Metrics) outcome(o string) {
	if m != nil {
		m.JobsTotal.WithLabelValues(o).Inc()
	}
}

func (m *Metrics) observeStep(step string, seconds float64) {
	if m != nil {
		m.StepDuration.WithLabelValues(step).Observe(seconds)
	}
}

func (m *Metrics) addCost(provider string, usd float64) {
	if m != nil && provider != "" {
		m.LLMCostUSD.WithLabelValues(provider).Add(usd)
	}
}

func (m *Metrics) resolution(r string) {
	if m != nil {
		m.Resolutions.WithLabelValues(r).Inc()
	}
}
