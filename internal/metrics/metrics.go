package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prediction outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected" // unsafe input
)

// Metrics holds the pipeline's Prometheus collectors
type Metrics struct {
	Predictions     *prometheus.CounterVec
	Duration        prometheus.Histogram
	OutputsFiltered prometheus.Counter
	WorkspaceResets prometheus.Counter
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "become_predictions_total",
				Help: "Total number of predictions by outcome",
			},
			[]string{"outcome"},
		),
		Duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "become_prediction_duration_seconds",
				Help:    "Duration of predictions, including engine execution",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		OutputsFiltered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "become_outputs_filtered_total",
				Help: "Total number of generated images removed by the safety checker",
			},
		),
		WorkspaceResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "become_workspace_resets_total",
				Help: "Total number of workspace resets",
			},
		),
	}
	reg.MustRegister(m.Predictions, m.Duration, m.OutputsFiltered, m.WorkspaceResets)
	return m
}

// ObservePrediction records one finished prediction
func (m *Metrics) ObservePrediction(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.Predictions.WithLabelValues(outcome).Inc()
	m.Duration.Observe(time.Since(started).Seconds())
}

// ObserveFiltered records outputs dropped by the post-generation screen
func (m *Metrics) ObserveFiltered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.OutputsFiltered.Add(float64(n))
}

// ObserveReset records a workspace reset
func (m *Metrics) ObserveReset() {
	if m == nil {
		return
	}
	m.WorkspaceResets.Inc()
}
