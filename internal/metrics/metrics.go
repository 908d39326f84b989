// Package metrics exposes transaction runner counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shivanand-hulikatti/pickup-roster/internal/txn"
)

// Recorder counts retries and outcomes of the transaction runner.
type Recorder struct {
	registry *prometheus.Registry
	retries  *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	attempts prometheus.Histogram
}

var _ txn.Observer = (*Recorder)(nil)

// NewRecorder registers the runner collectors on a fresh registry, together
// with the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roster",
			Subsystem: "txn",
			Name:      "retries_total",
			Help:      "Transaction retries by error class.",
		}, []string{"class"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roster",
			Subsystem: "txn",
			Name:      "runs_total",
			Help:      "Finished transaction runs by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "roster",
			Subsystem: "txn",
			Name:      "attempts",
			Help:      "Whole-transaction attempts per run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
	}
	r.registry.MustRegister(
		r.retries,
		r.outcomes,
		r.attempts,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Retried implements txn.Observer.
func (r *Recorder) Retried(class txn.Class) {
	r.retries.WithLabelValues(class.String()).Inc()
}

// Finished implements txn.Observer.
func (r *Recorder) Finished(outcome txn.Outcome, attempts int) {
	r.outcomes.WithLabelValues(string(outcome)).Inc()
	if attempts > 0 {
		r.attempts.Observe(float64(attempts))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
