// Package metrics exports scheduler and job outcome counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stanstork/stratum-ingest/internal/engine"
	"github.com/stanstork/stratum-ingest/internal/models"
)

const namespace = "stratum_ingest"

// Metrics implements both the scheduler's dispatch accounting and the engine
// listener, on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	dispatches  *prometheus.CounterVec
	deferrals   *prometheus.CounterVec
	inFlight    prometheus.Gauge
	outcomes    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	bytes       prometheus.Counter
	records     *prometheus.CounterVec
	duration    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Executions handed to the worker pool, by source loop.",
		}, []string{"loop"}),
		deferrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_deferrals_total",
			Help:      "Dispatches refused, by source loop and reason.",
		}, []string{"loop", "reason"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Jobs claimed by a pending or running execution.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempt_outcomes_total",
			Help:      "Retry policy decisions per attempt.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Job status changes.",
		}, []string{"from", "to"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_processed_total",
			Help:      "Bytes extracted across all attempts.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records reported by storages.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of one execution attempt.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	m.registry.MustRegister(
		m.dispatches, m.deferrals, m.inFlight, m.outcomes,
		m.transitions, m.bytes, m.records, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DispatchAccepted(loop string) {
	m.dispatches.WithLabelValues(loop).Inc()
}

func (m *Metrics) DispatchDeferred(loop, reason string) {
	m.deferrals.WithLabelValues(loop, reason).Inc()
}

func (m *Metrics) InFlight(n int) {
	m.inFlight.Set(float64(n))
}

func (m *Metrics) AttemptDecided(decision engine.Decision, err error) {
	if err != nil {
		m.outcomes.WithLabelValues("not_started").Inc()
		return
	}
	m.outcomes.WithLabelValues(decision.Outcome.String()).Inc()
}

func (m *Metrics) StatusChanged(_ context.Context, job models.Job, from models.JobStatus) {
	m.transitions.WithLabelValues(string(from), string(job.Status)).Inc()
}

func (m *Metrics) AttemptFinished(_ context.Context, _ models.Job, stat models.JobStatistics, err error) {
	m.bytes.Add(float64(stat.BytesProcessed))
	m.duration.Observe(float64(stat.ProcessingTimeMs) / 1000)
	if err != nil {
		m.records.WithLabelValues("failed").Add(float64(stat.RecordsFailed))
		return
	}
	m.records.WithLabelValues("processed").Add(float64(stat.RecordsProcessed))
}
