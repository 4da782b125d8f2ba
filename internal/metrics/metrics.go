// Package metrics exposes Prometheus instrumentation for dispatches, loop
// runs, inference calls and connected clients.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/normanking/fairy/internal/capability"
)

// Dispatch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeUnknown = "unknown"
)

// Metrics holds Fairy's collectors. It implements capability.Observer and
// llm.InferenceObserver.
type Metrics struct {
	DispatchCount    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	RunCount         *prometheus.CounterVec
	RunSteps         prometheus.Histogram
	InferenceLatency *prometheus.HistogramVec
	InferenceErrors  *prometheus.CounterVec
	CommandCount     *prometheus.CounterVec
	ConnectedClients prometheus.Gauge
	MemoryOperations *prometheus.CounterVec
}

// New registers the collectors with reg. Use prometheus.DefaultRegisterer
// in the server and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DispatchCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairy_dispatch_total",
				Help: "Directives dispatched, by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		DispatchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fairy_dispatch_duration_seconds",
				Help:    "Capability handler duration in seconds",
				Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),
		RunCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairy_runs_total",
				Help: "Agent loop runs, by terminal state",
			},
			[]string{"state"},
		),
		RunSteps: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fairy_run_steps",
				Help:    "Model calls per agent loop run",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
		),
		InferenceLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fairy_inference_latency_seconds",
				Help:    "Inference latency in seconds",
				Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"provider"},
		),
		InferenceErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairy_inference_errors_total",
				Help: "Failed inference calls",
			},
			[]string{"provider"},
		),
		CommandCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairy_commands_total",
				Help: "Commands received from clients, by source",
			},
			[]string{"source"},
		),
		ConnectedClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "fairy_connected_clients",
				Help: "Number of connected websocket clients",
			},
		),
		MemoryOperations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fairy_memory_operations_total",
				Help: "Long-term memory operations",
			},
			[]string{"op"},
		),
	}
}

// ObserveDispatch records one capability dispatch.
func (m *Metrics) ObserveDispatch(id string, result capability.Result, elapsed time.Duration) {
	outcome := OutcomeFailure
	switch {
	case result.Success:
		outcome = OutcomeSuccess
	case strings.HasPrefix(result.Message, "Unknown action type:"):
		// Model-invented ids would explode label cardinality.
		m.DispatchCount.WithLabelValues(OutcomeUnknown, OutcomeUnknown).Inc()
		return
	}
	m.DispatchCount.WithLabelValues(id, outcome).Inc()
	m.DispatchDuration.WithLabelValues(id).Observe(elapsed.Seconds())
}

// ObserveInference records one model call.
func (m *Metrics) ObserveInference(provider string, elapsed time.Duration, err error) {
	m.InferenceLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if err != nil {
		m.InferenceErrors.WithLabelValues(provider).Inc()
	}
}
