package experiments

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "animus"

const experimentsSubsystem = "experiments"

type Metrics struct {
	// InvocationsTotal counts task and evaluator invocations.
	// Labels: stage (task, evaluator), outcome (ok or a failure kind)
	InvocationsTotal *prometheus.CounterVec

	// InvocationSeconds measures invocation latency.
	// Labels: stage
	InvocationSeconds *prometheus.HistogramVec

	// WriteFailuresTotal counts records that could not be persisted.
	// Labels: record (run, annotation)
	WriteFailuresTotal *prometheus.CounterVec

	// InFlight tracks invocations currently executing.
	InFlight prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil registerer yields unregistered
// collectors, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentsSubsystem,
				Name:      "invocations_total",
				Help:      "Total task and evaluator invocations by stage and outcome",
			},
			[]string{"stage", "outcome"},
		),
		InvocationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentsSubsystem,
				Name:      "invocation_seconds",
				Help:      "Invocation latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		WriteFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentsSubsystem,
				Name:      "write_failures_total",
				Help:      "Records dropped after exhausting write retries",
			},
			[]string{"record"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: experimentsSubsystem,
				Name:      "in_flight",
				Help:      "Invocations currently executing",
			},
		),
	}
}

func (m *Metrics) observe(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.InvocationsTotal.WithLabelValues(stage, outcome).Inc()
	m.InvocationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) writeFailed(record string) {
	if m == nil {
		return
	}
	m.WriteFailuresTotal.WithLabelValues(record).Inc()
}

func (m *Metrics) started() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) finished() {
	if m != nil {
		m.InFlight.Dec()
	}
}
