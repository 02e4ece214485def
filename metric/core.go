package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Graph run outcomes used as the "outcome" label
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
	OutcomeAborted   = "aborted"
)

// Metrics contains the engine-level metrics shared by all graph runs
type Metrics struct {
	GraphsStarted     prometheus.Counter
	GraphsFinished    *prometheus.CounterVec
	GraphsActive      prometheus.Gauge
	SignalsExecuted   prometheus.Counter
	SignalQueueDepth  prometheus.Gauge
	ElementsPushed    *prometheus.CounterVec
	DemandRequested   *prometheus.CounterVec
	ProtocolViolation *prometheus.CounterVec
	StageFailures     *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		GraphsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stagegraph",
				Subsystem: "graph",
				Name:      "started_total",
				Help:      "Total number of graph runs started",
			},
		),

		GraphsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagegraph",
				Subsystem: "graph",
				Name:      "finished_total",
				Help:      "Total number of graph runs finished, by outcome",
			},
			[]string{"outcome"},
		),

		GraphsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stagegraph",
				Subsystem: "graph",
				Name:      "active",
				Help:      "Number of graph runs currently in flight",
			},
		),

		SignalsExecuted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "stagegraph",
				Subsystem: "signal",
				Name:      "executed_total",
				Help:      "Total number of signals executed across all graph runs",
			},
		),

		SignalQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "stagegraph",
				Subsystem: "signal",
				Name:      "queue_depth",
				Help:      "Pending signals observed at the last enqueue",
			},
		),

		ElementsPushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagegraph",
				Subsystem: "stage",
				Name:      "elements_pushed_total",
				Help:      "Total number of elements pushed through an outlet",
			},
			[]string{"stage"},
		),

		DemandRequested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagegraph",
				Subsystem: "boundary",
				Name:      "demand_requested_total",
				Help:      "Total number of elements requested from upstream publishers",
			},
			[]string{"inlet"},
		),

		ProtocolViolation: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagegraph",
				Subsystem: "boundary",
				Name:      "protocol_violations_total",
				Help:      "Total number of boundary protocol violations",
			},
			[]string{"port"},
		),

		StageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagegraph",
				Subsystem: "stage",
				Name:      "failures_total",
				Help:      "Total number of failures raised by user functions in a stage",
			},
			[]string{"stage"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.GraphsStarted,
		m.GraphsFinished,
		m.GraphsActive,
		m.SignalsExecuted,
		m.SignalQueueDepth,
		m.ElementsPushed,
		m.DemandRequested,
		m.ProtocolViolation,
		m.StageFailures,
	}
}

// RecordGraphStarted counts a started run
func (m *Metrics) RecordGraphStarted() {
	m.GraphsStarted.Inc()
	m.GraphsActive.Inc()
}

// RecordGraphFinished counts a finished run with its outcome
func (m *Metrics) RecordGraphFinished(outcome string) {
	m.GraphsFinished.WithLabelValues(outcome).Inc()
	m.GraphsActive.Dec()
}

// RecordSignal counts one executed signal
func (m *Metrics) RecordSignal() {
	m.SignalsExecuted.Inc()
}

// RecordQueueDepth sets the observed signal queue depth
func (m *Metrics) RecordQueueDepth(depth int) {
	m.SignalQueueDepth.Set(float64(depth))
}

// RecordPush counts an element pushed by a stage
func (m *Metrics) RecordPush(stage string) {
	m.ElementsPushed.WithLabelValues(stage).Inc()
}

// RecordDemand counts elements requested upstream by a boundary inlet
func (m *Metrics) RecordDemand(inlet string, n int64) {
	m.DemandRequested.WithLabelValues(inlet).Add(float64(n))
}

// RecordProtocolViolation counts a boundary protocol violation
func (m *Metrics) RecordProtocolViolation(port string) {
	m.ProtocolViolation.WithLabelValues(port).Inc()
}

// RecordStageFailure counts a user function failure
func (m *Metrics) RecordStageFailure(stage string) {
	m.StageFailures.WithLabelValues(stage).Inc()
}
