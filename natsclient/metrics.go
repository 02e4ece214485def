package natsclient

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/stagegraph/metric"
)

// clientMetrics counts traffic through one client. A nil *clientMetrics is
// valid and records nothing.
type clientMetrics struct {
	messagesPublished *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	errors            *prometheus.CounterVec
	connectionStatus  prometheus.Gauge
}

func newClientMetrics(registry *metric.MetricsRegistry) (*clientMetrics, error) {
	m := &clientMetrics{
		messagesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagegraph",
			Subsystem: "nats",
			Name:      "messages_published_total",
			Help:      "Messages published by subject",
		}, []string{"subject"}),

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagegraph",
			Subsystem: "nats",
			Name:      "messages_received_total",
			Help:      "Messages received by subject",
		}, []string{"subject"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagegraph",
			Subsystem: "nats",
			Name:      "operation_errors_total",
			Help:      "NATS operation errors by operation",
		}, []string{"operation"}),

		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stagegraph",
			Subsystem: "nats",
			Name:      "connection_status",
			Help:      "Connection status (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=circuit_open)",
		}),
	}

	if err := registry.RegisterCounterVec("nats", "messages_published", m.messagesPublished); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("nats", "messages_received", m.messagesReceived); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("nats", "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("nats", "connection_status", m.connectionStatus); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *clientMetrics) published(subject string) {
	if m == nil {
		return
	}
	m.messagesPublished.WithLabelValues(subject).Inc()
}

func (m *clientMetrics) received(subject string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(subject).Inc()
}

func (m *clientMetrics) failed(operation string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(operation).Inc()
}

func (m *clientMetrics) setStatus(status ConnectionStatus) {
	if m == nil {
		return
	}
	m.connectionStatus.Set(float64(status))
}
