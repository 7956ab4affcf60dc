// Package metrics exposes Prometheus collectors for the session broker.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Error kinds recorded by ErrorOccurred
const (
	KindProtocol    = "protocol"
	KindDomain      = "domain"
	KindConsistency = "consistency"
)

// Move results recorded by MoveHandled
const (
	MoveAccepted  = "accepted"
	MoveRejected  = "rejected"
	MoveOutOfTurn = "out_of_turn"
)

// Config configures the collectors
type Config struct {
	Namespace string
	Registry  prometheus.Registerer
	Buckets   []float64
}

// Option configures Metrics
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the broker's collectors
type Metrics struct {
	connections      prometheus.Gauge
	sessions         prometheus.Gauge
	eventsTotal      *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	movesTotal       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
}

// New registers the collectors with the configured registry
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "tictactoe",
		Registry:  prometheus.DefaultRegisterer,
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "connections_active",
			Help:      "Number of open WebSocket connections",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions in the session registry",
		}),
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "events_total",
			Help:      "Client events dispatched, by event kind",
		}, []string{"event"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "errors_total",
			Help:      "Errors seen while handling client events, by kind",
		}, []string{"kind"}),
		movesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "moves_total",
			Help:      "Game moves received, by outcome",
		}, []string{"result"}),
		dispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent dispatching one client event",
			Buckets:   cfg.Buckets,
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// SetSessions records the current size of the session registry
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// EventDispatched counts one client event and how long it took
func (m *Metrics) EventDispatched(event string, took time.Duration) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event).Inc()
	m.dispatchDuration.Observe(took.Seconds())
}

func (m *Metrics) ErrorOccurred(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) MoveHandled(result string) {
	if m == nil {
		return
	}
	m.movesTotal.WithLabelValues(result).Inc()
}
