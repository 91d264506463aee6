// Package busmetrics provides a Prometheus-backed implementation of
// bus.Metrics.
package busmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the metrics collector.
type Config struct {
	// Namespace is the metrics namespace. Default: "sporket".
	Namespace string

	// Subsystem is the metrics subsystem. Default: "".
	Subsystem string

	// ConstLabels are constant labels added to every metric.
	ConstLabels prometheus.Labels

	// Registry is the registerer metrics are registered against.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Option configures a Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) { c.Subsystem = subsystem }
}

// WithConstLabels sets constant labels for every metric.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) { c.ConstLabels = labels }
}

// WithRegistry sets the Prometheus registerer.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

func defaultConfig() Config {
	return Config{
		Namespace: "sporket",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector implements bus.Metrics with Prometheus counters and gauges.
// Unlike a process-wide singleton, each Collector owns its own metric
// instances so multiple Servers in the same process can register
// against distinct registries.
type Collector struct {
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	activeConnections prometheus.Gauge
	authSucceeded     prometheus.Counter
	authFailed        prometheus.Counter
	messagesReceived  prometheus.Counter
	messagesBroadcast prometheus.Counter
	broadcastFanout   prometheus.Histogram
	invalidSignatures prometheus.Counter
}

// New builds a Collector and registers its metrics against opts'
// registry (or the default registerer).
func New(opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)

	return &Collector{
		connectionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connections_opened_total",
			Help:        "Total WebSocket connections accepted",
			ConstLabels: cfg.ConstLabels,
		}),
		connectionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "connections_closed_total",
			Help:        "Total WebSocket connections closed",
			ConstLabels: cfg.ConstLabels,
		}),
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "active_connections",
			Help:        "Currently open WebSocket connections",
			ConstLabels: cfg.ConstLabels,
		}),
		authSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "auth_succeeded_total",
			Help:        "Total successful challenge/response handshakes",
			ConstLabels: cfg.ConstLabels,
		}),
		authFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "auth_failed_total",
			Help:        "Total failed challenge/response handshakes",
			ConstLabels: cfg.ConstLabels,
		}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "messages_received_total",
			Help:        "Total authenticated DATA frames received",
			ConstLabels: cfg.ConstLabels,
		}),
		messagesBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "messages_broadcast_total",
			Help:        "Total broadcast operations",
			ConstLabels: cfg.ConstLabels,
		}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "broadcast_fanout",
			Help:        "Number of clients reached per broadcast",
			ConstLabels: cfg.ConstLabels,
			Buckets:     []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}),
		invalidSignatures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "invalid_signatures_total",
			Help:        "Total frames rejected for signature mismatch",
			ConstLabels: cfg.ConstLabels,
		}),
	}
}

func (c *Collector) ConnectionOpened() {
	c.connectionsOpened.Inc()
	c.activeConnections.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connectionsClosed.Inc()
	c.activeConnections.Dec()
}

func (c *Collector) AuthSucceeded() { c.authSucceeded.Inc() }
func (c *Collector) AuthFailed()    { c.authFailed.Inc() }
func (c *Collector) MessageReceived() { c.messagesReceived.Inc() }

func (c *Collector) MessageBroadcast(fanout int) {
	c.messagesBroadcast.Inc()
	c.broadcastFanout.Observe(float64(fanout))
}

func (c *Collector) InvalidSignature() { c.invalidSignatures.Inc() }
