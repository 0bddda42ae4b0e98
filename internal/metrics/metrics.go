package metrics

import (
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/wics-station/wics/internal/engine"
	"github.com/wics-station/wics/internal/protocol"
	"github.com/wics-station/wics/internal/transport"
)

type Config struct {
	// Namespace prefixes every metric name (default: "wics").
	Namespace string

	// Registry receives the collectors (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "wics",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Collector counts datagram traffic and transfer outcomes. It plugs into
// the engine through engine.WithHook.
type Collector struct {
	sent      *prometheus.CounterVec
	sentBytes prometheus.Counter
	received  *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	retries   *prometheus.CounterVec
	upgrades  *prometheus.CounterVec
}

var _ engine.Observer = (*Collector)(nil)

func New(opts ...Option) *Collector {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Collector{
		sent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "datagrams_sent_total",
			Help:      "Datagrams transmitted, by opcode",
		}, []string{"opcode"}),

		sentBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "datagram_bytes_sent_total",
			Help:      "Bytes transmitted in datagrams",
		}),

		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "datagrams_received_total",
			Help:      "Datagrams received and decoded, by opcode",
		}, []string{"opcode"}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams discarded, by reason",
		}, []string{"reason"}),

		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "upgrade_retries_total",
			Help:      "Upgrade datagrams resent after a timeout, by module",
		}, []string{"module"}),

		upgrades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "upgrades_total",
			Help:      "Finished upgrades, by module and outcome",
		}, []string{"module", "outcome"}),
	}
}

func (c *Collector) DatagramSent(_ netip.AddrPort, op protocol.Opcode, size int) {
	c.sent.WithLabelValues(op.String()).Inc()
	c.sentBytes.Add(float64(size))
}

func (c *Collector) DatagramReceived(_ netip.AddrPort, op protocol.Opcode, _ int) {
	c.received.WithLabelValues(op.String()).Inc()
}

func (c *Collector) DatagramDropped(reason transport.DropReason) {
	c.dropped.WithLabelValues(string(reason)).Inc()
}

func (c *Collector) BlockRetried(module protocol.Module, _ uint16) {
	c.retries.WithLabelValues(module.String()).Inc()
}

func (c *Collector) UpgradeFinished(module protocol.Module, outcome engine.Outcome) {
	c.upgrades.WithLabelValues(module.String(), outcome.String()).Inc()
}
