package engine

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wics-station/wics/internal/logger"
	"github.com/wics-station/wics/internal/protocol"
	"github.com/wics-station/wics/internal/transport"
	"github.com/wics-station/wics/internal/upgrade"
)

// Observer extends a transport hook with transfer level notifications.
// A hook passed to WithHook that also implements Observer receives them.
type Observer interface {
	transport.Hook
	BlockRetried(module protocol.Module, block uint16)
	UpgradeFinished(module protocol.Module, outcome Outcome)
}

type Config struct {
	Logger       *logrus.Logger
	Policy       upgrade.Policy
	DevicePort   int
	PollInterval time.Duration
	Coalesce     bool
	Hook         transport.Hook
	EventBuffer  int
}

func defaultConfig() Config {
	return Config{
		Logger:       logger.Discard(),
		Policy:       upgrade.DefaultPolicy(),
		DevicePort:   protocol.DefaultPort,
		PollInterval: transport.DefaultConfig().PollInterval,
		Hook:         transport.NopHook{},
		EventBuffer:  32,
	}
}

type Option func(*Config)

func WithLogger(log *logrus.Logger) Option {
	return func(c *Config) {
		if log != nil {
			c.Logger = log
		}
	}
}

func WithPolicy(p upgrade.Policy) Option {
	return func(c *Config) {
		c.Policy = p
	}
}

func WithRetries(n int) Option {
	return func(c *Config) {
		c.Policy.MaxRetries = n
	}
}

func WithDatagramTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Policy.DatagramTimeout = d
	}
}

func WithUpgradeTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Policy.UpgradeTimeout = d
	}
}

// WithDevicePort sets the UDP port requests are sent to.
func WithDevicePort(port int) Option {
	return func(c *Config) {
		c.DevicePort = port
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

func WithCoalesce(enabled bool) Option {
	return func(c *Config) {
		c.Coalesce = enabled
	}
}

func WithHook(h transport.Hook) Option {
	return func(c *Config) {
		if h != nil {
			c.Hook = h
		}
	}
}

func WithEventBuffer(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.EventBuffer = n
		}
	}
}
