package transport

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wics-station/wics/internal/logger"
	"github.com/wics-station/wics/internal/protocol"
)

const (
	defaultPollInterval  = 10 * time.Millisecond
	defaultInboundBuffer = 64
)

type Config struct {
	// PollInterval bounds how long one receive waits before the loop
	// checks for close requests and pending sends.
	PollInterval time.Duration

	// Coalesce keeps only the latest pending datagram per destination.
	Coalesce bool

	// Direction of the datagrams this worker receives.
	Direction protocol.Direction

	InboundBuffer int
	Logger        *logrus.Logger
	Hook          Hook
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  defaultPollInterval,
		Direction:     protocol.FromDevice,
		InboundBuffer: defaultInboundBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.InboundBuffer <= 0 {
		c.InboundBuffer = defaultInboundBuffer
	}
	if c.Logger == nil {
		c.Logger = logger.Discard()
	}
	if c.Hook == nil {
		c.Hook = NopHook{}
	}
	return c
}
