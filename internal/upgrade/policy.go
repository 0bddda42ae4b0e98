package upgrade

import (
	"fmt"
	"time"
)

const (
	DefaultMaxRetries      = 3
	DefaultDatagramTimeout = 3 * time.Second
	DefaultUpgradeTimeout  = 30 * time.Second
)

// Policy sets the retry and timeout budget of a transfer. MaxRetries is
// the number of transmissions of one datagram, the first one included.
type Policy struct {
	MaxRetries      int
	DatagramTimeout time.Duration
	UpgradeTimeout  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      DefaultMaxRetries,
		DatagramTimeout: DefaultDatagramTimeout,
		UpgradeTimeout:  DefaultUpgradeTimeout,
	}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", p.MaxRetries)
	}
	if p.DatagramTimeout <= 0 {
		return fmt.Errorf("datagram timeout must be positive, got %s", p.DatagramTimeout)
	}
	if p.UpgradeTimeout <= 0 {
		return fmt.Errorf("upgrade timeout must be positive, got %s", p.UpgradeTimeout)
	}
	return nil
}

// InitTimeout bounds the wait for the acknowledgement of UPGRADE_START,
// for the first transmission and for every resend.
func (p Policy) InitTimeout() time.Duration { return p.UpgradeTimeout }

// BlockTimeout bounds the first wait for a data block acknowledgement.
func (p Policy) BlockTimeout() time.Duration { return 2 * p.UpgradeTimeout }

// ResendTimeout bounds the wait after a data block has been resent.
func (p Policy) ResendTimeout() time.Duration { return 3 * p.DatagramTimeout }

// DiscoveryTimeout is how long a caller should wait for DEVINFO replies.
func (p Policy) DiscoveryTimeout() time.Duration { return 2 * p.DatagramTimeout }
