package engine

import (
	"net/netip"

	"github.com/wics-station/wics/internal/protocol"
)

// Event is anything the engine reports on its Events channel.
type Event interface {
	isEvent()
}

// Connected reports the bound local port, or 0 when binding failed.
type Connected struct {
	Port int
}

type DeviceInfoEvent struct {
	Addr netip.AddrPort
	Info protocol.DeviceInfo
}

type WifiConfig struct {
	SSID     string
	Password string
}

// FileOpened reports the firmware image size, or 0 when it could not be
// opened.
type FileOpened struct {
	Path string
	Size int64
}

type UpgradeStarted struct {
	Module      protocol.Module
	TotalBlocks int
}

// BlockAck reports an UPGRADE state from the bound device. Stale is set
// when it acknowledged a block other than the one being waited for; such
// acks leave the transfer and its timeout untouched.
type BlockAck struct {
	Block  uint16
	Result uint16
	Stale  bool
}

type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeDeviceError
	OutcomeNotResponding
	OutcomeAborted
	OutcomeLocalError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeDeviceError:
		return "device_error"
	case OutcomeNotResponding:
		return "not_responding"
	case OutcomeAborted:
		return "aborted"
	case OutcomeLocalError:
		return "local_error"
	default:
		return "unknown"
	}
}

// UpgradeFinished closes every transfer that emitted UpgradeStarted.
type UpgradeFinished struct {
	Module  protocol.Module
	Outcome Outcome
	Block   uint16
	Err     error
}

func (Connected) isEvent()       {}
func (DeviceInfoEvent) isEvent() {}
func (WifiConfig) isEvent()      {}
func (FileOpened) isEvent()      {}
func (UpgradeStarted) isEvent()  {}
func (BlockAck) isEvent()        {}
func (UpgradeFinished) isEvent() {}
