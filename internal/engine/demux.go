package engine

import (
	"encoding/hex"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/wics-station/wics/internal/protocol"
	"github.com/wics-station/wics/internal/transport"
)

// dispatch routes one inbound datagram. DEVINFO replies are accepted from
// anyone and bind the session; everything else must come from the bound
// device.
func (e *Engine) dispatch(in transport.Inbound) {
	log := e.log.WithField("src", in.From)

	if in.Err != nil {
		e.logDecodeError(log, in)
		return
	}

	if protocol.IsRequest(in.Msg) {
		log.Debugf("Dropping echoed %s request", in.Msg.Opcode())
		e.cfg.Hook.DatagramDropped(transport.DropEcho)
		return
	}

	switch msg := in.Msg.(type) {
	case *protocol.DeviceInfo:
		e.handleDeviceInfo(log, in, msg)

	case *protocol.WifiStationReport:
		if !e.fromTarget(log, in) {
			return
		}
		e.emit(WifiConfig{SSID: msg.SSID, Password: msg.Password})

	case *protocol.UpgradeState:
		if !e.fromTarget(log, in) {
			return
		}
		e.apply(e.transfer.HandleAck(*msg))

	default:
		log.Debugf("Unhandled %s", in.Msg.Opcode())
	}
}

func (e *Engine) handleDeviceInfo(log *logrus.Entry, in transport.Inbound, msg *protocol.DeviceInfo) {
	addr := in.From.Addr()

	prev, rebound := e.session.bind(addr)
	if rebound {
		log.Warnf("Rebinding session from %s", prev)
	}

	log.WithFields(logrus.Fields{
		"hw":     msg.HardwareVersion(),
		"sw":     msg.SoftwareVersion(),
		"fw":     msg.FirmwareVersion(),
		"serial": msg.SerialNumber(),
	}).Info("Device found")

	e.emit(DeviceInfoEvent{Addr: in.From, Info: *msg})

	if err := e.send(addr, protocol.NewWifiStationRequest()); err != nil {
		log.Warnf("Failed to request WiFi station config: %v", err)
	}
}

func (e *Engine) fromTarget(log *logrus.Entry, in transport.Inbound) bool {
	if e.session.matches(in.From.Addr()) {
		return true
	}
	log.Warnf("Dropping %s from a device other than the bound one", in.Msg.Opcode())
	e.cfg.Hook.DatagramDropped(transport.DropForeignSender)
	return false
}

func (e *Engine) logDecodeError(log *logrus.Entry, in transport.Inbound) {
	var decErr *protocol.DecodeError
	if !errors.As(in.Err, &decErr) {
		log.Warnf("Receive failed: %v", in.Err)
		return
	}

	switch decErr.Kind {
	case protocol.MalformedHeader:
		log.Debugf("Ignoring foreign datagram: %v", decErr)
	case protocol.UnknownOpcode:
		log.Warnf("Unknown opcode 0x%04X, %d bytes", uint16(decErr.Opcode), len(in.Raw))
		log.Debugf("Datagram:\n%s", hex.Dump(in.Raw))
	case protocol.LengthMismatch:
		log.Warnf("Rejected datagram: %v", decErr)
	}
}
