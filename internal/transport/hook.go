package transport

import (
	"net/netip"

	"github.com/wics-station/wics/internal/protocol"
)

// DropReason labels why a datagram never reached its consumer.
type DropReason string

const (
	DropSendFailed     DropReason = "send_failed"
	DropMalformed      DropReason = "malformed_header"
	DropLengthMismatch DropReason = "length_mismatch"
	DropUnknownOpcode  DropReason = "unknown_opcode"
	DropForeignSender  DropReason = "foreign_sender"
	DropEcho           DropReason = "echo"
)

// DropReasonFor maps a decode error kind to its drop reason.
func DropReasonFor(kind protocol.DecodeErrorKind) DropReason {
	switch kind {
	case protocol.LengthMismatch:
		return DropLengthMismatch
	case protocol.UnknownOpcode:
		return DropUnknownOpcode
	default:
		return DropMalformed
	}
}

// Hook observes datagram traffic. Implementations must be safe for use
// from several goroutines.
type Hook interface {
	DatagramSent(dst netip.AddrPort, op protocol.Opcode, size int)
	DatagramReceived(src netip.AddrPort, op protocol.Opcode, size int)
	DatagramDropped(reason DropReason)
}

type NopHook struct{}

func (NopHook) DatagramSent(netip.AddrPort, protocol.Opcode, int)     {}
func (NopHook) DatagramReceived(netip.AddrPort, protocol.Opcode, int) {}
func (NopHook) DatagramDropped(DropReason)                            {}
