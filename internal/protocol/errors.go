package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedHeader = errors.New("protocol: malformed header")
	ErrLengthMismatch  = errors.New("protocol: length mismatch")
	ErrUnknownOpcode   = errors.New("protocol: unknown opcode")

	ErrPayloadTooLarge    = errors.New("protocol: payload exceeds datagram size")
	ErrUnsupportedMessage = errors.New("protocol: unsupported message")
)

type DecodeErrorKind int

const (
	MalformedHeader DecodeErrorKind = iota
	LengthMismatch
	UnknownOpcode
)

func (k DecodeErrorKind) String() string {
	switch k {
	case MalformedHeader:
		return "MALFORMED_HEADER"
	case LengthMismatch:
		return "LENGTH_MISMATCH"
	case UnknownOpcode:
		return "UNKNOWN_OPCODE"
	default:
		return "UNKNOWN"
	}
}

// DecodeError describes a datagram the codec refused. Raw holds a copy of
// the offending bytes so callers can report it.
type DecodeError struct {
	Kind     DecodeErrorKind
	Header   uint16
	Opcode   Opcode
	Declared int
	Actual   int
	Raw      []byte
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case MalformedHeader:
		if e.Actual < PreambleSize {
			return fmt.Sprintf("protocol: malformed header: %d bytes, need at least %d", e.Actual, PreambleSize)
		}
		return fmt.Sprintf("protocol: malformed header: tag 0x%04X, expected 0x%04X", e.Header, Header)
	case LengthMismatch:
		return fmt.Sprintf("protocol: length mismatch for %s: declared %d, got %d bytes", e.Opcode, e.Declared, e.Actual)
	case UnknownOpcode:
		return fmt.Sprintf("protocol: unknown opcode 0x%04X", uint16(e.Opcode))
	default:
		return "protocol: decode error"
	}
}

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformedHeader:
		return e.Kind == MalformedHeader
	case ErrLengthMismatch:
		return e.Kind == LengthMismatch
	case ErrUnknownOpcode:
		return e.Kind == UnknownOpcode
	}
	return false
}
