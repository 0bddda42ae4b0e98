package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// The device firmware lays its structs out packed and in its own byte
// order; the client is assumed to share it.
var order = binary.NativeEndian

type Codec struct {
	dir Direction
}

// NewCodec returns a codec that decodes datagrams travelling in dir.
func NewCodec(dir Direction) *Codec {
	return &Codec{dir: dir}
}

func (c *Codec) Direction() Direction {
	return c.dir
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	data, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// EncodeToBytes serialises msg into exactly the number of bytes announced
// in its length field.
func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Generic:
		buf := preamble(GenericSize, m.Op)
		return order.AppendUint16(buf, m.Param), nil

	case *DeviceInfo:
		buf := preamble(DeviceInfoSize, OpDeviceInfo)
		buf = order.AppendUint16(buf, m.Flags)
		buf = order.AppendUint16(buf, m.Hardware)
		buf = order.AppendUint16(buf, m.HWVersion)
		buf = order.AppendUint32(buf, m.SWVersion)
		buf = order.AppendUint32(buf, m.FWVersion)
		return order.AppendUint32(buf, m.Serial), nil

	case *UpgradeInit:
		buf := preamble(UpgradeInitSize, OpUpgradeStart)
		buf = order.AppendUint16(buf, uint16(m.Module))
		return order.AppendUint32(buf, m.FirmwareSize), nil

	case *UpgradeData:
		if len(m.Payload) > MaxUpgradePayload {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(m.Payload))
		}
		buf := preamble(UpgradeDataHeaderSize+len(m.Payload), OpUpgradeData)
		buf = order.AppendUint16(buf, uint16(m.Module))
		buf = order.AppendUint16(buf, m.Block)
		return append(buf, m.Payload...), nil

	case *UpgradeState:
		buf := preamble(UpgradeStateSize, OpUpgradeState)
		buf = order.AppendUint16(buf, m.Block)
		return order.AppendUint16(buf, m.Result), nil

	case *WifiStationReport:
		return encodeWifiStation(m.SSID, m.Password), nil

	case *WifiStationSet:
		return encodeWifiStation(m.SSID, m.Password), nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
	}
}

// DecodeFromBytes parses one datagram. It never reads past data and
// returns a *DecodeError for anything it refuses.
func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	if len(data) < PreambleSize {
		return nil, &DecodeError{Kind: MalformedHeader, Actual: len(data), Raw: clone(data)}
	}

	declared := int(order.Uint16(data[0:2]))
	header := order.Uint16(data[2:4])
	op := Opcode(order.Uint16(data[4:6]))

	if header != Header {
		return nil, &DecodeError{Kind: MalformedHeader, Header: header, Opcode: op, Actual: len(data), Raw: clone(data)}
	}
	if declared != len(data) {
		return nil, lengthMismatch(op, declared, data)
	}

	body := data[PreambleSize:]

	switch op {
	case OpDeviceInfoGet, OpWifiStationGet:
		if len(data) != GenericSize {
			return nil, lengthMismatch(op, GenericSize, data)
		}
		return &Generic{Op: op, Param: order.Uint16(body[0:2])}, nil

	case OpDeviceInfo:
		if len(data) != DeviceInfoSize {
			return nil, lengthMismatch(op, DeviceInfoSize, data)
		}
		return &DeviceInfo{
			Flags:     order.Uint16(body[0:2]),
			Hardware:  order.Uint16(body[2:4]),
			HWVersion: order.Uint16(body[4:6]),
			SWVersion: order.Uint32(body[6:10]),
			FWVersion: order.Uint32(body[10:14]),
			Serial:    order.Uint32(body[14:18]),
		}, nil

	case OpUpgradeStart:
		if len(data) != UpgradeInitSize {
			return nil, lengthMismatch(op, UpgradeInitSize, data)
		}
		return &UpgradeInit{
			Module:       Module(order.Uint16(body[0:2])),
			FirmwareSize: order.Uint32(body[2:6]),
		}, nil

	case OpUpgradeData:
		if len(data) < UpgradeDataHeaderSize {
			return nil, lengthMismatch(op, UpgradeDataHeaderSize, data)
		}
		return &UpgradeData{
			Module:  Module(order.Uint16(body[0:2])),
			Block:   order.Uint16(body[2:4]),
			Payload: clone(data[UpgradeDataHeaderSize:]),
		}, nil

	case OpUpgradeState:
		if len(data) != UpgradeStateSize {
			return nil, lengthMismatch(op, UpgradeStateSize, data)
		}
		return &UpgradeState{
			Block:  order.Uint16(body[0:2]),
			Result: order.Uint16(body[2:4]),
		}, nil

	case OpWifiStation:
		if len(data) != WifiStationSize {
			return nil, lengthMismatch(op, WifiStationSize, data)
		}
		ssid := cString(body[:stringFieldSize])
		pass := cString(body[stringFieldSize : 2*stringFieldSize])
		if c.dir == ToDevice {
			return &WifiStationSet{SSID: ssid, Password: pass}, nil
		}
		return &WifiStationReport{SSID: ssid, Password: pass}, nil

	default:
		return nil, &DecodeError{Kind: UnknownOpcode, Header: header, Opcode: op, Declared: declared, Actual: len(data), Raw: clone(data)}
	}
}

func preamble(size int, op Opcode) []byte {
	buf := make([]byte, 0, size)
	buf = order.AppendUint16(buf, uint16(size))
	buf = order.AppendUint16(buf, Header)
	return order.AppendUint16(buf, uint16(op))
}

func encodeWifiStation(ssid, pass string) []byte {
	buf := preamble(WifiStationSize, OpWifiStation)
	buf = appendCString(buf, ssid)
	return appendCString(buf, pass)
}

// appendCString writes s into a fixed-width, NUL-padded field. Values
// longer than the field are cut at the field width.
func appendCString(buf []byte, s string) []byte {
	var field [stringFieldSize]byte
	copy(field[:], s)
	return append(buf, field[:]...)
}

func cString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return string(field[:i])
	}
	return string(field)
}

func lengthMismatch(op Opcode, declared int, data []byte) *DecodeError {
	return &DecodeError{Kind: LengthMismatch, Header: Header, Opcode: op, Declared: declared, Actual: len(data), Raw: clone(data)}
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

// PeekOpcode returns the opcode of an encoded datagram without decoding it.
func PeekOpcode(data []byte) (Opcode, bool) {
	if len(data) < PreambleSize {
		return 0, false
	}
	return Opcode(order.Uint16(data[4:6])), true
}
