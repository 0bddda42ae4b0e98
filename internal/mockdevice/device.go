package mockdevice

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/wics-station/wics/internal/logger"
	"github.com/wics-station/wics/internal/protocol"
	"github.com/wics-station/wics/internal/transport"
)

// DefaultInfo is what a simulated device reports for DEVINFO_GET.
var DefaultInfo = protocol.DeviceInfo{
	Flags:     0x0001,
	Hardware:  0x0001,
	HWVersion: 102,
	SWVersion: 0x01000005,
	FWVersion: 0x02010010,
	Serial:    0x00C0FFEE,
}

// Device simulates a WICS device on a UDP port. It answers discovery and
// WiFi requests and accepts firmware upgrades, with faults that tests can
// script per block.
type Device struct {
	w     *transport.Worker
	codec *protocol.Codec
	log   *logrus.Logger

	mu       sync.Mutex
	info     protocol.DeviceInfo
	ssid     string
	password string
	received map[protocol.Opcode]int

	module   protocol.Module
	size     uint32
	block    uint16
	image    []byte
	complete bool
	flashed  map[protocol.Module][]byte

	dropAcks  map[uint16]int
	failBlock map[uint16]uint16
	duplicate bool
	silent    bool

	done chan struct{}
}

type Option func(*Device)

func WithLogger(log *logrus.Logger) Option {
	return func(d *Device) {
		if log != nil {
			d.log = log
		}
	}
}

func WithInfo(info protocol.DeviceInfo) Option {
	return func(d *Device) {
		d.info = info
	}
}

func WithWifi(ssid, password string) Option {
	return func(d *Device) {
		d.ssid = ssid
		d.password = password
	}
}

// Start binds the simulated device to port (0 picks a free one).
func Start(port int, opts ...Option) (*Device, error) {
	d := &Device{
		codec:     protocol.NewCodec(protocol.FromDevice),
		log:       logger.Discard(),
		info:      DefaultInfo,
		ssid:      "wics-lab",
		password:  "changeme",
		received:  make(map[protocol.Opcode]int),
		flashed:   make(map[protocol.Module][]byte),
		dropAcks:  make(map[uint16]int),
		failBlock: make(map[uint16]uint16),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	w, err := transport.Open(port, transport.Config{
		Direction: protocol.ToDevice,
		Logger:    d.log,
	})
	if err != nil {
		return nil, fmt.Errorf("start mock device: %w", err)
	}
	d.w = w

	go d.serve()
	return d, nil
}

// Port is the UDP port the device listens on.
func (d *Device) Port() int {
	return int(d.w.LocalAddr().Port())
}

// LoopbackAddr is the device's address on 127.0.0.1.
func (d *Device) LoopbackAddr() netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), d.w.LocalAddr().Port())
}

func (d *Device) Close() {
	d.w.Close()
	<-d.done
}

// DropAcks makes the device swallow the next n acknowledgements of block.
func (d *Device) DropAcks(block uint16, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropAcks[block] = n
}

// FailBlock makes the device answer block with result instead of OK.
func (d *Device) FailBlock(block uint16, result uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failBlock[block] = result
}

// DuplicateAcks makes the device send every acknowledgement twice.
func (d *Device) DuplicateAcks(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.duplicate = enabled
}

// Silent stops all replies while keeping the receive counters running.
func (d *Device) Silent(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.silent = enabled
}

// Received counts the datagrams seen with op.
func (d *Device) Received(op protocol.Opcode) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received[op]
}

func (d *Device) Wifi() (ssid, password string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ssid, d.password
}

// Flashed returns the last complete image written to module.
func (d *Device) Flashed(module protocol.Module) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.flashed[module]...)
}

func (d *Device) serve() {
	defer close(d.done)

	for in := range d.w.Inbound() {
		if in.Err != nil {
			d.log.Debugf("Mock device ignoring datagram from %s: %v", in.From, in.Err)
			continue
		}
		for _, reply := range d.handle(in.Msg) {
			data, err := d.codec.EncodeToBytes(reply)
			if err != nil {
				d.log.Warnf("Mock device failed to encode %s: %v", reply.Opcode(), err)
				continue
			}
			if err := d.w.Enqueue(in.From, data); err != nil {
				return
			}
		}
	}
}

func (d *Device) handle(msg protocol.Message) []protocol.Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.received[msg.Opcode()]++

	var replies []protocol.Message
	switch m := msg.(type) {
	case *protocol.Generic:
		switch m.Op {
		case protocol.OpDeviceInfoGet:
			info := d.info
			replies = append(replies, &info)
		case protocol.OpWifiStationGet:
			replies = append(replies, &protocol.WifiStationReport{SSID: d.ssid, Password: d.password})
		}

	case *protocol.WifiStationSet:
		d.ssid = m.SSID
		d.password = m.Password
		d.log.Infof("Mock device stored station %q", m.SSID)

	case *protocol.UpgradeInit:
		d.module = m.Module
		d.size = m.FirmwareSize
		d.block = 0
		d.image = d.image[:0]
		d.complete = false
		replies = d.ack(0)

	case *protocol.UpgradeData:
		replies = d.acceptBlock(m)
	}

	if d.silent {
		return nil
	}
	return replies
}

func (d *Device) acceptBlock(m *protocol.UpgradeData) []protocol.Message {
	switch {
	case m.Block == d.block+1:
		if _, failing := d.failBlock[m.Block]; !failing {
			d.block = m.Block
			d.image = append(d.image, m.Payload...)
			if uint32(len(d.image)) >= d.size && !d.complete {
				d.complete = true
				d.flashed[d.module] = append([]byte(nil), d.image...)
				d.log.Infof("Mock device flashed %d bytes to %s", len(d.image), d.module)
			}
		}
	case m.Block == d.block:
		// resend after a lost ack
	default:
		d.log.Warnf("Mock device got block %d while at %d", m.Block, d.block)
		return nil
	}
	return d.ack(m.Block)
}

func (d *Device) ack(block uint16) []protocol.Message {
	if n := d.dropAcks[block]; n > 0 {
		d.dropAcks[block] = n - 1
		return nil
	}

	state := &protocol.UpgradeState{Block: block, Result: protocol.ResultOK}
	if result, ok := d.failBlock[block]; ok {
		state.Result = result
	}

	if d.duplicate {
		dup := *state
		return []protocol.Message{state, &dup}
	}
	return []protocol.Message{state}
}
