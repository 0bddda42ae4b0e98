package transport

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wics-station/wics/internal/protocol"
)

var ErrClosed = errors.New("transport: worker closed")

// Inbound is one received datagram. Exactly one of Msg and Err is set.
type Inbound struct {
	From netip.AddrPort
	Msg  protocol.Message
	Raw  []byte
	Err  error
}

type outbound struct {
	dst  netip.AddrPort
	data []byte
}

// Worker owns a UDP socket. Its run loop transmits whatever has been
// enqueued and forwards decoded inbound datagrams until Close is called.
type Worker struct {
	conn  *net.UDPConn
	cfg   Config
	codec *protocol.Codec
	log   *logrus.Logger

	mu      sync.Mutex
	pending []outbound

	inbound   chan Inbound
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Open binds UDP on all IPv4 interfaces at port (0 picks a free port) and
// starts the run loop.
func Open(port int, cfg Config) (*Worker, error) {
	cfg = cfg.withDefaults()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind udp port %d: %w", port, err)
	}

	w := &Worker{
		conn:    conn,
		cfg:     cfg,
		codec:   protocol.NewCodec(cfg.Direction),
		log:     cfg.Logger,
		inbound: make(chan Inbound, cfg.InboundBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	go w.run()
	return w, nil
}

func (w *Worker) LocalAddr() netip.AddrPort {
	return w.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Inbound is closed after the socket has been released.
func (w *Worker) Inbound() <-chan Inbound {
	return w.inbound
}

func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Close asks the run loop to stop. It returns immediately; Done reports
// when the socket is gone.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.closing) })
}

// Enqueue hands a finished datagram to the worker. The slice must not be
// modified afterwards.
func (w *Worker) Enqueue(dst netip.AddrPort, datagram []byte) error {
	select {
	case <-w.closing:
		return ErrClosed
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cfg.Coalesce {
		for i := range w.pending {
			if w.pending[i].dst == dst {
				w.pending[i].data = datagram
				return nil
			}
		}
	}
	w.pending = append(w.pending, outbound{dst: dst, data: datagram})
	return nil
}

func (w *Worker) run() {
	defer close(w.done)
	defer close(w.inbound)

	buf := make([]byte, protocol.MaxDatagramSize)

	for {
		w.flush()

		select {
		case <-w.closing:
			w.flush()
			if err := w.conn.Close(); err != nil {
				w.log.Warnf("Failed to close socket: %v", err)
			}
			w.log.Debug("Transport worker stopped")
			return
		default:
		}

		if err := w.conn.SetReadDeadline(time.Now().Add(w.cfg.PollInterval)); err != nil {
			w.log.Warnf("Failed to set read deadline: %v", err)
		}

		n, from, err := w.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				w.log.Warn("Socket closed underneath the worker")
				w.Close()
				continue
			}
			w.log.Debugf("Receive error: %v", err)
			continue
		}

		w.receive(netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), buf[:n])
	}
}

func (w *Worker) flush() {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	for _, out := range batch {
		op, _ := protocol.PeekOpcode(out.data)

		if _, err := w.conn.WriteToUDPAddrPort(out.data, out.dst); err != nil {
			w.log.WithField("dst", out.dst).Warnf("Failed to send %s: %v", op, err)
			w.cfg.Hook.DatagramDropped(DropSendFailed)
			continue
		}
		w.cfg.Hook.DatagramSent(out.dst, op, len(out.data))
	}
}

func (w *Worker) receive(from netip.AddrPort, data []byte) {
	raw := append([]byte(nil), data...)
	msg, err := w.codec.DecodeFromBytes(raw)

	in := Inbound{From: from, Msg: msg, Raw: raw, Err: err}

	var decErr *protocol.DecodeError
	if errors.As(err, &decErr) {
		w.cfg.Hook.DatagramDropped(DropReasonFor(decErr.Kind))
		if w.log.IsLevelEnabled(logrus.DebugLevel) {
			w.log.WithField("src", from).Debugf("Undecodable datagram (%s):\n%s", decErr.Kind, hex.Dump(raw))
		}
	} else {
		w.cfg.Hook.DatagramReceived(from, msg.Opcode(), len(raw))
	}

	select {
	case w.inbound <- in:
	case <-w.closing:
	}
}
