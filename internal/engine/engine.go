package engine

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wics-station/wics/internal/firmware"
	"github.com/wics-station/wics/internal/protocol"
	"github.com/wics-station/wics/internal/transport"
	"github.com/wics-station/wics/internal/upgrade"
)

type command struct {
	fn    func() error
	reply chan error
}

// Engine drives one WICS device. All protocol state lives in the control
// loop goroutine; the exported methods hand work to it and wait for the
// result.
type Engine struct {
	cfg      Config
	log      *logrus.Logger
	codec    *protocol.Codec
	observer Observer

	cmds   chan command
	fire   chan uint64
	events chan Event

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	// owned by loop
	worker   *transport.Worker
	retired  *transport.Worker
	inbound  <-chan transport.Inbound
	session  session
	transfer *upgrade.Transfer
	image    *firmware.Image
	timer    *retryTimer
	queue    []Event
}

func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if cfg.DevicePort <= 0 || cfg.DevicePort > 0xFFFF {
		return nil, fmt.Errorf("invalid device port %d", cfg.DevicePort)
	}

	e := &Engine{
		cfg:      cfg,
		log:      cfg.Logger,
		codec:    protocol.NewCodec(protocol.ToDevice),
		cmds:     make(chan command),
		fire:     make(chan uint64),
		events:   make(chan Event, cfg.EventBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		transfer: upgrade.NewTransfer(cfg.Policy),
	}
	e.observer, _ = cfg.Hook.(Observer)
	e.timer = newRetryTimer(e.fire, e.quit)

	go e.loop()
	return e, nil
}

// Events delivers engine events in emission order. The channel is closed
// after Shutdown; events not yet received by then are discarded.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) Policy() upgrade.Policy {
	return e.cfg.Policy
}

// Shutdown closes the connection and stops the control loop.
func (e *Engine) Shutdown() {
	e.quitOnce.Do(func() { close(e.quit) })
	<-e.done
}

// OpenConnection binds the local UDP port (0 picks a free one).
func (e *Engine) OpenConnection(port int) error {
	return e.do(func() error {
		if e.worker != nil {
			return ErrAlreadyOpen
		}
		e.awaitRetired()

		w, err := transport.Open(port, transport.Config{
			PollInterval: e.cfg.PollInterval,
			Coalesce:     e.cfg.Coalesce,
			Direction:    protocol.FromDevice,
			Logger:       e.log,
			Hook:         e.cfg.Hook,
		})
		if err != nil {
			e.log.Warnf("Failed to open connection on port %d: %v", port, err)
			e.emit(Connected{Port: 0})
			return err
		}

		e.worker = w
		e.inbound = w.Inbound()
		bound := int(w.LocalAddr().Port())
		e.log.Infof("Connection open on port %d", bound)
		e.emit(Connected{Port: bound})
		return nil
	})
}

// CloseConnection aborts any transfer, forgets the bound device and
// releases the socket in the background. It is safe in every state.
func (e *Engine) CloseConnection() {
	_ = e.do(func() error {
		e.closeConnection()
		return nil
	})
}

// LocalAddr returns the bound local address, if a connection is open.
func (e *Engine) LocalAddr() (netip.AddrPort, error) {
	var addr netip.AddrPort
	err := e.do(func() error {
		if e.worker == nil {
			return ErrNotConnected
		}
		addr = e.worker.LocalAddr()
		return nil
	})
	return addr, err
}

// Target returns the bound device address.
func (e *Engine) Target() (netip.Addr, bool) {
	var target netip.Addr
	_ = e.do(func() error {
		target = e.session.target
		return nil
	})
	return target, target.IsValid()
}

// RequestDiscovery sends DEVINFO_GET to addr, normally a broadcast
// address. Replies arrive as DeviceInfoEvent; waiting for them is up to
// the caller.
func (e *Engine) RequestDiscovery(addr netip.Addr) error {
	return e.do(func() error {
		if e.worker == nil {
			return ErrNotConnected
		}
		return e.send(addr, protocol.NewDeviceInfoRequest())
	})
}

func (e *Engine) RequestWifiRead() error {
	return e.do(func() error {
		if err := e.ready(); err != nil {
			return err
		}
		return e.send(e.session.target, protocol.NewWifiStationRequest())
	})
}

// RequestWifiWrite stores new station credentials on the device. Values
// are cut to 32 characters. The device does not confirm the write.
func (e *Engine) RequestWifiWrite(ssid, password string) error {
	return e.do(func() error {
		if err := e.ready(); err != nil {
			return err
		}
		return e.send(e.session.target, protocol.NewWifiStationSet(ssid, password))
	})
}

// BeginUpgrade opens the firmware image at path and starts sending it to
// module. A transfer already in progress is aborted first.
func (e *Engine) BeginUpgrade(module protocol.Module, path string) error {
	return e.do(func() error {
		if err := e.ready(); err != nil {
			return err
		}

		if e.transfer.Active() {
			e.log.Warn("Restarting upgrade, aborting the running transfer")
			e.apply(e.transfer.Abort())
		}

		img, err := firmware.Open(path)
		if err != nil {
			e.emit(FileOpened{Path: path, Size: 0})
			return err
		}
		e.emit(FileOpened{Path: img.Path(), Size: img.Size()})

		step, err := e.transfer.Begin(module, img)
		if err != nil {
			_ = img.Close()
			return err
		}
		e.image = img

		e.log.WithFields(logrus.Fields{
			"module": module,
			"size":   img.Size(),
			"blocks": e.transfer.TotalBlocks(),
		}).Info("Upgrade started")
		e.emit(UpgradeStarted{Module: module, TotalBlocks: e.transfer.TotalBlocks()})

		e.apply(step)
		return nil
	})
}

func (e *Engine) do(fn func() error) error {
	reply := make(chan error, 1)

	select {
	case e.cmds <- command{fn: fn, reply: reply}:
	case <-e.quit:
		return ErrStopped
	}

	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	defer close(e.events)

	for {
		var out chan<- Event
		var next Event
		if len(e.queue) > 0 {
			out = e.events
			next = e.queue[0]
		}

		select {
		case cmd := <-e.cmds:
			cmd.reply <- cmd.fn()

		case in, ok := <-e.inbound:
			if !ok {
				e.inbound = nil
				e.workerLost()
				continue
			}
			e.dispatch(in)

		case gen := <-e.fire:
			if !e.timer.expire(gen) {
				continue
			}
			step := e.transfer.HandleTimeout()
			if step.Kind == upgrade.StepSend {
				e.log.Warnf("No ack for block %d, resending (%d left)", step.Block, e.transfer.Retries()-1)
				if e.observer != nil {
					e.observer.BlockRetried(e.transfer.Module(), step.Block)
				}
			}
			e.apply(step)

		case out <- next:
			e.queue[0] = nil
			e.queue = e.queue[1:]

		case <-e.quit:
			e.closeConnection()
			e.awaitRetired()
			return
		}
	}
}

func (e *Engine) ready() error {
	if e.worker == nil {
		return ErrNotConnected
	}
	if !e.session.bound() {
		return ErrNotBound
	}
	return nil
}

func (e *Engine) closeConnection() {
	if e.transfer.Active() {
		e.apply(e.transfer.Abort())
	}
	e.timer.stop()
	e.session.clear()

	if e.worker != nil {
		e.worker.Close()
		e.retired = e.worker
		e.worker = nil
		e.inbound = nil
		e.log.Info("Connection closed")
	}
}

// workerLost handles a worker that stopped without being asked to.
func (e *Engine) workerLost() {
	if e.worker == nil {
		return
	}
	e.log.Warn("Transport worker stopped, connection lost")
	e.closeConnection()
	e.emit(Connected{Port: 0})
}

// awaitRetired waits for the previous socket to be released so that its
// port can be bound again.
func (e *Engine) awaitRetired() {
	if e.retired == nil {
		return
	}
	select {
	case <-e.retired.Done():
	case <-time.After(max(4*e.cfg.PollInterval, 100*time.Millisecond)):
		e.log.Warn("Previous socket not released yet")
	}
	e.retired = nil
}

func (e *Engine) send(addr netip.Addr, msg protocol.Message) error {
	data, err := e.codec.EncodeToBytes(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Opcode(), err)
	}
	return e.enqueue(addr, data)
}

func (e *Engine) enqueue(addr netip.Addr, data []byte) error {
	if e.worker == nil {
		return ErrNotConnected
	}
	dst := netip.AddrPortFrom(addr, uint16(e.cfg.DevicePort))
	if err := e.worker.Enqueue(dst, data); err != nil {
		return fmt.Errorf("enqueue to %s: %w", dst, err)
	}
	return nil
}

// apply carries out a transfer step: transmissions, timer changes and the
// resulting events.
func (e *Engine) apply(step upgrade.Step) {
	if step.Acked {
		e.emit(BlockAck{Block: step.Block, Result: step.Result})
	}

	switch step.Kind {
	case upgrade.StepSend:
		if err := e.enqueue(e.session.target, step.Datagram); err != nil {
			e.log.Warnf("Failed to queue block %d: %v", e.transfer.Block(), err)
		}
		e.timer.arm(step.Timeout)

	case upgrade.StepMismatch:
		e.log.Infof("Ack for block %d while waiting for block %d", step.Block, e.transfer.Block())
		e.emit(BlockAck{Block: step.Block, Result: step.Result, Stale: true})

	case upgrade.StepComplete:
		e.log.Infof("Upgrade complete after block %d", step.Block)
		e.finish(OutcomeComplete, step)

	case upgrade.StepFailed:
		e.log.Warnf("Upgrade failed at block %d: %v", step.Block, step.Err)
		e.finish(outcomeOf(step.Err), step)

	case upgrade.StepAborted:
		e.log.Warnf("Upgrade aborted at block %d", step.Block)
		e.finish(OutcomeAborted, step)

	case upgrade.StepNone:
		e.log.Debugf("Ignoring upgrade input for block %d in state %s", step.Block, e.transfer.State())
	}
}

func (e *Engine) finish(outcome Outcome, step upgrade.Step) {
	e.timer.stop()

	if e.image != nil {
		if err := e.image.Close(); err != nil {
			e.log.Warnf("Failed to close firmware image: %v", err)
		}
		e.image = nil
	}

	module := e.transfer.Module()
	if e.observer != nil {
		e.observer.UpgradeFinished(module, outcome)
	}
	e.emit(UpgradeFinished{Module: module, Outcome: outcome, Block: step.Block, Err: step.Err})
}

func outcomeOf(err error) Outcome {
	var devErr *upgrade.DeviceError
	switch {
	case errors.As(err, &devErr):
		return OutcomeDeviceError
	case errors.Is(err, upgrade.ErrNotResponding):
		return OutcomeNotResponding
	default:
		return OutcomeLocalError
	}
}

func (e *Engine) emit(ev Event) {
	e.queue = append(e.queue, ev)
}
