package upgrade

import (
	"fmt"
	"math"
	"time"

	"github.com/wics-station/wics/internal/firmware"
	"github.com/wics-station/wics/internal/protocol"
)

type State int

const (
	Idle State = iota
	Initiating
	AwaitingInitAck
	SendingBlock
	AwaitingBlockAck
	Complete
	Failed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Initiating:
		return "INITIATING"
	case AwaitingInitAck:
		return "AWAITING_INIT_ACK"
	case SendingBlock:
		return "SENDING_BLOCK"
	case AwaitingBlockAck:
		return "AWAITING_BLOCK_ACK"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further datagrams belong to the transfer.
func (s State) Terminal() bool {
	return s == Complete || s == Failed || s == Aborted
}

type StepKind int

const (
	// StepNone: the input did not concern an active transfer.
	StepNone StepKind = iota
	// StepSend: transmit Datagram and (re)arm the timer with Timeout.
	StepSend
	// StepMismatch: an acknowledgement for another block; the timer keeps running.
	StepMismatch
	StepComplete
	StepFailed
	StepAborted
)

func (k StepKind) String() string {
	switch k {
	case StepNone:
		return "NONE"
	case StepSend:
		return "SEND"
	case StepMismatch:
		return "MISMATCH"
	case StepComplete:
		return "COMPLETE"
	case StepFailed:
		return "FAILED"
	case StepAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Step tells the caller what to do after feeding the transfer an input.
// Acked is set when the input was the acknowledgement the transfer was
// waiting for; Block and Result then echo it.
type Step struct {
	Kind     StepKind
	Datagram []byte
	Timeout  time.Duration
	Resend   bool
	Acked    bool
	Block    uint16
	Result   uint16
	Err      error
}

// Transfer is the stop-and-wait upgrade state machine. It does no I/O on
// the network and owns no timers: every method returns the Step the
// caller has to carry out. It is not safe for concurrent use.
type Transfer struct {
	policy Policy
	codec  *protocol.Codec

	state   State
	module  protocol.Module
	src     firmware.Source
	page    int
	total   int
	block   uint16
	retries int
	last    []byte
	err     error
}

func NewTransfer(policy Policy) *Transfer {
	return &Transfer{
		policy: policy,
		codec:  protocol.NewCodec(protocol.ToDevice),
	}
}

func (t *Transfer) State() State            { return t.state }
func (t *Transfer) Module() protocol.Module { return t.module }
func (t *Transfer) Block() uint16           { return t.block }
func (t *Transfer) TotalBlocks() int        { return t.total }
func (t *Transfer) Retries() int            { return t.retries }
func (t *Transfer) Err() error              { return t.err }

// Active reports whether the transfer is waiting for an acknowledgement.
func (t *Transfer) Active() bool {
	return t.state == AwaitingInitAck || t.state == AwaitingBlockAck
}

// Begin starts a transfer of src to module and returns the UPGRADE_START
// datagram to send.
func (t *Transfer) Begin(module protocol.Module, src firmware.Source) (Step, error) {
	if t.Active() {
		return Step{}, ErrActive
	}

	page := module.PageSize()
	if page == 0 {
		return Step{}, fmt.Errorf("%w: 0x%02X", ErrUnknownModule, uint16(module))
	}

	size := src.Size()
	total := firmware.TotalBlocks(size, page)
	if size > math.MaxUint32 || total > math.MaxUint16 {
		return Step{}, fmt.Errorf("%w: %d bytes in %d blocks", ErrImageTooLarge, size, total)
	}

	t.state = Initiating
	t.module = module
	t.src = src
	t.page = page
	t.total = total
	t.block = 0
	t.err = nil

	data, err := t.codec.EncodeToBytes(&protocol.UpgradeInit{Module: module, FirmwareSize: uint32(size)})
	if err != nil {
		t.state = Idle
		return Step{}, fmt.Errorf("encode upgrade init: %w", err)
	}

	t.last = data
	t.retries = t.policy.MaxRetries
	t.state = AwaitingInitAck

	return Step{Kind: StepSend, Datagram: data, Timeout: t.policy.InitTimeout()}, nil
}

// HandleAck feeds an UPGRADE state report from the bound device.
func (t *Transfer) HandleAck(ack protocol.UpgradeState) Step {
	if !t.Active() {
		return Step{Kind: StepNone, Block: ack.Block, Result: ack.Result}
	}
	if ack.Block != t.block {
		return Step{Kind: StepMismatch, Block: ack.Block, Result: ack.Result}
	}

	if !ack.OK() {
		return t.fail(&DeviceError{Block: ack.Block, Result: ack.Result}, true, ack)
	}

	if t.finished() {
		t.state = Complete
		t.release()
		return Step{Kind: StepComplete, Acked: true, Block: ack.Block, Result: ack.Result}
	}

	t.state = SendingBlock
	t.block++

	payload, err := firmware.ReadPage(t.src, int(t.block), t.page)
	if err != nil {
		return t.fail(err, true, ack)
	}

	data, err := t.codec.EncodeToBytes(&protocol.UpgradeData{Module: t.module, Block: t.block, Payload: payload})
	if err != nil {
		return t.fail(fmt.Errorf("encode block %d: %w", t.block, err), true, ack)
	}

	t.last = data
	t.retries = t.policy.MaxRetries
	t.state = AwaitingBlockAck

	return Step{
		Kind:     StepSend,
		Datagram: data,
		Timeout:  t.policy.BlockTimeout(),
		Acked:    true,
		Block:    ack.Block,
		Result:   ack.Result,
	}
}

// HandleTimeout resends the outstanding datagram while retries remain.
func (t *Transfer) HandleTimeout() Step {
	if !t.Active() {
		return Step{Kind: StepNone}
	}

	t.retries--
	if t.retries <= 0 {
		return t.fail(ErrNotResponding, false, protocol.UpgradeState{Block: t.block})
	}

	timeout := t.policy.ResendTimeout()
	if t.state == AwaitingInitAck {
		timeout = t.policy.InitTimeout()
	}

	return Step{Kind: StepSend, Datagram: t.last, Timeout: timeout, Resend: true, Block: t.block}
}

// Abort ends an active transfer.
func (t *Transfer) Abort() Step {
	if !t.Active() {
		return Step{Kind: StepNone}
	}
	t.state = Aborted
	t.release()
	return Step{Kind: StepAborted, Block: t.block}
}

// finished reports whether the acknowledged block closes the transfer:
// either the block count is reached or every image byte has been
// acknowledged, so an image that is a whole number of pages needs no
// empty trailing block.
func (t *Transfer) finished() bool {
	if int(t.block) == t.total {
		return true
	}
	return t.block >= 1 && int64(t.block)*int64(t.page) >= t.src.Size()
}

func (t *Transfer) fail(err error, acked bool, ack protocol.UpgradeState) Step {
	t.state = Failed
	t.err = err
	t.release()
	return Step{Kind: StepFailed, Acked: acked, Block: ack.Block, Result: ack.Result, Err: err}
}

func (t *Transfer) release() {
	t.src = nil
	t.last = nil
}
