package upgrade

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/wics-station/wics/internal/protocol"
)

func testPolicy() Policy {
	return Policy{MaxRetries: 3, DatagramTimeout: time.Second, UpgradeTimeout: 10 * time.Second}
}

func image(size int) *bytes.Reader {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return bytes.NewReader(data)
}

func decode(t *testing.T, data []byte) protocol.Message {
	t.Helper()

	msg, err := protocol.NewCodec(protocol.ToDevice).DecodeFromBytes(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return msg
}

func ack(block uint16) protocol.UpgradeState {
	return protocol.UpgradeState{Block: block, Result: protocol.ResultOK}
}

func begin(t *testing.T, tr *Transfer, module protocol.Module, size int) Step {
	t.Helper()

	step, err := tr.Begin(module, image(size))
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	return step
}

func TestBeginSendsInit(t *testing.T) {
	tr := NewTransfer(testPolicy())
	step := begin(t, tr, protocol.ModuleWLAN, 2500)

	if step.Kind != StepSend {
		t.Fatalf("expected SEND, got %s", step.Kind)
	}
	if step.Timeout != 10*time.Second {
		t.Errorf("expected init timeout 10s, got %s", step.Timeout)
	}
	if tr.State() != AwaitingInitAck {
		t.Errorf("expected AWAITING_INIT_ACK, got %s", tr.State())
	}
	if tr.TotalBlocks() != 3 {
		t.Errorf("expected 3 blocks, got %d", tr.TotalBlocks())
	}

	start, ok := decode(t, step.Datagram).(*protocol.UpgradeInit)
	if !ok {
		t.Fatalf("expected *UpgradeInit")
	}
	if start.Module != protocol.ModuleWLAN || start.FirmwareSize != 2500 {
		t.Errorf("unexpected init %+v", start)
	}
}

func TestBeginRejects(t *testing.T) {
	tr := NewTransfer(testPolicy())

	if _, err := tr.Begin(protocol.Module(0x05), image(10)); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}

	// 256-byte pages and 65535 blocks cap the DCC image just below 16 MiB
	huge := bytes.NewReader(make([]byte, 256*65535))
	if _, err := tr.Begin(protocol.ModuleDCC, huge); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("expected ErrImageTooLarge, got %v", err)
	}
	if tr.State() != Idle {
		t.Errorf("expected IDLE after rejected begin, got %s", tr.State())
	}

	begin(t, tr, protocol.ModuleDCC, 10)
	if _, err := tr.Begin(protocol.ModuleDCC, image(10)); !errors.Is(err, ErrActive) {
		t.Errorf("expected ErrActive, got %v", err)
	}
}

// Scenario: 2048 bytes in 1024-byte pages, acks 0, 1, 2.
func TestTransferCompletesOnWholePages(t *testing.T) {
	src := image(2048)
	tr := NewTransfer(testPolicy())
	if _, err := tr.Begin(protocol.ModuleWLAN, src); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if tr.TotalBlocks() != 3 {
		t.Fatalf("expected 3 blocks, got %d", tr.TotalBlocks())
	}

	want := make([]byte, 2048)
	if _, err := src.ReadAt(want, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}

	for block := uint16(0); block < 2; block++ {
		step := tr.HandleAck(ack(block))
		if step.Kind != StepSend || !step.Acked {
			t.Fatalf("ack %d: expected acked SEND, got %+v", block, step)
		}
		if step.Timeout != 20*time.Second {
			t.Errorf("ack %d: expected block timeout 20s, got %s", block, step.Timeout)
		}

		data, ok := decode(t, step.Datagram).(*protocol.UpgradeData)
		if !ok {
			t.Fatalf("expected *UpgradeData")
		}
		if data.Block != block+1 {
			t.Errorf("expected block %d, got %d", block+1, data.Block)
		}
		if !bytes.Equal(data.Payload, want[int(block)*1024:int(block+1)*1024]) {
			t.Errorf("block %d payload mismatch", data.Block)
		}
	}

	step := tr.HandleAck(ack(2))
	if step.Kind != StepComplete {
		t.Fatalf("expected COMPLETE, got %s", step.Kind)
	}
	if tr.State() != Complete {
		t.Errorf("expected COMPLETE state, got %s", tr.State())
	}
	if got := tr.HandleAck(ack(3)); got.Kind != StepNone {
		t.Errorf("expected late ack to be ignored, got %s", got.Kind)
	}
}

func TestTransferShortLastPage(t *testing.T) {
	tr := NewTransfer(testPolicy())
	begin(t, tr, protocol.ModuleDCC, 600)

	sizes := []int{256, 256, 88}
	for i, size := range sizes {
		step := tr.HandleAck(ack(uint16(i)))
		data, ok := decode(t, step.Datagram).(*protocol.UpgradeData)
		if !ok {
			t.Fatalf("expected *UpgradeData")
		}
		if len(data.Payload) != size {
			t.Errorf("block %d: expected %d bytes, got %d", data.Block, size, len(data.Payload))
		}
		if data.Module != protocol.ModuleDCC {
			t.Errorf("expected DCC module flag, got %s", data.Module)
		}
	}

	if step := tr.HandleAck(ack(3)); step.Kind != StepComplete {
		t.Errorf("expected COMPLETE after block 3, got %s", step.Kind)
	}
}

func TestTransferStopAndWait(t *testing.T) {
	tr := NewTransfer(testPolicy())
	begin(t, tr, protocol.ModuleWLAN, 4096)

	step := tr.HandleAck(ack(0))
	if step.Kind != StepSend {
		t.Fatalf("expected SEND, got %s", step.Kind)
	}

	// a stale or early ack never releases another block
	for _, b := range []uint16{0, 2, 5} {
		got := tr.HandleAck(ack(b))
		if got.Kind != StepMismatch {
			t.Errorf("ack %d: expected MISMATCH, got %s", b, got.Kind)
		}
		if got.Datagram != nil {
			t.Errorf("ack %d: expected no datagram", b)
		}
	}
	if tr.Block() != 1 || tr.State() != AwaitingBlockAck {
		t.Errorf("expected to still wait for block 1, got block %d in %s", tr.Block(), tr.State())
	}
}

// Scenario: the ack for block 1 never arrives.
func TestTransferRetryBound(t *testing.T) {
	tr := NewTransfer(testPolicy())
	begin(t, tr, protocol.ModuleWLAN, 2048)

	first := tr.HandleAck(ack(0))
	transmissions := [][]byte{first.Datagram}

	for {
		step := tr.HandleTimeout()
		if step.Kind == StepFailed {
			if !errors.Is(step.Err, ErrNotResponding) {
				t.Errorf("expected ErrNotResponding, got %v", step.Err)
			}
			if step.Block != 1 {
				t.Errorf("expected failure at block 1, got %d", step.Block)
			}
			break
		}
		if step.Kind != StepSend || !step.Resend {
			t.Fatalf("expected resend, got %+v", step)
		}
		if step.Timeout != 3*time.Second {
			t.Errorf("expected resend timeout 3s, got %s", step.Timeout)
		}
		transmissions = append(transmissions, step.Datagram)
	}

	if len(transmissions) != 3 {
		t.Fatalf("expected 3 transmissions of block 1, got %d", len(transmissions))
	}
	for i, data := range transmissions[1:] {
		if !bytes.Equal(data, transmissions[0]) {
			t.Errorf("resend %d differs from the first transmission", i+1)
		}
	}
	if tr.State() != Failed || !errors.Is(tr.Err(), ErrNotResponding) {
		t.Errorf("expected FAILED with ErrNotResponding, got %s / %v", tr.State(), tr.Err())
	}
	if got := tr.HandleTimeout(); got.Kind != StepNone {
		t.Errorf("expected timeout after failure to be ignored, got %s", got.Kind)
	}
}

func TestTransferInitResendUsesInitTimeout(t *testing.T) {
	tr := NewTransfer(testPolicy())
	start := begin(t, tr, protocol.ModuleWLAN, 100)

	step := tr.HandleTimeout()
	if step.Kind != StepSend || !bytes.Equal(step.Datagram, start.Datagram) {
		t.Fatalf("expected UPGRADE_START resend, got %+v", step)
	}
	if step.Timeout != 10*time.Second {
		t.Errorf("expected init timeout on resend, got %s", step.Timeout)
	}
}

func TestTransferRetriesResetAfterAck(t *testing.T) {
	tr := NewTransfer(testPolicy())
	begin(t, tr, protocol.ModuleWLAN, 3000)

	tr.HandleTimeout()
	tr.HandleTimeout()
	if tr.Retries() != 1 {
		t.Fatalf("expected 1 retry left, got %d", tr.Retries())
	}

	tr.HandleAck(ack(0))
	if tr.Retries() != 3 {
		t.Errorf("expected retries reset to 3, got %d", tr.Retries())
	}
}

func TestTransferSingleRetryMeansNoResend(t *testing.T) {
	policy := testPolicy()
	policy.MaxRetries = 1
	tr := NewTransfer(policy)
	begin(t, tr, protocol.ModuleDCC, 10)

	if step := tr.HandleTimeout(); step.Kind != StepFailed {
		t.Errorf("expected FAILED on first timeout, got %s", step.Kind)
	}
}

func TestTransferDeviceError(t *testing.T) {
	tr := NewTransfer(testPolicy())
	begin(t, tr, protocol.ModuleWLAN, 4096)
	tr.HandleAck(ack(0))

	step := tr.HandleAck(protocol.UpgradeState{Block: 1, Result: 7})
	if step.Kind != StepFailed || !step.Acked {
		t.Fatalf("expected acked FAILED, got %+v", step)
	}

	var devErr *DeviceError
	if !errors.As(step.Err, &devErr) {
		t.Fatalf("expected *DeviceError, got %v", step.Err)
	}
	if devErr.Block != 1 || devErr.Result != 7 {
		t.Errorf("unexpected device error %+v", devErr)
	}
	if got := tr.HandleTimeout(); got.Kind != StepNone {
		t.Errorf("expected no retry after a device error, got %s", got.Kind)
	}
}

func TestTransferAbort(t *testing.T) {
	tr := NewTransfer(testPolicy())
	if step := tr.Abort(); step.Kind != StepNone {
		t.Errorf("expected abort of idle transfer to be a no-op, got %s", step.Kind)
	}

	begin(t, tr, protocol.ModuleWLAN, 4096)
	tr.HandleAck(ack(0))

	step := tr.Abort()
	if step.Kind != StepAborted || step.Block != 1 {
		t.Errorf("expected ABORTED at block 1, got %+v", step)
	}
	if tr.State() != Aborted {
		t.Errorf("expected ABORTED state, got %s", tr.State())
	}

	// a new transfer can start once the old one is gone
	begin(t, tr, protocol.ModuleDCC, 10)
	if tr.Block() != 0 {
		t.Errorf("expected block counter reset, got %d", tr.Block())
	}
}

func TestEmptyImageSendsOneEmptyBlock(t *testing.T) {
	tr := NewTransfer(testPolicy())
	begin(t, tr, protocol.ModuleWLAN, 0)

	step := tr.HandleAck(ack(0))
	data, ok := decode(t, step.Datagram).(*protocol.UpgradeData)
	if !ok {
		t.Fatalf("expected *UpgradeData")
	}
	if data.Block != 1 || len(data.Payload) != 0 {
		t.Errorf("expected empty block 1, got block %d with %d bytes", data.Block, len(data.Payload))
	}

	if step := tr.HandleAck(ack(1)); step.Kind != StepComplete {
		t.Errorf("expected COMPLETE, got %s", step.Kind)
	}
}

func TestPolicyDerivedTimeouts(t *testing.T) {
	p := DefaultPolicy()

	if p.InitTimeout() != 30*time.Second {
		t.Errorf("InitTimeout = %s", p.InitTimeout())
	}
	if p.BlockTimeout() != time.Minute {
		t.Errorf("BlockTimeout = %s", p.BlockTimeout())
	}
	if p.ResendTimeout() != 9*time.Second {
		t.Errorf("ResendTimeout = %s", p.ResendTimeout())
	}
	if p.DiscoveryTimeout() != 6*time.Second {
		t.Errorf("DiscoveryTimeout = %s", p.DiscoveryTimeout())
	}
	if err := p.Validate(); err != nil {
		t.Errorf("default policy invalid: %v", err)
	}

	p.MaxRetries = 0
	if err := p.Validate(); err == nil {
		t.Error("expected error for zero retries")
	}
}
