package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/wics-station/wics/internal/protocol"
)

type countingHook struct {
	mu       sync.Mutex
	sent     int
	received int
	dropped  map[DropReason]int
}

func (h *countingHook) DatagramSent(netip.AddrPort, protocol.Opcode, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent++
}

func (h *countingHook) DatagramReceived(netip.AddrPort, protocol.Opcode, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received++
}

func (h *countingHook) DatagramDropped(reason DropReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped == nil {
		h.dropped = make(map[DropReason]int)
	}
	h.dropped[reason]++
}

func (h *countingHook) droppedFor(reason DropReason) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped[reason]
}

func openWorker(t *testing.T, cfg Config) *Worker {
	t.Helper()

	w, err := Open(0, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		<-w.Done()
	})
	return w
}

func loopback(w *Worker) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), w.LocalAddr().Port())
}

func receive(t *testing.T, ctx context.Context, w *Worker) Inbound {
	t.Helper()

	select {
	case in, ok := <-w.Inbound():
		if !ok {
			t.Fatal("Inbound channel closed")
		}
		return in
	case <-ctx.Done():
		t.Fatal("Timeout waiting for datagram")
	}
	return Inbound{}
}

func TestWorkerOpenAndClose(t *testing.T) {
	w, err := Open(0, DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if w.LocalAddr().Port() == 0 {
		t.Error("Expected a bound port")
	}

	w.Close()
	w.Close()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not release the socket")
	}

	if _, ok := <-w.Inbound(); ok {
		t.Error("Expected inbound channel to be closed")
	}
	if err := w.Enqueue(loopback(w), []byte{0}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
}

func TestWorkerStopsWhenSocketCloses(t *testing.T) {
	w, err := Open(0, DefaultConfig())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	_ = w.conn.Close()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Worker kept running on a closed socket")
	}
	if _, ok := <-w.Inbound(); ok {
		t.Error("Expected inbound channel to be closed")
	}
}

func TestWorkerBindConflict(t *testing.T) {
	w := openWorker(t, DefaultConfig())

	_, err := Open(int(w.LocalAddr().Port()), DefaultConfig())
	if err == nil {
		t.Fatal("Expected bind failure on a port in use")
	}
}

func TestWorkerSendReceive(t *testing.T) {
	deviceCfg := DefaultConfig()
	deviceCfg.Direction = protocol.ToDevice
	device := openWorker(t, deviceCfg)

	hook := &countingHook{}
	clientCfg := DefaultConfig()
	clientCfg.Hook = hook
	client := openWorker(t, clientCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	codec := protocol.NewCodec(protocol.ToDevice)
	req, err := codec.EncodeToBytes(protocol.NewDeviceInfoRequest())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := client.Enqueue(loopback(device), req); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	in := receive(t, ctx, device)
	if in.Err != nil {
		t.Fatalf("Unexpected decode error: %v", in.Err)
	}
	if msg, ok := in.Msg.(*protocol.Generic); !ok || msg.Op != protocol.OpDeviceInfoGet {
		t.Fatalf("Expected DEVINFO_GET, got %#v", in.Msg)
	}
	if in.From.Port() != client.LocalAddr().Port() {
		t.Errorf("Expected sender port %d, got %d", client.LocalAddr().Port(), in.From.Port())
	}

	reply, err := codec.EncodeToBytes(&protocol.WifiStationSet{SSID: "lab", Password: "secret"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := device.Enqueue(in.From, reply); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	back := receive(t, ctx, client)
	report, ok := back.Msg.(*protocol.WifiStationReport)
	if !ok {
		t.Fatalf("Expected *WifiStationReport, got %T", back.Msg)
	}
	if report.SSID != "lab" || report.Password != "secret" {
		t.Errorf("Unexpected report %+v", report)
	}

	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.sent != 1 || hook.received != 1 {
		t.Errorf("Expected 1 sent and 1 received, got %d and %d", hook.sent, hook.received)
	}
}

func TestWorkerOrderWithoutCoalescing(t *testing.T) {
	sink := openWorker(t, DefaultConfig())
	source := openWorker(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	codec := protocol.NewCodec(protocol.FromDevice)
	for block := uint16(1); block <= 5; block++ {
		data, err := codec.EncodeToBytes(&protocol.UpgradeState{Block: block})
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if err := source.Enqueue(loopback(sink), data); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	for want := uint16(1); want <= 5; want++ {
		in := receive(t, ctx, sink)
		state, ok := in.Msg.(*protocol.UpgradeState)
		if !ok {
			t.Fatalf("Expected *UpgradeState, got %T", in.Msg)
		}
		if state.Block != want {
			t.Errorf("Expected block %d, got %d", want, state.Block)
		}
	}
}

func TestWorkerCoalesce(t *testing.T) {
	w, err := Open(0, Config{PollInterval: time.Hour, Coalesce: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() {
		w.Close()
	}()

	dst := netip.MustParseAddrPort("127.0.0.1:9")
	other := netip.MustParseAddrPort("127.0.0.1:10")

	_ = w.Enqueue(dst, []byte{1})
	_ = w.Enqueue(other, []byte{2})
	_ = w.Enqueue(dst, []byte{3})

	w.mu.Lock()
	defer w.mu.Unlock()

	// the run loop may have flushed the first datagram already
	for _, p := range w.pending {
		if p.dst == dst && p.data[0] != 3 {
			t.Errorf("Expected latest datagram for %s, got %v", dst, p.data)
		}
	}
	if len(w.pending) > 2 {
		t.Errorf("Expected at most 2 pending datagrams, got %d", len(w.pending))
	}
}

func TestWorkerForwardsDecodeErrors(t *testing.T) {
	hook := &countingHook{}
	cfg := DefaultConfig()
	cfg.Hook = hook
	w := openWorker(t, cfg)

	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(loopback(w)))
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte{0x08, 0x00, 0x39, 0x00, 0x49, 0x00, 0x00, 0x00}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in := receive(t, ctx, w)
	if !errors.Is(in.Err, protocol.ErrMalformedHeader) {
		t.Errorf("Expected ErrMalformedHeader, got %v", in.Err)
	}
	if in.Msg != nil {
		t.Errorf("Expected no message, got %T", in.Msg)
	}
	if len(in.Raw) != 8 {
		t.Errorf("Expected raw datagram of 8 bytes, got %d", len(in.Raw))
	}
	if got := hook.droppedFor(DropMalformed); got != 1 {
		t.Errorf("Expected 1 malformed drop, got %d", got)
	}
}

func TestWorkerFlushesOnClose(t *testing.T) {
	sink := openWorker(t, DefaultConfig())

	source, err := Open(0, Config{PollInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	data, err := protocol.NewCodec(protocol.FromDevice).EncodeToBytes(&protocol.UpgradeState{Block: 9})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := source.Enqueue(loopback(sink), data); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	source.Close()
	<-source.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	in := receive(t, ctx, sink)
	if state, ok := in.Msg.(*protocol.UpgradeState); !ok || state.Block != 9 {
		t.Errorf("Expected flushed UPGRADE block 9, got %#v", in.Msg)
	}
}

func TestBroadcastOf(t *testing.T) {
	tests := []struct {
		cidr string
		want string
		ok   bool
	}{
		{"192.168.1.17/24", "192.168.1.255", true},
		{"10.20.30.40/16", "10.20.255.255", true},
		{"172.16.5.4/30", "172.16.5.7", true},
		{"127.0.0.1/8", "", false},
		{"fe80::1/64", "", false},
	}

	for _, tt := range tests {
		ip, ipnet, err := net.ParseCIDR(tt.cidr)
		if err != nil {
			t.Fatalf("ParseCIDR(%s) failed: %v", tt.cidr, err)
		}
		ipnet.IP = ip

		got, ok := broadcastOf(ipnet)
		if ok != tt.ok {
			t.Errorf("%s: expected ok=%v, got %v", tt.cidr, tt.ok, ok)
			continue
		}
		if ok && got.String() != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.cidr, tt.want, got)
		}
	}
}

func TestBroadcastAddrIsIPv4(t *testing.T) {
	if addr := BroadcastAddr(); !addr.Is4() {
		t.Errorf("Expected an IPv4 broadcast address, got %s", addr)
	}
}
