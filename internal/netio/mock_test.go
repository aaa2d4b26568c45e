package netio_test

import (
	"errors"
	"net/netip"
	"sync"
	"testing"

	"github.com/wsnsim/leach/internal/netio"
)

// -------------------------------------------------------------------------
// MockPacketConn — Test double for PacketConn
// -------------------------------------------------------------------------

// MockPacketConn implements netio.PacketConn for testing without real sockets.
// It provides injectable read/write behavior and records method calls.
type MockPacketConn struct {
	mu        sync.Mutex
	localAddr netip.AddrPort
	closed    bool

	// ReadFunc is called by ReadPacket. Set this to control read behavior.
	ReadFunc func(buf []byte) (int, netio.PacketMeta, error)

	// WriteFunc is called by WritePacket. Set this to control write behavior.
	WriteFunc func(buf []byte, dst netip.Addr) error

	// BroadcastFunc is called by WriteBroadcast. Set this to control
	// broadcast behavior.
	BroadcastFunc func(buf []byte) error

	// Written records all packets sent via WritePacket.
	Written []writtenPacket

	// Broadcasts records all payloads sent via WriteBroadcast.
	Broadcasts [][]byte
}

// writtenPacket records a single WritePacket call.
type writtenPacket struct {
	Data []byte
	Dst  netip.Addr
}

// NewMockPacketConn creates a MockPacketConn with the given local address.
func NewMockPacketConn(addr netip.AddrPort) *MockPacketConn {
	return &MockPacketConn{
		localAddr: addr,
	}
}

// ReadPacket implements PacketConn.ReadPacket using the injectable ReadFunc.
func (m *MockPacketConn) ReadPacket(buf []byte) (int, netio.PacketMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, netio.PacketMeta{}, netio.ErrSocketClosed
	}
	if m.ReadFunc != nil {
		return m.ReadFunc(buf)
	}
	return 0, netio.PacketMeta{}, errors.New("mock: ReadFunc not set")
}

// WritePacket implements PacketConn.WritePacket.
func (m *MockPacketConn) WritePacket(buf []byte, dst netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return netio.ErrSocketClosed
	}

	// Copy the buffer so the test can inspect it after the caller reuses it.
	data := make([]byte, len(buf))
	copy(data, buf)
	m.Written = append(m.Written, writtenPacket{Data: data, Dst: dst})

	if m.WriteFunc != nil {
		return m.WriteFunc(buf, dst)
	}
	return nil
}

// WriteBroadcast implements PacketConn.WriteBroadcast.
func (m *MockPacketConn) WriteBroadcast(buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return netio.ErrSocketClosed
	}

	data := make([]byte, len(buf))
	copy(data, buf)
	m.Broadcasts = append(m.Broadcasts, data)

	if m.BroadcastFunc != nil {
		return m.BroadcastFunc(buf)
	}
	return nil
}

// Close implements PacketConn.Close.
func (m *MockPacketConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// LocalAddr implements PacketConn.LocalAddr.
func (m *MockPacketConn) LocalAddr() netip.AddrPort {
	return m.localAddr
}

// -------------------------------------------------------------------------
// Tests — Source Port Allocator
// -------------------------------------------------------------------------

// TestSourcePortAllocatorBasic verifies that a single allocation returns a
// port in the ephemeral range (49152-65535) and that it can be released
// successfully.
func TestSourcePortAllocatorBasic(t *testing.T) {
	t.Parallel()

	alloc := netio.NewSourcePortAllocator()

	port, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("allocate: unexpected error: %v", err)
	}

	if port < 49152 {
		t.Errorf("port %d below ephemeral minimum 49152", port)
	}

	// Release should not panic.
	alloc.Release(port)

	// Double release should be a no-op.
	alloc.Release(port)
}

// TestSourcePortAllocatorUnique verifies that multiple consecutive
// allocations return unique ports.
func TestSourcePortAllocatorUnique(t *testing.T) {
	t.Parallel()

	alloc := netio.NewSourcePortAllocator()
	seen := make(map[uint16]struct{}, 100)

	for i := range 100 {
		port, err := alloc.Allocate()
		if err != nil {
			t.Fatalf("allocation %d: unexpected error: %v", i, err)
		}
		if _, exists := seen[port]; exists {
			t.Fatalf("allocation %d: duplicate port %d", i, port)
		}
		seen[port] = struct{}{}
	}

	if len(seen) != 100 {
		t.Errorf("expected 100 unique ports, got %d", len(seen))
	}
}

// TestSourcePortAllocatorRangeValidation verifies all allocated ports are
// within the ephemeral range.
func TestSourcePortAllocatorRangeValidation(t *testing.T) {
	t.Parallel()

	alloc := netio.NewSourcePortAllocator()

	for i := range 200 {
		port, err := alloc.Allocate()
		if err != nil {
			t.Fatalf("allocation %d: unexpected error: %v", i, err)
		}
		if port < 49152 {
			t.Errorf("allocation %d: port %d below minimum 49152", i, port)
		}
	}
}

// TestSourcePortAllocatorReleaseAndReuse verifies that released ports can
// be reallocated.
func TestSourcePortAllocatorReleaseAndReuse(t *testing.T) {
	t.Parallel()

	alloc := netio.NewSourcePortAllocator()

	port1, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("first allocate: %v", err)
	}

	alloc.Release(port1)

	for i := range 50 {
		p, allocErr := alloc.Allocate()
		if allocErr != nil {
			t.Fatalf("allocation %d after release: %v", i, allocErr)
		}
		alloc.Release(p)
	}
}

// TestSourcePortAllocatorConcurrency verifies thread-safety of the
// allocator under concurrent access. Run with -race to detect races.
func TestSourcePortAllocatorConcurrency(t *testing.T) {
	t.Parallel()

	alloc := netio.NewSourcePortAllocator()

	const (
		numGoroutines = 10
		numPerRoutine = 50
	)

	results := make([][]uint16, numGoroutines)

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for g := range numGoroutines {
		results[g] = make([]uint16, 0, numPerRoutine)
		go func(idx int) {
			defer wg.Done()
			for range numPerRoutine {
				port, err := alloc.Allocate()
				if err != nil {
					t.Errorf("goroutine %d: allocate: %v", idx, err)
					return
				}
				results[idx] = append(results[idx], port)
			}
		}(g)
	}

	wg.Wait()

	seen := make(map[uint16]struct{}, numGoroutines*numPerRoutine)
	for g, ports := range results {
		for i, port := range ports {
			if _, exists := seen[port]; exists {
				t.Errorf("goroutine %d, allocation %d: duplicate port %d", g, i, port)
			}
			seen[port] = struct{}{}
		}
	}

	total := numGoroutines * numPerRoutine
	if len(seen) != total {
		t.Errorf("expected %d unique ports, got %d", total, len(seen))
	}

	for _, ports := range results {
		for _, port := range ports {
			alloc.Release(port)
		}
	}
}

// -------------------------------------------------------------------------
// Tests — TTL Validation
// -------------------------------------------------------------------------

// TestValidateTTL verifies the fixed single-hop wire invariant: TTL must
// be exactly 1.
func TestValidateTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ttl     uint8
		wantErr bool
	}{
		{name: "TTL 1 valid", ttl: 1, wantErr: false},
		{name: "TTL 0 invalid", ttl: 0, wantErr: true},
		{name: "TTL 2 invalid", ttl: 2, wantErr: true},
		{name: "TTL 255 invalid", ttl: 255, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			meta := netio.PacketMeta{TTL: tt.ttl}
			err := netio.ValidateTTL(meta)

			if tt.wantErr && err == nil {
				t.Errorf("TTL %d: expected error, got nil", tt.ttl)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("TTL %d: unexpected error: %v", tt.ttl, err)
			}
			if tt.wantErr && err != nil && !errors.Is(err, netio.ErrTTLInvalid) {
				t.Errorf("TTL %d: error does not wrap ErrTTLInvalid: %v", tt.ttl, err)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Tests — MockPacketConn
// -------------------------------------------------------------------------

// TestMockPacketConnWrite verifies that WritePacket records the packet data
// and destination address correctly.
func TestMockPacketConnWrite(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddrPort("192.168.1.1:501")
	mock := NewMockPacketConn(addr)

	dst := netip.MustParseAddr("10.0.0.1")
	payload := []byte{0x03, 0x00, 0x00, 0x00, 0x0a, 0x00, 0x00, 0x01}

	err := mock.WritePacket(payload, dst)
	if err != nil {
		t.Fatalf("write: unexpected error: %v", err)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()

	if len(mock.Written) != 1 {
		t.Fatalf("expected 1 written packet, got %d", len(mock.Written))
	}

	if mock.Written[0].Dst != dst {
		t.Errorf("dst = %s, want %s", mock.Written[0].Dst, dst)
	}

	if len(mock.Written[0].Data) != len(payload) {
		t.Errorf("data length = %d, want %d", len(mock.Written[0].Data), len(payload))
	}
}

// TestMockPacketConnWriteBroadcast verifies that WriteBroadcast records the
// broadcast payload.
func TestMockPacketConnWriteBroadcast(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddrPort("192.168.1.1:501")
	mock := NewMockPacketConn(addr)

	payload := []byte{0x01, 0x00, 0x00, 0x00}

	if err := mock.WriteBroadcast(payload); err != nil {
		t.Fatalf("broadcast: unexpected error: %v", err)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()

	if len(mock.Broadcasts) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(mock.Broadcasts))
	}
}

// TestMockPacketConnRead verifies that ReadPacket calls the injected
// ReadFunc and returns its results.
func TestMockPacketConnRead(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddrPort("192.168.1.1:501")
	mock := NewMockPacketConn(addr)

	wantMeta := netio.PacketMeta{
		SrcAddr: netip.MustParseAddr("10.0.0.2"),
		TTL:     1,
		IfIndex: 3,
		IfName:  "eth0",
	}
	wantData := []byte{0x01, 0x00, 0x00, 0x00}

	mock.ReadFunc = func(buf []byte) (int, netio.PacketMeta, error) {
		n := copy(buf, wantData)
		return n, wantMeta, nil
	}

	buf := make([]byte, 64)
	n, meta, err := mock.ReadPacket(buf)
	if err != nil {
		t.Fatalf("read: unexpected error: %v", err)
	}

	if n != len(wantData) {
		t.Errorf("n = %d, want %d", n, len(wantData))
	}
	if meta.SrcAddr != wantMeta.SrcAddr {
		t.Errorf("src = %s, want %s", meta.SrcAddr, wantMeta.SrcAddr)
	}
	if meta.TTL != wantMeta.TTL {
		t.Errorf("ttl = %d, want %d", meta.TTL, wantMeta.TTL)
	}
	if meta.IfIndex != wantMeta.IfIndex {
		t.Errorf("ifindex = %d, want %d", meta.IfIndex, wantMeta.IfIndex)
	}
}

// TestMockPacketConnClose verifies that Close marks the connection as
// closed and subsequent operations return ErrSocketClosed.
func TestMockPacketConnClose(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddrPort("192.168.1.1:501")
	mock := NewMockPacketConn(addr)

	if err := mock.Close(); err != nil {
		t.Fatalf("close: unexpected error: %v", err)
	}

	buf := make([]byte, 64)
	_, _, err := mock.ReadPacket(buf)
	if !errors.Is(err, netio.ErrSocketClosed) {
		t.Errorf("read after close: got %v, want %v", err, netio.ErrSocketClosed)
	}

	dst := netip.MustParseAddr("10.0.0.1")
	err = mock.WritePacket([]byte{0x01}, dst)
	if !errors.Is(err, netio.ErrSocketClosed) {
		t.Errorf("write after close: got %v, want %v", err, netio.ErrSocketClosed)
	}

	err = mock.WriteBroadcast([]byte{0x01})
	if !errors.Is(err, netio.ErrSocketClosed) {
		t.Errorf("broadcast after close: got %v, want %v", err, netio.ErrSocketClosed)
	}
}

// TestMockPacketConnLocalAddr verifies LocalAddr returns the configured address.
func TestMockPacketConnLocalAddr(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddrPort("10.0.0.5:501")
	mock := NewMockPacketConn(addr)

	if mock.LocalAddr() != addr {
		t.Errorf("LocalAddr = %s, want %s", mock.LocalAddr(), addr)
	}
}

// -------------------------------------------------------------------------
// Tests — PacketMeta Fields
// -------------------------------------------------------------------------

// TestPacketMetaFields verifies that PacketMeta correctly stores and
// returns all transport metadata fields.
func TestPacketMetaFields(t *testing.T) {
	t.Parallel()

	meta := netio.PacketMeta{
		SrcAddr: netip.MustParseAddr("192.168.1.10"),
		DstAddr: netip.MustParseAddr("192.168.1.20"),
		TTL:     1,
		IfIndex: 42,
		IfName:  "eth0",
	}

	if meta.SrcAddr != netip.MustParseAddr("192.168.1.10") {
		t.Errorf("SrcAddr = %s, want 192.168.1.10", meta.SrcAddr)
	}
	if meta.DstAddr != netip.MustParseAddr("192.168.1.20") {
		t.Errorf("DstAddr = %s, want 192.168.1.20", meta.DstAddr)
	}
	if meta.TTL != 1 {
		t.Errorf("TTL = %d, want 1", meta.TTL)
	}
	if meta.IfIndex != 42 {
		t.Errorf("IfIndex = %d, want 42", meta.IfIndex)
	}
	if meta.IfName != "eth0" {
		t.Errorf("IfName = %s, want eth0", meta.IfName)
	}
}

// TestPacketMetaZeroValue verifies that a zero-value PacketMeta has
// sensible defaults (zero addr, zero TTL, etc.).
func TestPacketMetaZeroValue(t *testing.T) {
	t.Parallel()

	var meta netio.PacketMeta

	if meta.SrcAddr.IsValid() {
		t.Error("zero-value SrcAddr should not be valid")
	}
	if meta.DstAddr.IsValid() {
		t.Error("zero-value DstAddr should not be valid")
	}
	if meta.TTL != 0 {
		t.Errorf("zero-value TTL = %d, want 0", meta.TTL)
	}
	if meta.IfIndex != 0 {
		t.Errorf("zero-value IfIndex = %d, want 0", meta.IfIndex)
	}
	if meta.IfName != "" {
		t.Errorf("zero-value IfName = %q, want empty", meta.IfName)
	}
}

// -------------------------------------------------------------------------
// Tests — Listener with Mock
// -------------------------------------------------------------------------

// TestListenerRecvWithMock verifies that Listener.Recv reads from the
// underlying PacketConn and validates TTL before returning.
func TestListenerRecvWithMock(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddrPort("192.168.1.1:501")
	mock := NewMockPacketConn(addr)

	wantMeta := netio.PacketMeta{
		SrcAddr: netip.MustParseAddr("10.0.0.2"),
		TTL:     1,
		IfIndex: 1,
		IfName:  "lo",
	}
	leachData := []byte{0x01, 0x00, 0x00, 0x00}

	mock.ReadFunc = func(buf []byte) (int, netio.PacketMeta, error) {
		n := copy(buf, leachData)
		return n, wantMeta, nil
	}

	listener := netio.NewListenerFromConn(mock)
	defer func() {
		if err := listener.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}()

	buf, meta, err := listener.Recv(t.Context())
	if err != nil {
		t.Fatalf("recv: unexpected error: %v", err)
	}

	if len(buf) != len(leachData) {
		t.Errorf("buf len = %d, want %d", len(buf), len(leachData))
	}
	if meta.SrcAddr != wantMeta.SrcAddr {
		t.Errorf("src = %s, want %s", meta.SrcAddr, wantMeta.SrcAddr)
	}
	if meta.TTL != 1 {
		t.Errorf("ttl = %d, want 1", meta.TTL)
	}
}

// TestListenerRecvRejectsBadTTL verifies that the Listener drops packets
// with invalid TTL and continues reading until a valid packet arrives.
func TestListenerRecvRejectsBadTTL(t *testing.T) {
	t.Parallel()

	addr := netip.MustParseAddrPort("192.168.1.1:501")
	mock := NewMockPacketConn(addr)

	callCount := 0
	mock.ReadFunc = func(buf []byte) (int, netio.PacketMeta, error) {
		callCount++
		data := []byte{0x01, 0x00, 0x00, 0x00}
		n := copy(buf, data)

		if callCount <= 2 {
			// First two packets have bad TTL (single-hop requires 1).
			return n, netio.PacketMeta{
				SrcAddr: netip.MustParseAddr("10.0.0.2"),
				TTL:     64,
			}, nil
		}

		// Third packet has valid TTL.
		return n, netio.PacketMeta{
			SrcAddr: netip.MustParseAddr("10.0.0.2"),
			TTL:     1,
		}, nil
	}

	listener := netio.NewListenerFromConn(mock)
	defer func() {
		if err := listener.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}()

	_, meta, err := listener.Recv(t.Context())
	if err != nil {
		t.Fatalf("recv: unexpected error: %v", err)
	}

	if meta.TTL != 1 {
		t.Errorf("received packet with TTL %d, expected 1", meta.TTL)
	}

	if callCount != 3 {
		t.Errorf("read count = %d, expected 3 (2 dropped + 1 valid)", callCount)
	}
}

// -------------------------------------------------------------------------
// Tests — Constants
// -------------------------------------------------------------------------

// TestLEACHPortConstant verifies the well-known LEACH control port.
func TestLEACHPortConstant(t *testing.T) {
	t.Parallel()

	if netio.Port != 501 {
		t.Errorf("Port = %d, want 501", netio.Port)
	}
}
