package netio

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/wsnsim/leach/internal/leach"
)

// -------------------------------------------------------------------------
// ListenerConfig — LEACH packet listener configuration
// -------------------------------------------------------------------------

// ListenerConfig holds configuration for a LEACH packet listener.
type ListenerConfig struct {
	// Addr is the local IP address to bind to.
	Addr netip.Addr

	// BroadcastAddr is the subnet broadcast address this node's
	// socket is allowed to receive AD packets on.
	BroadcastAddr netip.Addr

	// IfName is the network interface name for SO_BINDTODEVICE.
	// Empty in single-process simulation where every node shares
	// the loopback or a single bridged interface.
	IfName string
}

// -------------------------------------------------------------------------
// Listener — High-level LEACH packet receive loop
// -------------------------------------------------------------------------

// Listener wraps a PacketConn and provides a high-level, context-aware
// receive loop for LEACH control packets. It handles buffer management
// using leach.PacketPool and returns validated packet metadata.
type Listener struct {
	conn PacketConn
}

// NewListener creates a Listener from the given configuration.
// Returns an error if the underlying socket cannot be created.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	conn, err := createConn(cfg)
	if err != nil {
		return nil, err
	}

	return &Listener{conn: conn}, nil
}

// NewListenerFromConn creates a Listener from an existing PacketConn.
// This is useful for testing with mock connections or custom transports.
func NewListenerFromConn(conn PacketConn) *Listener {
	return &Listener{conn: conn}
}

// Recv blocks until a LEACH control packet is received or ctx is
// cancelled. Returns the raw packet bytes (from leach.PacketPool),
// transport metadata, and any error. The caller is responsible for
// returning the buffer to leach.PacketPool after processing.
//
// Recv validates the received TTL is exactly 1, the wire-format
// invariant for this single-hop simulated subnet, dropping any packet
// that doesn't match silently (it did not originate from a peer node).
func (l *Listener) Recv(ctx context.Context) ([]byte, PacketMeta, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", err)
		}

		buf, meta, err := l.recvOne()
		if err != nil {
			return nil, PacketMeta{}, err
		}

		if ttlErr := ValidateTTL(meta); ttlErr != nil {
			continue // Drop packets with invalid TTL silently.
		}

		return buf, meta, nil
	}
}

// recvOne performs a single read from the underlying connection using
// a pooled buffer. Returns the buffer slice, metadata, and any error.
func (l *Listener) recvOne() ([]byte, PacketMeta, error) {
	bufp, ok := leach.PacketPool.Get().(*[]byte)
	if !ok {
		return nil, PacketMeta{}, fmt.Errorf("listener recv: %w", ErrPoolType)
	}

	n, meta, err := l.conn.ReadPacket(*bufp)
	if err != nil {
		leach.PacketPool.Put(bufp)
		return nil, PacketMeta{}, fmt.Errorf("listener read: %w", err)
	}

	return (*bufp)[:n], meta, nil
}

// Close closes the underlying PacketConn.
func (l *Listener) Close() error {
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// createConn creates the PacketConn for the given config.
func createConn(cfg ListenerConfig) (PacketConn, error) {
	conn, err := NewNodeListener(context.Background(), cfg.Addr, cfg.BroadcastAddr, cfg.IfName)
	if err != nil {
		return nil, fmt.Errorf("create LEACH listener: %w", err)
	}
	return conn, nil
}
