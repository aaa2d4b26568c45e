package netio

import (
	"errors"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// LEACH port and wire-format constants
// -------------------------------------------------------------------------

const (
	// Port is the destination UDP port every LEACH control packet
	// (AD, AD_REP, TT, MSG) is carried on.
	Port uint16 = 501

	// sourcePortMin/sourcePortMax bound the ephemeral local port range
	// agents bind their sending socket to.
	sourcePortMin uint16 = 49152
	sourcePortMax uint16 = 65535

	// ttlRequired is the fixed TTL every LEACH packet is sent and
	// received with. Unlike BGP/BFD's GTSM (RFC 5082) this is not a
	// security mechanism — it is simply the wire-format invariant
	// that every node is a single broadcast-domain hop away from
	// every other node in this simulator, so a received packet with
	// any other TTL did not originate from a peer in this network.
	ttlRequired uint8 = 1
)

// -------------------------------------------------------------------------
// Transport metadata
// -------------------------------------------------------------------------

// PacketMeta contains transport-layer metadata extracted from a
// received LEACH packet via ancillary data (IP_PKTINFO, IP_RECVTTL).
type PacketMeta struct {
	SrcAddr netip.Addr
	DstAddr netip.Addr
	TTL     uint8
	IfIndex int
	IfName  string
}

// -------------------------------------------------------------------------
// PacketConn interface
// -------------------------------------------------------------------------

// PacketConn abstracts LEACH packet send/receive over raw UDP
// sockets. The interface is kept minimal so mock implementations can
// stand in for tests without CAP_NET_RAW or a real subnet.
type PacketConn interface {
	// ReadPacket reads a single control packet into buf.
	ReadPacket(buf []byte) (n int, meta PacketMeta, err error)

	// WritePacket sends buf to a single peer, TTL=1.
	WritePacket(buf []byte, dst netip.Addr) error

	// WriteBroadcast sends buf to the configured subnet broadcast
	// address, TTL=1. Used only for AD packets.
	WriteBroadcast(buf []byte) error

	// Close releases the underlying socket resources.
	Close() error

	// LocalAddr returns the local address and port the socket is
	// bound to.
	LocalAddr() netip.AddrPort
}

// -------------------------------------------------------------------------
// Sentinel errors
// -------------------------------------------------------------------------

var (
	// ErrTTLInvalid indicates a received packet's TTL is not exactly
	// 1, meaning it did not originate from a peer in this simulated
	// network.
	ErrTTLInvalid = errors.New("TTL validation failed")

	// ErrPortExhausted indicates no ephemeral source ports remain.
	ErrPortExhausted = errors.New("no source ports available in range 49152-65535")

	// ErrSocketClosed indicates an operation on a closed socket.
	ErrSocketClosed = errors.New("socket closed")

	// ErrPoolType indicates the packet pool returned an unexpected type.
	ErrPoolType = errors.New("packet pool returned unexpected type")
)

// ValidateTTL checks the received TTL against the fixed single-hop
// wire requirement.
func ValidateTTL(meta PacketMeta) error {
	if meta.TTL != ttlRequired {
		return fmt.Errorf("TTL %d, required %d: %w", meta.TTL, ttlRequired, ErrTTLInvalid)
	}
	return nil
}
