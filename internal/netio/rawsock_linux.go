//go:build linux

package netio

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// LinuxPacketConn
// -------------------------------------------------------------------------

// LinuxPacketConn implements PacketConn using a UDP socket configured
// for LEACH's fixed TTL=1, broadcast-capable, single-port wire format.
//
//  1. IP_TTL = 1 on TX, matching the single-broadcast-domain model.
//  2. IP_RECVTTL for the received TTL in ancillary data.
//  3. IP_PKTINFO for destination address and interface.
//  4. SO_BROADCAST so WriteBroadcast can target the subnet broadcast
//     address (used only for AD packets).
//  5. SO_REUSEADDR for multiple agents bound to the same port across
//     distinct addresses in a single-process simulation.
type LinuxPacketConn struct {
	conn           *net.UDPConn
	localAddr      netip.AddrPort
	broadcastAddr  netip.Addr
	ifName         string
	closed         bool
	mu             sync.Mutex
}

// ReadPacket reads a single LEACH control packet from the socket.
func (c *LinuxPacketConn) ReadPacket(buf []byte) (int, PacketMeta, error) {
	oob := make([]byte, oobSize)

	n, oobn, _, src, err := c.conn.ReadMsgUDP(buf, oob)
	if err != nil {
		return 0, PacketMeta{}, fmt.Errorf("read LEACH packet: %w", err)
	}

	meta := parseMeta(src, oob[:oobn])
	meta.IfName = c.ifName

	return n, meta, nil
}

// WritePacket sends buf to dst on Port. TTL=1 is set at socket
// creation time.
func (c *LinuxPacketConn) WritePacket(buf []byte, dst netip.Addr) error {
	udpAddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, Port))
	if _, err := c.conn.WriteToUDP(buf, udpAddr); err != nil {
		return fmt.Errorf("write LEACH packet to %s: %w", dst, err)
	}
	return nil
}

// WriteBroadcast sends buf to the configured subnet broadcast address.
func (c *LinuxPacketConn) WriteBroadcast(buf []byte) error {
	if !c.broadcastAddr.IsValid() {
		return fmt.Errorf("write LEACH broadcast: no broadcast address configured")
	}
	udpAddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(c.broadcastAddr, Port))
	if _, err := c.conn.WriteToUDP(buf, udpAddr); err != nil {
		return fmt.Errorf("write LEACH broadcast to %s: %w", c.broadcastAddr, err)
	}
	return nil
}

// Close releases the underlying socket.
func (c *LinuxPacketConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close LEACH socket: %w", err)
	}
	return nil
}

// LocalAddr returns the local address and port the socket is bound to.
func (c *LinuxPacketConn) LocalAddr() netip.AddrPort {
	return c.localAddr
}

// -------------------------------------------------------------------------
// Constructors
// -------------------------------------------------------------------------

// NewNodeListener creates a PacketConn bound to addr:Port with the
// given subnet broadcast address, optionally bound to a specific
// interface (ifName may be empty in single-process simulation).
func NewNodeListener(ctx context.Context, addr, broadcastAddr netip.Addr, ifName string) (*LinuxPacketConn, error) {
	laddr := netip.AddrPortFrom(addr, Port)

	conn, err := listenUDP(ctx, laddr, ifName)
	if err != nil {
		return nil, fmt.Errorf("leach listener on %s%%%s: %w", laddr, ifName, err)
	}

	return &LinuxPacketConn{
		conn:          conn,
		localAddr:     laddr,
		broadcastAddr: broadcastAddr,
		ifName:        ifName,
	}, nil
}

// -------------------------------------------------------------------------
// Socket creation helpers
// -------------------------------------------------------------------------

const oobSize = 64

var ErrUnexpectedConnType = errors.New("unexpected connection type from ListenPacket")

func listenUDP(ctx context.Context, laddr netip.AddrPort, ifName string) (*net.UDPConn, error) {
	isIPv6 := laddr.Addr().Is6() && !laddr.Addr().Is4In6()

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setSocketOpts(c, ifName, isIPv6)
		},
	}

	network := "udp4"
	if isIPv6 {
		network = "udp6"
	}

	pc, err := lc.ListenPacket(ctx, network, laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", laddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, errors.Join(
			fmt.Errorf("listen UDP %s: %w", laddr, ErrUnexpectedConnType),
			closeErr,
		)
	}

	return conn, nil
}

// setSocketOpts configures the LEACH-required socket options.
func setSocketOpts(c syscall.RawConn, ifName string, isIPv6 bool) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)
		if isIPv6 {
			sockErr = applySockOptsV6(intFD, ifName)
		} else {
			sockErr = applySockOptsV4(intFD, ifName)
		}
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}

func applySockOptsCommon(fd int, ifName string) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}
	if ifName != "" {
		if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, ifName); err != nil {
			return fmt.Errorf("set SO_BINDTODEVICE(%s): %w", ifName, err)
		}
	}
	return nil
}

func applySockOptsV4(fd int, ifName string) error {
	if err := applySockOptsCommon(fd, ifName); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, int(ttlRequired)); err != nil {
		return fmt.Errorf("set IP_TTL: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_RECVTTL, 1); err != nil {
		return fmt.Errorf("set IP_RECVTTL: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
		return fmt.Errorf("set IP_PKTINFO: %w", err)
	}
	return nil
}

func applySockOptsV6(fd int, ifName string) error {
	if err := applySockOptsCommon(fd, ifName); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, int(ttlRequired)); err != nil {
		return fmt.Errorf("set IPV6_UNICAST_HOPS: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVHOPLIMIT, 1); err != nil {
		return fmt.Errorf("set IPV6_RECVHOPLIMIT: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_RECVPKTINFO, 1); err != nil {
		return fmt.Errorf("set IPV6_RECVPKTINFO: %w", err)
	}
	return nil
}

// parseMeta extracts transport metadata from the source address and
// ancillary data (IPv4 and IPv6 paths).
func parseMeta(src *net.UDPAddr, oob []byte) PacketMeta {
	meta := PacketMeta{}

	if src != nil {
		srcAddr, ok := netip.AddrFromSlice(src.IP)
		if ok {
			meta.SrcAddr = srcAddr.Unmap()
		}
	}

	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return meta
	}

	parseControlMessages(msgs, &meta)
	return meta
}

func parseControlMessages(msgs []unix.SocketControlMessage, meta *PacketMeta) {
	for i := range msgs {
		switch {
		case msgs[i].Header.Level == unix.IPPROTO_IP && msgs[i].Header.Type == unix.IP_TTL:
			parseTTLMessage(msgs[i].Data, meta)
		case msgs[i].Header.Level == unix.IPPROTO_IP && msgs[i].Header.Type == unix.IP_PKTINFO:
			parsePktInfoMessage(msgs[i].Data, meta)
		case msgs[i].Header.Level == unix.IPPROTO_IPV6 && msgs[i].Header.Type == unix.IPV6_HOPLIMIT:
			parseHopLimitMessage(msgs[i].Data, meta)
		case msgs[i].Header.Level == unix.IPPROTO_IPV6 && msgs[i].Header.Type == unix.IPV6_PKTINFO:
			parsePktInfo6Message(msgs[i].Data, meta)
		}
	}
}

func parseTTLMessage(data []byte, meta *PacketMeta) {
	if len(data) >= 1 {
		meta.TTL = data[0]
	}
}

func parsePktInfoMessage(data []byte, meta *PacketMeta) {
	const pktInfoSize = 12
	if len(data) < pktInfoSize {
		return
	}
	ifIdx := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	meta.IfIndex = int(ifIdx)

	var ip4 [4]byte
	copy(ip4[:], data[8:12])
	meta.DstAddr = netip.AddrFrom4(ip4)
}

func parseHopLimitMessage(data []byte, meta *PacketMeta) {
	if len(data) >= 1 {
		meta.TTL = data[0]
	}
}

func parsePktInfo6Message(data []byte, meta *PacketMeta) {
	const pktInfo6Size = 20
	if len(data) < pktInfo6Size {
		return
	}
	var ip6 [16]byte
	copy(ip6[:], data[0:16])
	meta.DstAddr = netip.AddrFrom16(ip6)

	ifIdx := uint32(data[16]) | uint32(data[17])<<8 | uint32(data[18])<<16 | uint32(data[19])<<24
	meta.IfIndex = int(ifIdx)
}

// -------------------------------------------------------------------------
// SourcePortAllocator
// -------------------------------------------------------------------------

// SourcePortAllocator manages ephemeral local ports in the range
// [49152, 65535] for agents that bind an outbound sending socket.
type SourcePortAllocator struct {
	mu       sync.Mutex
	inUse    map[uint16]struct{}
	portSpan int
}

func NewSourcePortAllocator() *SourcePortAllocator {
	return &SourcePortAllocator{
		inUse:    make(map[uint16]struct{}),
		portSpan: int(sourcePortMax) - int(sourcePortMin) + 1,
	}
}

func (a *SourcePortAllocator) Allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.inUse) >= a.portSpan {
		return 0, fmt.Errorf("all %d ports allocated: %w", a.portSpan, ErrPortExhausted)
	}

	//nolint:gosec // G404: port selection does not require cryptographic randomness.
	offset := rand.IntN(a.portSpan)

	for i := range a.portSpan {
		//nolint:gosec // G115: (offset+i)%portSpan is always in [0, 16383], fits uint16 after adding sourcePortMin.
		port := sourcePortMin + uint16((offset+i)%a.portSpan)
		if _, used := a.inUse[port]; !used {
			a.inUse[port] = struct{}{}
			return port, nil
		}
	}

	return 0, fmt.Errorf("all %d ports allocated: %w", a.portSpan, ErrPortExhausted)
}

func (a *SourcePortAllocator) Release(port uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}
