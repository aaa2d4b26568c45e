//go:build linux

package netio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// UDPSender implements leach.PacketSender by sending LEACH control
// packets over UDP. Each sender is bound to a specific local address
// and source port within the ephemeral range (49152-65535), with
// IP_TTL fixed at 1 and SO_BROADCAST enabled for AD fan-out.
type UDPSender struct {
	conn          *net.UDPConn
	dstPort       uint16
	broadcastAddr netip.Addr
	logger        *slog.Logger
	mu            sync.Mutex
	closed        bool
	srcPort       uint16
	bindDevice    string // SO_BINDTODEVICE interface name, for multi-interface simulation hosts
}

// SenderOption configures optional UDPSender parameters.
type SenderOption func(*UDPSender)

// WithDstPort overrides the default destination port.
func WithDstPort(port uint16) SenderOption {
	return func(s *UDPSender) {
		s.dstPort = port
	}
}

// WithBindDevice sets SO_BINDTODEVICE on the sender socket, binding it
// to a specific network interface.
func WithBindDevice(ifName string) SenderOption {
	return func(s *UDPSender) {
		s.bindDevice = ifName
	}
}

// NewUDPSender creates a sender for LEACH packets from
// localAddr:srcPort, broadcasting AD packets to broadcastAddr.
//
// The socket is configured with:
//   - IP_TTL = 1 (single broadcast-domain hop)
//   - SO_BROADCAST, required to send to broadcastAddr
//   - SO_REUSEADDR for multiple agents bound to distinct local
//     addresses on the same port within one simulation process
func NewUDPSender(
	localAddr netip.Addr,
	srcPort uint16,
	broadcastAddr netip.Addr,
	logger *slog.Logger,
	opts ...SenderOption,
) (*UDPSender, error) {
	s := &UDPSender{
		dstPort:       Port,
		srcPort:       srcPort,
		broadcastAddr: broadcastAddr,
		logger: logger.With(
			slog.String("component", "netio.sender"),
			slog.String("local", localAddr.String()),
			slog.Uint64("src_port", uint64(srcPort)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	conn, err := dialSenderSocket(localAddr, srcPort, s.bindDevice)
	if err != nil {
		return nil, fmt.Errorf("create UDP sender %s:%d: %w",
			localAddr, srcPort, err)
	}

	s.conn = conn
	return s, nil
}

// dialSenderSocket creates and configures a UDP socket for LEACH TX.
func dialSenderSocket(
	localAddr netip.Addr,
	srcPort uint16,
	bindDevice string,
) (*net.UDPConn, error) {
	laddr := netip.AddrPortFrom(localAddr, srcPort)

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setSenderOpts(c, bindDevice)
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", laddr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		closeErr := pc.Close()
		return nil, fmt.Errorf(
			"listen UDP %s: %w: %w",
			laddr, ErrUnexpectedConnType, closeErr,
		)
	}

	return conn, nil
}

// setSenderOpts configures socket options for LEACH TX.
func setSenderOpts(c syscall.RawConn, bindDevice string) error {
	var sockErr error

	err := c.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)

		sockErr = setSenderSockOpts(intFD, bindDevice)
	})
	if err != nil {
		return fmt.Errorf("raw conn control: %w", err)
	}

	return sockErr
}

// setSenderSockOpts applies socket-level and IP-level options for a
// LEACH sender FD.
func setSenderSockOpts(fd int, bindDevice string) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}

	if bindDevice != "" {
		if err := unix.SetsockoptString(
			fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, bindDevice,
		); err != nil {
			return fmt.Errorf("set SO_BINDTODEVICE(%s): %w", bindDevice, err)
		}
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, int(ttlRequired)); err != nil {
		return fmt.Errorf("set IP_TTL: %w", err)
	}

	return nil
}

// SendUnicast sends buf to a single peer's address on Port. It
// satisfies leach.PacketSender.
func (s *UDPSender) SendUnicast(_ context.Context, addr netip.Addr, buf []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("send to %s: %w", addr, ErrSocketClosed)
	}
	s.mu.Unlock()

	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(addr, s.dstPort))

	if _, err := s.conn.WriteToUDP(buf, dst); err != nil {
		return fmt.Errorf("send LEACH packet to %s:%d: %w",
			addr, s.dstPort, err)
	}

	return nil
}

// SendBroadcast sends buf to the subnet broadcast address on Port. It
// satisfies leach.PacketSender and is used only for AD packets.
func (s *UDPSender) SendBroadcast(_ context.Context, buf []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("broadcast: %w", ErrSocketClosed)
	}
	s.mu.Unlock()

	if !s.broadcastAddr.IsValid() {
		return fmt.Errorf("broadcast: no broadcast address configured")
	}

	dst := net.UDPAddrFromAddrPort(netip.AddrPortFrom(s.broadcastAddr, s.dstPort))

	if _, err := s.conn.WriteToUDP(buf, dst); err != nil {
		return fmt.Errorf("broadcast LEACH packet to %s:%d: %w",
			s.broadcastAddr, s.dstPort, err)
	}

	return nil
}

// Close closes the underlying UDP connection.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close sender socket: %w", err)
	}

	return nil
}

// SrcPort returns the allocated source port for this sender.
func (s *UDPSender) SrcPort() uint16 {
	return s.srcPort
}
