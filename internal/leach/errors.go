package leach

import "errors"

// Sentinel errors returned by the packet codec, routing table and
// agent actor. All are wrapped with fmt.Errorf("...: %w", ...) at the
// point of occurrence so callers can errors.Is against the sentinel
// while still getting a descriptive message.
var (
	// ErrShortPacket indicates the wire buffer is smaller than the
	// discriminator byte plus the kind's fixed payload size.
	ErrShortPacket = errors.New("packet too short")

	// ErrUnknownKind indicates the discriminator byte does not match
	// any of the four defined control packet kinds.
	ErrUnknownKind = errors.New("unknown packet kind")

	// ErrTrailingBytes indicates the wire buffer has more bytes than
	// the kind's fixed payload requires.
	ErrTrailingBytes = errors.New("trailing bytes after packet payload")

	// ErrQueueFull indicates the deferred queue was at its configured
	// bound when a new entry was pushed; the oldest entry was dropped
	// to make room.
	ErrQueueFull = errors.New("deferred queue full, oldest entry dropped")

	// ErrQueueExpired indicates a deferred entry aged out (exceeded
	// MaxQueueTime) before a gateway became available to flush it.
	ErrQueueExpired = errors.New("deferred entry expired before flush")

	// ErrNoRoute indicates RouteInput had no gateway to offer a
	// non-loopback packet to; it is passed to the caller's errorCB.
	ErrNoRoute = errors.New("no route available")

	// ErrInvalidSlot names a TDMA slot announced in a TT packet with a
	// zero duration. The agent does not return it: such a TT is
	// dropped and counted under the "invalid_slot" drop reason.
	ErrInvalidSlot = errors.New("invalid TDMA slot")

	// ErrRoleMismatch indicates an operation was attempted against an
	// agent in a role that does not support it (e.g. calling
	// RouteOutput on the SINK).
	ErrRoleMismatch = errors.New("operation not valid for current role")

	// ErrAgentClosed indicates RecvPacket was called
	// after the agent's Run loop has returned.
	ErrAgentClosed = errors.New("agent closed")

	// ErrUnknownPeer indicates a Manager received a unicast packet
	// addressed to a node it has no registered agent for.
	ErrUnknownPeer = errors.New("no agent registered for address")
)
