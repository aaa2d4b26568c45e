package leach

import "net/netip"

// RoutingAgent is the interface an IPv4 forwarding stack uses to hand
// outgoing and incoming packets to the LEACH control plane, and to
// tell it when the underlying interface changes state. It is
// deliberately narrow: no AODV-shaped route-request/route-reply
// fields, no multi-hop route table — LEACH only ever has an opinion
// about "my cluster-head" or "the sink".
type RoutingAgent interface {
	// RouteOutput is called for a locally-generated (or forwarded)
	// packet that needs a next hop. If no gateway is usable yet, it
	// returns a loopback Route (OutputDevice == LoopbackDevice)
	// without enqueuing anything; the caller re-offers the packet via
	// RouteInput on LoopbackDevice, which puts it on the deferred
	// queue, mirroring how an IPv4 stack handles a locally generated
	// packet with no route yet.
	RouteOutput(pkt []byte, hdr IPHeader) (Route, error)

	// RouteInput is called for a packet arriving on inputDevice. For
	// the LoopbackDevice re-entry case it enqueues the packet instead
	// of forwarding again. Otherwise, if this agent is a
	// cluster-head, it forwards toward the sink through unicastCB;
	// errorCB receives any send failure. Returns true if the packet
	// was handled (forwarded or deferred), false if it should be
	// dropped by the caller.
	RouteInput(pkt []byte, hdr IPHeader, inputDevice string, unicastCB func(Route, []byte) error, errorCB func(error)) bool

	// NotifyInterfaceUp/NotifyInterfaceDown tell the agent its single
	// network interface changed state. A downed interface suppresses
	// all outgoing traffic until it comes back up.
	NotifyInterfaceUp(ifName string)
	NotifyInterfaceDown(ifName string)

	// SetIPv4 installs (or changes) the address the agent answers on.
	SetIPv4(addr netip.Addr)
}
