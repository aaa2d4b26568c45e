package leach

import (
	"fmt"
	"net/netip"
	"sync"
)

// Manager is the registry of Agents running in one process, keyed by
// node address. It demultiplexes inbound wire packets (broadcast AD
// to every registered agent except the sender; unicast AD_REP/TT/MSG
// to the addressed agent only) the same way a BFD session manager
// demultiplexes by discriminator, just keyed by IP address instead.
type Manager struct {
	mu     sync.RWMutex
	agents map[netip.Addr]*Agent
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{agents: make(map[netip.Addr]*Agent)}
}

// Register adds an agent to the registry, keyed by its configured
// address. Replaces any existing entry for the same address.
func (m *Manager) Register(a *Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.Addr()] = a
}

// Unregister removes an agent from the registry.
func (m *Manager) Unregister(addr netip.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, addr)
}

// Lookup returns the agent registered for addr, if any.
func (m *Manager) Lookup(addr netip.Addr) (*Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[addr]
	return a, ok
}

// Agents returns a snapshot slice of every registered agent.
func (m *Manager) Agents() []*Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	return out
}

// Demux delivers a wire packet received from "from" to the correct
// registered agent(s): AD is broadcast-flavored and goes to every
// agent except the originator; AD_REP/TT/MSG are unicast and go only
// to the agent matching the packet's destination field.
func (m *Manager) Demux(wire []byte, from netip.Addr) error {
	kind, err := PeekKind(wire)
	if err != nil {
		return fmt.Errorf("demux: %w", err)
	}

	switch kind {
	case KindAD:
		ad, err := DecodeAD(wire)
		if err != nil {
			return fmt.Errorf("demux AD: %w", err)
		}
		for _, a := range m.Agents() {
			if a.Addr() == ad.Origin {
				continue
			}
			if err := a.RecvPacket(KindAD, wire, from); err != nil {
				return fmt.Errorf("demux AD to %s: %w", a.Addr(), err)
			}
		}
		return nil

	case KindADRep:
		rep, err := DecodeADRep(wire)
		if err != nil {
			return fmt.Errorf("demux AD_REP: %w", err)
		}
		return m.deliverUnicast(rep.Destination, KindADRep, wire, from)

	case KindTT:
		tt, err := DecodeTT(wire)
		if err != nil {
			return fmt.Errorf("demux TT: %w", err)
		}
		return m.deliverUnicast(tt.Destination, KindTT, wire, from)

	case KindMSG:
		// MSG has no explicit destination field; the sender always
		// addresses it to the sink directly or to its cluster-head
		// (conveyed out-of-band by the transport layer's destination
		// address, not the packet body), so deliver by "from" lookup
		// is not meaningful here. Deliver to the receiving socket's
		// own agent, supplied by the caller's dst argument instead.
		return fmt.Errorf("demux MSG: %w", ErrUnknownPeer)

	default:
		return fmt.Errorf("demux: %w", ErrUnknownKind)
	}
}

// DemuxTo delivers a wire packet known to be addressed (by transport
// destination address, not packet body) to dst — the path used for
// MSG packets, which do not carry a destination field of their own.
func (m *Manager) DemuxTo(dst netip.Addr, wire []byte, from netip.Addr) error {
	kind, err := PeekKind(wire)
	if err != nil {
		return fmt.Errorf("demux to %s: %w", dst, err)
	}
	return m.deliverUnicast(dst, kind, wire, from)
}

func (m *Manager) deliverUnicast(dst netip.Addr, kind Kind, wire []byte, from netip.Addr) error {
	a, ok := m.Lookup(dst)
	if !ok {
		return fmt.Errorf("demux %s to %s: %w", kind, dst, ErrUnknownPeer)
	}
	return a.RecvPacket(kind, wire, from)
}
