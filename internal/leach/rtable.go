package leach

import (
	"net/netip"
	"time"
)

// IPHeader is the minimal slice of an outgoing packet's network-layer
// header the routing logic needs: who it is from, who it is for, and
// how many hops it has left. The real IPv4 stack this agent plugs
// into is out of scope; callers translate to/from their own header
// representation at the RouteOutput/RouteInput boundary.
type IPHeader struct {
	Source      netip.Addr
	Destination netip.Addr
	TTL         uint8
}

// Route is what RouteOutput/RouteInput hand back to the caller: where
// to send a packet next, and through which logical device.
type Route struct {
	Destination  netip.Addr
	Gateway      netip.Addr
	Source       netip.Addr
	OutputDevice string
}

// LoopbackDevice is the OutputDevice value RouteOutput returns when a
// packet must be deferred: the caller is expected to re-offer the
// packet to RouteInput with this device name once routing state
// changes, exactly the same loopback re-entry an IPv4 stack performs
// for a locally-generated packet with no route yet.
const LoopbackDevice = "lo"

// deferredEntry is one packet waiting in the bounded FIFO for a
// cluster-head or sink gateway to become available.
type deferredEntry struct {
	Payload     []byte
	Header      IPHeader
	UnicastCB   func(Route, []byte) error
	ErrorCB     func(error)
	EnqueuedAt  time.Time
}

// DeferredQueue is a bounded FIFO of packets routing couldn't forward
// immediately. It is pushed to by RouteInput on LoopbackDevice (after
// RouteOutput reported no usable gateway), and drained once a round's
// cluster-head (or the sink, for direct traffic) is known.
//
// Entries older than MaxAge are dropped and reported through their
// ErrorCB rather than being handed back on drain — this is the
// "re-check expiration on every drain, not just on push" fix: a
// queue that only expired entries at push time could hand a stale
// packet to a brand-new gateway long after it should have been
// dropped.
type DeferredQueue struct {
	maxLen int
	maxAge time.Duration
	items  []deferredEntry
}

// NewDeferredQueue creates a queue bounded to maxLen entries, each
// good for at most maxAge before being dropped.
func NewDeferredQueue(maxLen int, maxAge time.Duration) *DeferredQueue {
	return &DeferredQueue{maxLen: maxLen, maxAge: maxAge}
}

// Push appends an entry, dropping the oldest if the queue is already
// at maxLen. Returns true if an entry was dropped to make room.
func (q *DeferredQueue) Push(e deferredEntry) (dropped bool) {
	if len(q.items) >= q.maxLen {
		dropped = true
		evicted := q.items[0]
		if evicted.ErrorCB != nil {
			evicted.ErrorCB(ErrQueueFull)
		}
		q.items = q.items[1:]
	}
	q.items = append(q.items, e)
	return dropped
}

// Len returns the number of entries currently queued.
func (q *DeferredQueue) Len() int {
	return len(q.items)
}

// Flush removes every entry from the queue, dropping (and reporting
// via ErrorCB) any that have aged past maxAge as of now, and
// returning the rest in FIFO order for the caller to re-offer via its
// UnicastCB against a freshly available gateway.
func (q *DeferredQueue) Flush(now time.Time) []deferredEntry {
	return q.drainMatching(now, func(deferredEntry) bool { return true })
}

// DrainFor removes and returns every queued entry whose header
// destination equals dest, dropping expired entries along the way
// exactly as Flush does. This is the narrower, destination-filtered
// primitive; LEACH's own round-boundary flush always drains
// everything via Flush since every deferred packet in this protocol
// is ultimately sink-bound.
func (q *DeferredQueue) DrainFor(dest netip.Addr, now time.Time) []deferredEntry {
	return q.drainMatching(now, func(e deferredEntry) bool {
		return e.Header.Destination == dest
	})
}

func (q *DeferredQueue) drainMatching(now time.Time, match func(deferredEntry) bool) []deferredEntry {
	var kept []deferredEntry
	var out []deferredEntry
	for _, e := range q.items {
		if !match(e) {
			kept = append(kept, e)
			continue
		}
		if q.maxAge > 0 && now.Sub(e.EnqueuedAt) > q.maxAge {
			if e.ErrorCB != nil {
				e.ErrorCB(ErrQueueExpired)
			}
			continue
		}
		out = append(out, e)
	}
	q.items = kept
	return out
}

// RoutingTable tracks the small set of peers this LEACH agent ever
// addresses directly: the sink, and (for a cluster-head) its current
// roster. It deliberately does not attempt multi-hop route discovery
// or repair — every entry is either the sink or a direct single-hop
// neighbor discovered through AD/AD_REP.
type RoutingTable struct {
	sink     netip.Addr
	roster   []netip.Addr
	rosterIx map[netip.Addr]struct{}
}

// NewRoutingTable creates a table with a fixed sink address.
func NewRoutingTable(sink netip.Addr) *RoutingTable {
	return &RoutingTable{sink: sink, rosterIx: make(map[netip.Addr]struct{})}
}

// Sink returns the configured sink address.
func (t *RoutingTable) Sink() netip.Addr {
	return t.sink
}

// AddMember records a roster member (cluster-head role only), in
// arrival order of its join-reply. Slot assignment indexes the roster
// by this order, so re-adding an already-present member is a no-op
// rather than moving it to the end.
func (t *RoutingTable) AddMember(addr netip.Addr) {
	if _, ok := t.rosterIx[addr]; ok {
		return
	}
	t.rosterIx[addr] = struct{}{}
	t.roster = append(t.roster, addr)
}

// ClearRoster drops all roster membership, called at the start of
// every new SETUP_ADVERTISE window.
func (t *RoutingTable) ClearRoster() {
	t.roster = nil
	t.rosterIx = make(map[netip.Addr]struct{})
}

// Roster returns the current member set in join-reply arrival order,
// the order slot assignment indexes against.
func (t *RoutingTable) Roster() []netip.Addr {
	out := make([]netip.Addr, len(t.roster))
	copy(out, t.roster)
	return out
}

// HasMember reports whether addr is currently on the roster.
func (t *RoutingTable) HasMember(addr netip.Addr) bool {
	_, ok := t.rosterIx[addr]
	return ok
}
