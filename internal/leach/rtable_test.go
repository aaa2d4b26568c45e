package leach

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeferredQueue_PushEvictsOldest(t *testing.T) {
	q := NewDeferredQueue(2, time.Hour)
	var dropped []error
	cb := func(err error) { dropped = append(dropped, err) }

	now := time.Now()
	q.Push(deferredEntry{Payload: []byte("a"), EnqueuedAt: now, ErrorCB: cb})
	q.Push(deferredEntry{Payload: []byte("b"), EnqueuedAt: now, ErrorCB: cb})
	evicted := q.Push(deferredEntry{Payload: []byte("c"), EnqueuedAt: now, ErrorCB: cb})

	require.True(t, evicted)
	require.Len(t, dropped, 1)
	require.ErrorIs(t, dropped[0], ErrQueueFull)
	require.Equal(t, 2, q.Len())
}

func TestDeferredQueue_FlushDropsExpired(t *testing.T) {
	q := NewDeferredQueue(10, 10*time.Second)
	var expired int
	cb := func(err error) {
		if err == ErrQueueExpired {
			expired++
		}
	}
	base := time.Now()
	q.Push(deferredEntry{Payload: []byte("old"), EnqueuedAt: base.Add(-20 * time.Second), ErrorCB: cb})
	q.Push(deferredEntry{Payload: []byte("fresh"), EnqueuedAt: base, ErrorCB: cb})

	out := q.Flush(base)
	require.Equal(t, 1, expired)
	require.Len(t, out, 1)
	require.Equal(t, "fresh", string(out[0].Payload))
	require.Equal(t, 0, q.Len())
}

func TestDeferredQueue_FlushRechecksExpiryNotJustAtPush(t *testing.T) {
	// An entry that was fresh when pushed must still be dropped if the
	// queue sits unflushed long enough to age past maxAge — expiry is
	// evaluated at drain time, not cached from push time.
	q := NewDeferredQueue(10, 5*time.Second)
	base := time.Now()
	var expired bool
	q.Push(deferredEntry{Payload: []byte("x"), EnqueuedAt: base, ErrorCB: func(err error) {
		if err == ErrQueueExpired {
			expired = true
		}
	}})

	out := q.Flush(base.Add(10 * time.Second))
	require.True(t, expired)
	require.Empty(t, out)
}

func TestDeferredQueue_DrainForFiltersByDestination(t *testing.T) {
	q := NewDeferredQueue(10, time.Hour)
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	now := time.Now()
	q.Push(deferredEntry{Header: IPHeader{Destination: a}, EnqueuedAt: now})
	q.Push(deferredEntry{Header: IPHeader{Destination: b}, EnqueuedAt: now})

	out := q.DrainFor(a, now)
	require.Len(t, out, 1)
	require.Equal(t, a, out[0].Header.Destination)
	require.Equal(t, 1, q.Len())
}

func TestRoutingTable_Roster(t *testing.T) {
	sink := netip.MustParseAddr("10.0.0.255")
	rt := NewRoutingTable(sink)
	require.Equal(t, sink, rt.Sink())

	m1 := netip.MustParseAddr("10.0.0.1")
	rt.AddMember(m1)
	require.True(t, rt.HasMember(m1))
	require.Len(t, rt.Roster(), 1)

	rt.ClearRoster()
	require.False(t, rt.HasMember(m1))
	require.Empty(t, rt.Roster())
}

func TestRoutingTable_RosterPreservesArrivalOrder(t *testing.T) {
	sink := netip.MustParseAddr("10.0.0.255")
	rt := NewRoutingTable(sink)

	addrs := []netip.Addr{
		netip.MustParseAddr("10.0.0.4"),
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.9"),
	}
	for _, a := range addrs {
		rt.AddMember(a)
	}
	// Re-adding an already-joined member must not move it to the end
	// or duplicate its slot.
	rt.AddMember(addrs[0])

	require.Equal(t, addrs, rt.Roster())
}
