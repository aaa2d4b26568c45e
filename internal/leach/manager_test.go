package leach

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManager_RegisterLookupUnregister(t *testing.T) {
	m := NewManager()
	sink := mustManagerAddr(t, "10.0.0.255")
	a, err := NewAgent(AgentConfig{Addr: sink, SinkAddr: sink}, &fakeSender{self: sink})
	require.NoError(t, err)

	m.Register(a)
	got, ok := m.Lookup(sink)
	require.True(t, ok)
	require.Same(t, a, got)

	m.Unregister(sink)
	_, ok = m.Lookup(sink)
	require.False(t, ok)
}

func TestManager_DemuxBroadcastADSkipsOrigin(t *testing.T) {
	m := NewManager()
	sink := mustManagerAddr(t, "10.0.0.255")
	a1, err := NewAgent(AgentConfig{Addr: mustManagerAddr(t, "10.0.0.1"), SinkAddr: sink}, &fakeSender{})
	require.NoError(t, err)
	a2, err := NewAgent(AgentConfig{Addr: mustManagerAddr(t, "10.0.0.2"), SinkAddr: sink}, &fakeSender{})
	require.NoError(t, err)
	m.Register(a1)
	m.Register(a2)

	wire := EncodeAD(ADPacket{Origin: a1.Addr()})
	require.NoError(t, m.Demux(wire, a1.Addr()))

	item := <-a2.recvCh
	require.Equal(t, KindAD, item.kind)

	select {
	case <-a1.recvCh:
		t.Fatal("origin should not receive its own broadcast")
	default:
	}
}

func TestManager_DemuxUnicastADRepToUnknownPeer(t *testing.T) {
	m := NewManager()
	wire := EncodeADRep(ADRepPacket{Origin: mustManagerAddr(t, "10.0.0.1"), Destination: mustManagerAddr(t, "10.0.0.9")})
	err := m.Demux(wire, mustManagerAddr(t, "10.0.0.1"))
	require.ErrorIs(t, err, ErrUnknownPeer)
}

func mustManagerAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return a
}
