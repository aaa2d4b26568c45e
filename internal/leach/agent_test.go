package leach

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/require"
)

// fakeSender records every packet sent and optionally fans broadcasts
// out to a set of peer agents, modelling a tiny in-process subnet
// without touching any real socket.
type fakeSender struct {
	mu        sync.Mutex
	unicasts  []sentPacket
	broadcasts [][]byte
	peers     []*Agent
	self      netip.Addr
}

type sentPacket struct {
	dst     netip.Addr
	payload []byte
}

func (s *fakeSender) SendUnicast(_ context.Context, dst netip.Addr, payload []byte) error {
	s.mu.Lock()
	s.unicasts = append(s.unicasts, sentPacket{dst: dst, payload: payload})
	s.mu.Unlock()
	for _, p := range s.peers {
		if p.Addr() == dst {
			kind, _ := PeekKind(payload)
			return p.RecvPacket(kind, payload, s.self)
		}
	}
	return nil
}

func (s *fakeSender) SendBroadcast(_ context.Context, payload []byte) error {
	s.mu.Lock()
	s.broadcasts = append(s.broadcasts, payload)
	s.mu.Unlock()
	kind, _ := PeekKind(payload)
	for _, p := range s.peers {
		if p.Addr() == s.self {
			continue
		}
		if err := p.RecvPacket(kind, payload, s.self); err != nil {
			return err
		}
	}
	return nil
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return a
}

func TestAgent_SinkRoleFromAddrEqualsSinkAddr(t *testing.T) {
	sink := mustAddr(t, "10.0.0.255")
	a, err := NewAgent(AgentConfig{Addr: sink, SinkAddr: sink}, &fakeSender{self: sink})
	require.NoError(t, err)
	require.Equal(t, RoleSink, a.Role())
	require.Equal(t, PhaseSink, a.Phase())
}

func TestAgent_RouteOutputDefersWithoutGateway(t *testing.T) {
	sink := mustAddr(t, "10.0.0.255")
	member := mustAddr(t, "10.0.0.1")
	a, err := NewAgent(AgentConfig{Addr: member, SinkAddr: sink}, &fakeSender{self: member})
	require.NoError(t, err)

	route, err := a.RouteOutput([]byte("payload"), IPHeader{Destination: sink})
	require.NoError(t, err)
	require.Equal(t, LoopbackDevice, route.OutputDevice)
}

func TestAgent_RouteOutputAtSinkErrors(t *testing.T) {
	sink := mustAddr(t, "10.0.0.255")
	a, err := NewAgent(AgentConfig{Addr: sink, SinkAddr: sink}, &fakeSender{self: sink})
	require.NoError(t, err)
	_, err = a.RouteOutput([]byte("x"), IPHeader{})
	require.ErrorIs(t, err, ErrRoleMismatch)
}

func TestAgent_RouteInputLoopbackDefersThenFlushesOnDeferred(t *testing.T) {
	sink := mustAddr(t, "10.0.0.255")
	member := mustAddr(t, "10.0.0.1")
	sender := &fakeSender{self: member}
	a, err := NewAgent(AgentConfig{Addr: member, SinkAddr: sink}, sender)
	require.NoError(t, err)

	var sent bool
	ok := a.RouteInput([]byte("payload"), IPHeader{Destination: sink}, LoopbackDevice,
		func(Route, []byte) error { sent = true; return nil },
		func(error) {},
	)
	require.True(t, ok)
	require.False(t, sent)
	require.Equal(t, 1, a.deferred.Len())

	a.gw.set(sink)
	a.flushQueue(sink)
	require.Equal(t, 0, a.deferred.Len())
}

// TestAgent_RoundSequenceElectsJoinsAndAssignsSlot drives one full
// round deterministically by calling the same unexported handlers Run
// dispatches from its select loop, avoiding any dependency on
// goroutine scheduling order between cooperating agents.
func TestAgent_RoundSequenceElectsJoinsAndAssignsSlot(t *testing.T) {
	sink := mustAddr(t, "10.0.0.255")
	headAddr := mustAddr(t, "10.0.0.1")
	memberAddr := mustAddr(t, "10.0.0.2")
	mobility := StaticMobilityProvider{
		headAddr:   r2.Point{X: 0, Y: 0},
		memberAddr: r2.Point{X: 10, Y: 10},
	}

	senderHead := &fakeSender{self: headAddr}
	senderMember := &fakeSender{self: memberAddr}

	cfg := AgentConfig{SinkAddr: sink, RoundInterval: 3 * time.Hour,
		AdvertiseInterval: time.Hour, ReplyInterval: time.Hour}
	headCfg := cfg
	headCfg.Addr = headAddr
	headCfg.ElectionProb = 1.0
	memberCfg := cfg
	memberCfg.Addr = memberAddr
	memberCfg.ElectionProb = 0

	head, err := NewAgent(headCfg, senderHead, WithMobilityProvider(mobility), WithRNG(fixedRNG(0)))
	require.NoError(t, err)
	member, err := NewAgent(memberCfg, senderMember, WithMobilityProvider(mobility), WithRNG(fixedRNG(0.99)))
	require.NoError(t, err)
	senderHead.peers = []*Agent{head, member}
	senderMember.peers = []*Agent{head, member}

	ctx := context.Background()

	// Round boundary: head is elected and broadcasts AD, which the
	// fakeSender delivers synchronously into member's recvCh.
	head.handleRoundTimer(ctx, time.NewTimer(time.Hour), newParkedTimer())
	require.Equal(t, RoleClusterHead, head.Role())

	res, rerr := ApplyEvent(PhaseIdle, EventRoundTimer)
	require.NoError(t, rerr)
	member.phase.Store(uint32(res.NextPhase))
	item := <-member.recvCh
	member.handleRecv(ctx, item, newParkedTimer())
	require.True(t, member.nearestHead.Found)
	require.Equal(t, headAddr, member.nearestHead.Addr)

	// Advertise timer fires: member joins the head it found.
	member.handleAdvertiseTimer(ctx, newParkedTimer())
	require.Len(t, senderMember.unicasts, 1)

	headItem := <-head.recvCh
	head.handleRecv(ctx, headItem, newParkedTimer())
	require.True(t, head.rtable.HasMember(memberAddr))

	// Advertise timer fires on the head too, moving it to SETUP_REPLY.
	head.handleAdvertiseTimer(ctx, newParkedTimer())

	// Reply timer fires on the head: it assigns a slot and the member
	// receives its TT.
	head.handleReplyTimer(ctx)
	require.Equal(t, PhaseSteady, head.Phase())
	require.Len(t, senderHead.unicasts, 1)

	memberItem := <-member.recvCh
	slotTimer := newParkedTimer()
	member.handleRecv(ctx, memberItem, slotTimer)
	require.True(t, member.hasSlot.Load())
	require.Equal(t, time.Duration(0), member.slotStart)
	require.Equal(t, slotWidth(cfg, 1), member.slotDuration)
}
