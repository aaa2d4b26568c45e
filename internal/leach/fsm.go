package leach

import "fmt"

// Phase is the round scheduler's state. Every agent, regardless of
// role, moves through the same phase sequence except SINK, which sits
// out of the cluster-formation cycle entirely.
type Phase uint8

const (
	PhaseIdle Phase = iota
	// PhaseSetupAdvertise: cluster-heads have been elected and are
	// broadcasting AD; members are listening and picking a nearest
	// head.
	PhaseSetupAdvertise
	// PhaseSetupReply: members unicast AD_REP to their chosen head;
	// heads build a roster.
	PhaseSetupReply
	// PhaseSteady: TDMA slots are active, MSG traffic flows.
	PhaseSteady
	// PhaseSink: the fixed data-collection role, outside the round
	// cycle.
	PhaseSink
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseSetupAdvertise:
		return "SETUP_ADVERTISE"
	case PhaseSetupReply:
		return "SETUP_REPLY"
	case PhaseSteady:
		return "STEADY"
	case PhaseSink:
		return "SINK"
	default:
		return fmt.Sprintf("PHASE(%d)", uint8(p))
	}
}

// Event is a discrete scheduler trigger. Conditions that affect which
// transition fires (member has/has-not found a nearest head) are
// folded into the event itself rather than passed as a side
// parameter, so ApplyEvent stays a pure function of (Phase, Event).
type Event uint8

const (
	// EventRoundTimer fires T_round after the previous round started
	// (or at agent start) and kicks off a fresh election.
	EventRoundTimer Event = iota
	// EventAdvertiseTimerJoin fires T_adv after SETUP_ADVERTISE began,
	// for an agent that found a nearest head to join.
	EventAdvertiseTimerJoin
	// EventAdvertiseTimerNoHead fires T_adv after SETUP_ADVERTISE
	// began, for a member that heard no advertisement at all; it
	// skips SETUP_REPLY entirely and flushes straight to the sink.
	EventAdvertiseTimerNoHead
	// EventReplyTimer fires T_rep after SETUP_REPLY began.
	EventReplyTimer
)

func (e Event) String() string {
	switch e {
	case EventRoundTimer:
		return "round_timer"
	case EventAdvertiseTimerJoin:
		return "advertise_timer/join"
	case EventAdvertiseTimerNoHead:
		return "advertise_timer/no_head"
	case EventReplyTimer:
		return "reply_timer"
	default:
		return fmt.Sprintf("EVENT(%d)", uint8(e))
	}
}

// Action is a side effect the agent actor must execute after a
// transition. ApplyEvent only ever names which actions happen; the
// actor (agent.go) owns what each action actually does.
type Action uint8

const (
	// ActionRunElection runs the Heinzelman threshold test, settles
	// this round's role, and (if elected head) broadcasts AD.
	ActionRunElection Action = iota
	// ActionArmAdvertiseTimer arms the T_adv timer.
	ActionArmAdvertiseTimer
	// ActionSendJoinReply unicasts AD_REP to the nearest head.
	ActionSendJoinReply
	// ActionArmReplyTimer arms the T_rep timer.
	ActionArmReplyTimer
	// ActionAssignSlots (cluster-head only) sends TT to every roster
	// member, then flushes the deferred queue toward the sink.
	ActionAssignSlots
	// ActionFlushDirect flushes the deferred queue directly toward
	// the sink, without a TDMA schedule. Used by members with no
	// cluster-head.
	ActionFlushDirect
	// ActionResetSinkCounters marks a round boundary on the sink node.
	// The sink keeps no per-round counters (its metrics are cumulative),
	// so the agent resets nothing for it beyond advancing the round.
	ActionResetSinkCounters
)

func (a Action) String() string {
	switch a {
	case ActionRunElection:
		return "run_election"
	case ActionArmAdvertiseTimer:
		return "arm_advertise_timer"
	case ActionSendJoinReply:
		return "send_join_reply"
	case ActionArmReplyTimer:
		return "arm_reply_timer"
	case ActionAssignSlots:
		return "assign_slots"
	case ActionFlushDirect:
		return "flush_direct"
	case ActionResetSinkCounters:
		return "reset_sink_counters"
	default:
		return fmt.Sprintf("ACTION(%d)", uint8(a))
	}
}

type phaseEvent struct {
	phase Phase
	event Event
}

// FSMResult is what ApplyEvent returns: the next phase plus the
// ordered list of actions the caller must execute.
type FSMResult struct {
	NextPhase Phase
	Actions   []Action
}

// fsmTable is the full transition table for non-SINK agents. SINK
// agents never call ApplyEvent with anything but EventRoundTimer from
// PhaseSink, handled as a special case below since it self-loops.
var fsmTable = map[phaseEvent]FSMResult{
	// Cold start and every round boundary: elect, then advertise.
	{PhaseIdle, EventRoundTimer}: {
		NextPhase: PhaseSetupAdvertise,
		Actions:   []Action{ActionRunElection, ActionArmAdvertiseTimer},
	},
	{PhaseSteady, EventRoundTimer}: {
		NextPhase: PhaseSetupAdvertise,
		Actions:   []Action{ActionRunElection, ActionArmAdvertiseTimer},
	},

	// End of the advertisement window: members that found a head move
	// to reply with AD_REP and wait for their TDMA slot.
	{PhaseSetupAdvertise, EventAdvertiseTimerJoin}: {
		NextPhase: PhaseSetupReply,
		Actions:   []Action{ActionSendJoinReply, ActionArmReplyTimer},
	},
	// Members that heard no advertisement skip straight to steady
	// state and send everything direct to the sink.
	{PhaseSetupAdvertise, EventAdvertiseTimerNoHead}: {
		NextPhase: PhaseSteady,
		Actions:   []Action{ActionFlushDirect},
	},

	// End of the reply window: cluster-heads assign TDMA slots to
	// their roster (a no-op roster yields no TT traffic but still
	// flushes); everyone else is already in steady state by now.
	{PhaseSetupReply, EventReplyTimer}: {
		NextPhase: PhaseSteady,
		Actions:   []Action{ActionAssignSlots},
	},
}

// ApplyEvent looks up the transition for (phase, event) and returns
// the next phase and the actions to execute. It is a pure function:
// all the branching that depends on agent state (role, whether a
// nearest head was found) must already be folded into which event was
// selected by the caller.
func ApplyEvent(phase Phase, event Event) (FSMResult, error) {
	if phase == PhaseSink {
		if event != EventRoundTimer {
			return FSMResult{}, fmt.Errorf("sink phase does not accept %s", event)
		}
		return FSMResult{NextPhase: PhaseSink, Actions: []Action{ActionResetSinkCounters}}, nil
	}

	result, ok := fsmTable[phaseEvent{phase, event}]
	if !ok {
		return FSMResult{}, fmt.Errorf("no transition for phase=%s event=%s", phase, event)
	}
	return result, nil
}
