package leach

import "net/netip"

// RoleChangeFunc is invoked whenever an agent's role changes at a
// round boundary (election result, or demotion back to member).
// Callers use it to drive external observability (e.g. a routing
// table printer or a role gauge) without the agent importing those
// concerns directly.
type RoleChangeFunc func(addr netip.Addr, role Role, round int)

// SlotAssignedFunc is invoked on a member when it receives a TT
// packet assigning it a TDMA slot for the current round.
type SlotAssignedFunc func(addr netip.Addr, slotStart, slotDuration int64)
