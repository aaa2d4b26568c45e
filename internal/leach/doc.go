// Package leach implements the per-node control plane of a LEACH
// (Low-Energy Adaptive Clustering Hierarchy) routing agent: round
// scheduling, probabilistic cluster-head election with rotation
// fairness, the four control packet formats, TDMA slot scheduling,
// radio sleep/wake control, and role-conditioned forwarding.
//
// The package owns none of the surrounding simulation machinery —
// clock, RNG seeding, energy accounting, and the underlying IPv4/PHY
// stack are supplied by the caller through the small interfaces in
// route.go, clock.go and phy.go. An Agent is a self-contained actor:
// create one with NewAgent, feed it received wire packets through
// RecvPacket, and run its single goroutine with Run.
package leach
