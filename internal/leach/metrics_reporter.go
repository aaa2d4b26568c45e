package leach

import "net/netip"

// MetricsReporter is the small interface an Agent calls into for
// observability, decoupling internal/leach from internal/metrics the
// same way the packet sender and mobility provider are decoupled.
// internal/metrics.Collector implements this interface; tests use the
// noop default or a recording stub.
type MetricsReporter interface {
	IncPacketsSent(kind string)
	IncPacketsReceived(kind string)
	IncPacketsDropped(reason string)
	IncElections()
	IncSinkReceived()
	IncSinkLost()
	RecordRoleChange(addr netip.Addr, role string)
	IncSlotAssignments(side string)
}

type noopMetrics struct{}

func (noopMetrics) IncPacketsSent(string)                {}
func (noopMetrics) IncPacketsReceived(string)             {}
func (noopMetrics) IncPacketsDropped(string)              {}
func (noopMetrics) IncElections()                         {}
func (noopMetrics) IncSinkReceived()                      {}
func (noopMetrics) IncSinkLost()                          {}
func (noopMetrics) RecordRoleChange(netip.Addr, string) {}
func (noopMetrics) IncSlotAssignments(string)           {}
