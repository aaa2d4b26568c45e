package leachmetrics

import (
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "leach"
	subsystem = "node"
)

// Label names for LEACH metrics.
const (
	labelNodeAddr = "node_addr"
	labelKind     = "kind"
	labelReason   = "reason"
	labelRole     = "role"
	labelSide     = "side"
)

// -------------------------------------------------------------------------
// Collector — Prometheus LEACH Metrics
// -------------------------------------------------------------------------

// Collector holds all LEACH Prometheus metrics.
//
//   - Packet counters track TX/RX/drop volumes per control packet kind.
//   - Elections counts the rounds a node won cluster-head status.
//   - SinkReceived/SinkLost tally end-to-end delivery at the sink.
//   - RoleChanges records MEMBER/CLUSTER_HEAD transitions for
//     alerting on unstable elections.
type Collector struct {
	// PacketsSent counts control packets transmitted per node, labeled
	// by kind (AD, AD_REP, TT, MSG).
	PacketsSent *prometheus.CounterVec

	// PacketsReceived counts control packets received per node, labeled
	// by kind.
	PacketsReceived *prometheus.CounterVec

	// PacketsDropped counts control packets dropped per node, labeled
	// by reason (decode_error, invalid_slot, role_mismatch, unknown_kind).
	PacketsDropped *prometheus.CounterVec

	// Elections counts the number of rounds each node became cluster
	// head.
	Elections *prometheus.CounterVec

	// SinkReceived counts MSG packets successfully delivered to the
	// sink.
	SinkReceived prometheus.Counter

	// SinkLost counts MSG packets a cluster-head failed to forward to
	// the sink. Deferred packets that expire in a queue are not counted.
	SinkLost prometheus.Counter

	// RoleChanges counts role transitions per node, labeled by the
	// role entered.
	RoleChanges *prometheus.CounterVec

	// SlotAssignments counts TDMA slots handed out per node: once on
	// the cluster-head side when it computes a member's window, and
	// once on the member side when it accepts the TT carrying it.
	SlotAssignments *prometheus.CounterVec

	// DepletedNodes counts nodes whose energy reached zero. The LEACH
	// agent itself is never informed of depletion (the energy model is
	// an external collaborator); this counter exists for that
	// collaborator to report through, not for internal/leach to drive.
	DepletedNodes prometheus.Counter
}

// NewCollector creates a Collector with all LEACH metrics registered against
// the provided prometheus.Registerer. If reg is nil, prometheus.DefaultRegisterer
// is used.
//
// All metrics are created with the "leach_node_" prefix (namespace_subsystem)
// to avoid collisions with other exporters.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.Elections,
		c.SinkReceived,
		c.SinkLost,
		c.RoleChanges,
		c.SlotAssignments,
		c.DepletedNodes,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	nodeKindLabels := []string{labelNodeAddr, labelKind}
	nodeReasonLabels := []string{labelNodeAddr, labelReason}
	nodeLabels := []string{labelNodeAddr}
	roleLabels := []string{labelNodeAddr, labelRole}
	sideLabels := []string{labelNodeAddr, labelSide}

	return &Collector{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total LEACH control packets transmitted, by kind.",
		}, nodeKindLabels),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total LEACH control packets received, by kind.",
		}, nodeKindLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total LEACH control packets dropped, by reason.",
		}, nodeReasonLabels),

		Elections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "elections_total",
			Help:      "Total rounds each node was elected cluster head.",
		}, nodeLabels),

		SinkReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sink_received_total",
			Help:      "Total application MSG packets delivered to the sink.",
		}),

		SinkLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sink_lost_total",
			Help:      "Total application MSG packets a cluster head failed to forward to the sink.",
		}),

		RoleChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "role_changes_total",
			Help:      "Total role transitions per node, by role entered.",
		}, roleLabels),

		SlotAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slot_assignments_total",
			Help:      "Total TDMA slots assigned per node, by side (head or member).",
		}, sideLabels),

		DepletedNodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "depleted_nodes_total",
			Help:      "Total nodes whose energy reached zero, reported by the external energy collaborator.",
		}),
	}
}

// -------------------------------------------------------------------------
// leach.MetricsReporter implementation
// -------------------------------------------------------------------------

// NodeCollector adapts a shared Collector to leach.MetricsReporter for one
// node address, so a single Prometheus registry can serve every agent in
// the simulated network without each Agent needing its own registry.
type NodeCollector struct {
	addr string
	c    *Collector
}

// ForNode returns a leach.MetricsReporter that labels every observation
// with addr.
func (c *Collector) ForNode(addr netip.Addr) *NodeCollector {
	return &NodeCollector{addr: addr.String(), c: c}
}

func (n *NodeCollector) IncPacketsSent(kind string) {
	n.c.PacketsSent.WithLabelValues(n.addr, kind).Inc()
}

func (n *NodeCollector) IncPacketsReceived(kind string) {
	n.c.PacketsReceived.WithLabelValues(n.addr, kind).Inc()
}

func (n *NodeCollector) IncPacketsDropped(reason string) {
	n.c.PacketsDropped.WithLabelValues(n.addr, reason).Inc()
}

func (n *NodeCollector) IncElections() {
	n.c.Elections.WithLabelValues(n.addr).Inc()
}

func (n *NodeCollector) IncSinkReceived() {
	n.c.SinkReceived.Inc()
}

func (n *NodeCollector) IncSinkLost() {
	n.c.SinkLost.Inc()
}

func (n *NodeCollector) RecordRoleChange(_ netip.Addr, role string) {
	n.c.RoleChanges.WithLabelValues(n.addr, role).Inc()
}

func (n *NodeCollector) IncSlotAssignments(side string) {
	n.c.SlotAssignments.WithLabelValues(n.addr, side).Inc()
}

// IncDepletedNodes increments the cluster-wide depleted-node counter.
// Nothing in internal/leach calls this: the agent is never informed of
// its own depletion, so only an external energy collaborator wired in
// by the caller reports through it.
func (c *Collector) IncDepletedNodes() {
	c.DepletedNodes.Inc()
}
