package leachmetrics_test

import (
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	leachmetrics "github.com/wsnsim/leach/internal/metrics"
)

func testNode() netip.Addr {
	return netip.MustParseAddr("10.0.0.1")
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := leachmetrics.NewCollector(reg)

	if c.PacketsSent == nil {
		t.Error("PacketsSent is nil")
	}
	if c.PacketsReceived == nil {
		t.Error("PacketsReceived is nil")
	}
	if c.PacketsDropped == nil {
		t.Error("PacketsDropped is nil")
	}
	if c.Elections == nil {
		t.Error("Elections is nil")
	}
	if c.SinkReceived == nil {
		t.Error("SinkReceived is nil")
	}
	if c.SinkLost == nil {
		t.Error("SinkLost is nil")
	}
	if c.RoleChanges == nil {
		t.Error("RoleChanges is nil")
	}
	if c.SlotAssignments == nil {
		t.Error("SlotAssignments is nil")
	}
	if c.DepletedNodes == nil {
		t.Error("DepletedNodes is nil")
	}

	// Verify all metrics are registered by gathering them.
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	// No data yet, so families may be empty -- but registration must not panic.
	_ = families
}

func TestNodeCollectorPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := leachmetrics.NewCollector(reg)
	node := c.ForNode(testNode())

	node.IncPacketsSent("AD")
	node.IncPacketsSent("AD")
	node.IncPacketsSent("TT")

	val := counterValue(t, c.PacketsSent, testNode().String(), "AD")
	if val != 2 {
		t.Errorf("PacketsSent[AD] = %v, want 2", val)
	}

	node.IncPacketsReceived("AD_REP")
	val = counterValue(t, c.PacketsReceived, testNode().String(), "AD_REP")
	if val != 1 {
		t.Errorf("PacketsReceived[AD_REP] = %v, want 1", val)
	}

	node.IncPacketsDropped("queue_full")
	node.IncPacketsDropped("queue_full")
	val = counterValue(t, c.PacketsDropped, testNode().String(), "queue_full")
	if val != 2 {
		t.Errorf("PacketsDropped[queue_full] = %v, want 2", val)
	}
}

func TestNodeCollectorElections(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := leachmetrics.NewCollector(reg)
	node := c.ForNode(testNode())

	node.IncElections()
	node.IncElections()

	val := counterValue(t, c.Elections, testNode().String())
	if val != 2 {
		t.Errorf("Elections = %v, want 2", val)
	}
}

func TestNodeCollectorSinkCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := leachmetrics.NewCollector(reg)
	node := c.ForNode(testNode())

	node.IncSinkReceived()
	node.IncSinkReceived()
	node.IncSinkReceived()
	node.IncSinkLost()

	m := &dto.Metric{}
	if err := c.SinkReceived.Write(m); err != nil {
		t.Fatalf("write SinkReceived: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 3 {
		t.Errorf("SinkReceived = %v, want 3", got)
	}

	m = &dto.Metric{}
	if err := c.SinkLost.Write(m); err != nil {
		t.Fatalf("write SinkLost: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("SinkLost = %v, want 1", got)
	}
}

func TestNodeCollectorRoleChanges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := leachmetrics.NewCollector(reg)
	node := c.ForNode(testNode())

	node.RecordRoleChange(testNode(), "CLUSTER_HEAD")
	node.RecordRoleChange(testNode(), "CLUSTER_HEAD")
	node.RecordRoleChange(testNode(), "MEMBER")

	val := counterValue(t, c.RoleChanges, testNode().String(), "CLUSTER_HEAD")
	if val != 2 {
		t.Errorf("RoleChanges[CLUSTER_HEAD] = %v, want 2", val)
	}

	val = counterValue(t, c.RoleChanges, testNode().String(), "MEMBER")
	if val != 1 {
		t.Errorf("RoleChanges[MEMBER] = %v, want 1", val)
	}
}

func TestNodeCollectorSlotAssignments(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := leachmetrics.NewCollector(reg)
	node := c.ForNode(testNode())

	node.IncSlotAssignments("head")
	node.IncSlotAssignments("head")
	node.IncSlotAssignments("member")

	val := counterValue(t, c.SlotAssignments, testNode().String(), "head")
	if val != 2 {
		t.Errorf("SlotAssignments[head] = %v, want 2", val)
	}
	val = counterValue(t, c.SlotAssignments, testNode().String(), "member")
	if val != 1 {
		t.Errorf("SlotAssignments[member] = %v, want 1", val)
	}
}

func TestCollectorDepletedNodes(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := leachmetrics.NewCollector(reg)

	c.IncDepletedNodes()
	c.IncDepletedNodes()

	m := &dto.Metric{}
	if err := c.DepletedNodes.Write(m); err != nil {
		t.Fatalf("write DepletedNodes: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 2 {
		t.Errorf("DepletedNodes = %v, want 2", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec with the given labels.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}

	return m.GetCounter().GetValue()
}
