package leach

import (
	"net/netip"

	"github.com/golang/geo/r2"
)

// MobilityProvider resolves a node address to its current position.
// An Agent reads its own position from it once, in NewAgent, and
// uses that position for every AD it sends and every squared-distance
// comparison against candidate cluster-heads.
type MobilityProvider interface {
	Position(addr netip.Addr) (r2.Point, bool)
}

// StaticMobilityProvider is a fixed address-to-position map. It is
// not a coordinate-file loader: callers populate it however they
// obtain node placement (generated grid, test fixture, config) and
// hand it to NewAgent.
type StaticMobilityProvider map[netip.Addr]r2.Point

func (m StaticMobilityProvider) Position(addr netip.Addr) (r2.Point, bool) {
	p, ok := m[addr]
	return p, ok
}

// NearestHead tracks the closest cluster-head candidate seen so far
// during one SETUP_ADVERTISE window.
type NearestHead struct {
	Addr    netip.Addr
	SqDist  float64
	Found   bool
}

// Consider updates nh if candidate is strictly closer than the
// current nearest (or nothing has been found yet).
func (nh *NearestHead) Consider(addr netip.Addr, pos r2.Point, candidate r2.Point) {
	d := pos.Sub(candidate).Norm2()
	if !nh.Found || d < nh.SqDist {
		nh.Addr = addr
		nh.SqDist = d
		nh.Found = true
	}
}

// Reset clears the nearest-head tracker at the start of a new
// SETUP_ADVERTISE window.
func (nh *NearestHead) Reset() {
	*nh = NearestHead{}
}
