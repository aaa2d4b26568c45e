package leach

import "sync"

// PacketPool recycles fixed-size buffers for inbound wire reads,
// avoiding a per-packet allocation on the receive hot path.
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPacketSize)
		return &buf
	},
}
