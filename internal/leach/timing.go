package leach

import "time"

// Default round timing, matched to the values commonly used in
// LEACH simulation studies. Nodes configured with AgentConfig.Zero
// values fall back to these through applyDefaults.
const (
	DefaultRoundInterval     = 3 * time.Second
	DefaultAdvertiseInterval = 250 * time.Millisecond
	DefaultReplyInterval     = 1 * time.Second
	DefaultElectionProb      = 0.05
	DefaultMaxQueueLen       = 64
	DefaultMaxQueueTime      = 30 * time.Second
)

// slotWidth returns the TDMA slot width a cluster-head assigns every
// roster member for the current round: the time left in the round
// after the advertise and reply windows close, split evenly across
// the roster plus the cluster-head's own slot. A round configured too
// short for its advertise/reply windows yields a zero width, which
// the receiving member treats as an invalid assignment.
func slotWidth(cfg AgentConfig, rosterLen int) time.Duration {
	remaining := cfg.RoundInterval - cfg.AdvertiseInterval - cfg.ReplyInterval
	if remaining <= 0 {
		return 0
	}
	return remaining / time.Duration(rosterLen+1)
}

func applyDefaults(cfg *AgentConfig) {
	if cfg.RoundInterval <= 0 {
		cfg.RoundInterval = DefaultRoundInterval
	}
	if cfg.AdvertiseInterval <= 0 {
		cfg.AdvertiseInterval = DefaultAdvertiseInterval
	}
	if cfg.ReplyInterval <= 0 {
		cfg.ReplyInterval = DefaultReplyInterval
	}
	if cfg.ElectionProb <= 0 {
		cfg.ElectionProb = DefaultElectionProb
	}
	if cfg.MaxQueueLen <= 0 {
		cfg.MaxQueueLen = DefaultMaxQueueLen
	}
	if cfg.MaxQueueTime <= 0 {
		cfg.MaxQueueTime = DefaultMaxQueueTime
	}
}
