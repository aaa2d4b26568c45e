package leach

import "math"

// RNGSource supplies the uniform [0,1) draw the election test
// consumes. Kept as an interface (rather than *rand.Rand directly) so
// tests can inject a deterministic or scripted sequence, the same way
// the round scheduler's timers are injected through Clock.
type RNGSource interface {
	Float64() float64
}

// EpochLength returns ceil(1/p), the number of rounds in one full
// rotation: every node is guaranteed to become cluster-head exactly
// once every EpochLength rounds, per the Heinzelman fairness
// guarantee.
func EpochLength(p float64) int {
	if p <= 0 {
		return 1
	}
	n := int(math.Ceil(1.0 / p))
	if n < 1 {
		return 1
	}
	return n
}

// Threshold computes T(n), the Heinzelman election threshold for a
// node that has not served as cluster-head within the current
// rotation epoch. roundInEpoch is the 0-based index of the current
// round since the epoch began (each node's counter wraps back to 0
// every EpochLength rounds, whether or not it served as head).
//
// T(n) = p / (1 - p*(r mod 1/p))
//
// A node that has already been head within the running epoch has
// threshold 0 and cannot be re-elected until the epoch resets.
func Threshold(p float64, roundInEpoch int) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	epoch := EpochLength(p)
	r := roundInEpoch % epoch
	denom := 1 - p*float64(r)
	if denom <= 0 {
		// Guards against the boundary the scheduler should never hit
		// in practice (roundInEpoch wrapped past the epoch length);
		// treat it as "definitely elect" rather than divide by <=0.
		return 1
	}
	return p / denom
}

// Elect draws from rng and compares against threshold, implementing
// the LEACH per-round coin flip: a node becomes cluster-head for this
// round iff the draw falls below T(n).
func Elect(rng RNGSource, threshold float64) bool {
	if threshold <= 0 {
		return false
	}
	return rng.Float64() < threshold
}
