package leach

import "math/rand/v2"

// defaultRNG wraps math/rand/v2's PCG source behind the RNGSource
// interface so NewAgent has a usable default without forcing callers
// to supply one.
type defaultRNG struct {
	r *rand.Rand
}

// NewDefaultRNG seeds a new PCG-backed RNGSource. Two agents seeded
// with the same value draw identical sequences; callers that need
// reproducible multi-node runs should derive distinct seeds per node
// rather than sharing one RNGSource across agents.
func NewDefaultRNG(seed1, seed2 uint64) RNGSource {
	return &defaultRNG{r: rand.New(rand.NewPCG(seed1, seed2))}
}

func (d *defaultRNG) Float64() float64 {
	return d.r.Float64()
}
