package evo

import (
	"math/rand"
	"time"
)

// Rand is the subset of *rand.Rand the engine draws from.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// StreamFactory hands out an independent random stream per replicate so the
// outcome of a replicate never depends on scheduling order.
type StreamFactory interface {
	Stream(cycle, seedIndex, replicate int) Rand
}

// SeededStreams derives per-replicate math/rand sources from one run seed.
type SeededStreams struct {
	Seed int64
}

func (s SeededStreams) Stream(cycle, seedIndex, replicate int) Rand {
	h := splitmix64(uint64(s.Seed))
	h = splitmix64(h ^ uint64(cycle))
	h = splitmix64(h ^ uint64(seedIndex))
	h = splitmix64(h ^ uint64(replicate))
	return rand.New(rand.NewSource(int64(h)))
}

// NewRunSeed is used when a run does not pin a seed. The chosen value is kept
// on the controller so the run can be replayed.
func NewRunSeed() int64 {
	seed := time.Now().UnixNano()
	if seed == 0 {
		seed = 1
	}
	return seed
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
