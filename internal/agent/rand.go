package agent

import (
	"math/rand"
	"sync"
	"time"
)

// rngMu guards the package-level source; simulated fleets run many agents
// concurrently and math/rand's top-level functions are not safe to call
// from multiple goroutines with a custom source.
var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func randFloat() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

func uniform(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + randFloat()*(max-min)
}

func uniformDuration(minSec, maxSec int) time.Duration {
	if maxSec <= minSec {
		return time.Duration(minSec) * time.Second
	}
	span := maxSec - minSec
	rngMu.Lock()
	n := rng.Intn(span + 1)
	rngMu.Unlock()
	return time.Duration(minSec+n) * time.Second
}
