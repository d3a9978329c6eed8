package condition

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Rand is the randomness used to roll randomized targets.
// *rand.Rand satisfies it.
type Rand interface {
	Int63n(n int64) int64
}

// NewLockedRand returns a Rand seeded with seed that is safe for concurrent use.
func NewLockedRand(seed int64) Rand {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (r *lockedRand) Int63n(n int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63n(n)
}

var defaultRand = NewLockedRand(time.Now().UnixNano())

// SetDefaultRand replaces the source used when callers pass a nil Rand.
func SetDefaultRand(r Rand) {
	if r != nil {
		defaultRand = r
	}
}

func pick(r Rand) Rand {
	if r == nil {
		return defaultRand
	}
	return r
}

// rollInt64 returns a uniform value in [lo, hi]. Spans wider than
// math.MaxInt64 are drawn from [lo, lo+math.MaxInt64).
func rollInt64(r Rand, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	n := int64(math.MaxInt64)
	if span := uint64(hi) - uint64(lo); span < math.MaxInt64 {
		n = int64(span) + 1
	}
	return lo + pick(r).Int63n(n)
}

func rollDuration(r Rand, lo, hi time.Duration) time.Duration {
	return time.Duration(rollInt64(r, int64(lo), int64(hi)))
}
