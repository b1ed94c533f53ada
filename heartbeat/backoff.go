package heartbeat

import (
	rand "math/rand/v2"
	"time"
)

const backoffMultiplier = 2.0

// retryBackoff returns the delay before re-probing after an ack timeout.
//
// Decorrelated jitter with a cap: the first retry waits base, later ones a
// random delay in [base, prev*multiplier), never above capDur.
func retryBackoff(prev, base, capDur time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	span := time.Duration(float64(prev)*backoffMultiplier) - base
	if span <= 0 {
		span = base
	}
	var jitter int64
	if rng != nil {
		jitter = rng.Int64N(int64(span))
	} else {
		jitter = rand.Int64N(int64(span)) //nolint:gosec // non-crypto backoff jitter
	}

	next := base + time.Duration(jitter)
	if capDur > 0 && next > capDur {
		return capDur
	}
	return next
}

// newBackoffRNG returns a seeded generator, or nil for seed 0 so callers
// fall back to the package-level PRNG.
//
//nolint:gosec
func newBackoffRNG(seed int64) *rand.Rand {
	if seed == 0 {
		return nil
	}
	s1 := uint64(seed)
	return rand.New(rand.NewPCG(s1, s1^0x9e3779b97f4a7c15))
}
