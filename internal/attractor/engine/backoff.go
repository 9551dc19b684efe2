package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// BackoffPolicy controls the exponential retry delay computation.
type BackoffPolicy struct {
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Jitter        bool
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		Jitter:        true,
	}
}

// Delay computes the backoff delay for the given attempt (1-indexed):
//
//	delay = min(initial_delay * backoff_factor^(attempt-1), max_delay)
//
// When Jitter is enabled the delay is multiplied by a value in [0.5, 1.5)
// derived deterministically from seed (run_id:node_id:attempt) via a
// sha256 hash, rather than math/rand, so that a checkpoint-resumed run
// recomputes exactly the same delays a continuous run would have used.
func (p BackoffPolicy) Delay(attempt int, seed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := p.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	raw := float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1))
	d := time.Duration(raw)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if !p.Jitter {
		return d
	}
	mult := deterministicJitter(seed)
	return time.Duration(float64(d) * mult)
}

// deterministicJitter maps sha256(seed) onto [0.5, 1.5).
func deterministicJitter(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	n := binary.BigEndian.Uint64(sum[:8])
	frac := float64(n) / float64(math.MaxUint64) // [0, 1)
	return 0.5 + frac
}

// RetrySeed builds the deterministic jitter seed for a retry attempt.
func RetrySeed(runID, nodeID string, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", runID, nodeID, attempt)
}
