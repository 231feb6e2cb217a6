// Package backoff computes the delays between request retries.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Backoff describes a bounded exponential backoff schedule. The base
// delay for attempt n is Initial*Factor^n, capped at Max; a random
// jitter in [0, Jitter) is added on top so that concurrent clients
// don't retry in lockstep.
type Backoff struct {
	Initial time.Duration
	Jitter  time.Duration
	Factor  float64
	Max     time.Duration
}

// Default is the schedule the client uses: 10ms doubling up to 1s,
// with up to 5ms of jitter.
func Default() Backoff {
	return Backoff{
		Initial: 10 * time.Millisecond,
		Jitter:  5 * time.Millisecond,
		Factor:  2,
		Max:     time.Second,
	}
}

// Duration returns the delay to sleep before retry attempt `attempt`,
// counting from zero for the first retry.
func (b Backoff) Duration(attempt int) time.Duration {
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	ret := time.Duration(d)
	if b.Jitter > 0 {
		ret += time.Duration(rand.Int63n(int64(b.Jitter)))
	}
	return ret
}
