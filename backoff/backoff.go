// Package backoff provides pluggable wait strategies for queue polling.
// A listener that keeps finding an empty channel should poll less and less
// often; a strategy maps the count of consecutive empty polls to the next
// wait. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the wait before the next poll.
type Strategy interface {
	// Delay returns how long to wait after the n-th consecutive empty
	// poll (1-indexed).
	Delay(idle int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always waits the same interval. This is the classic fixed-rate
// poller and the default for listeners.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant wait strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the wait on every consecutive empty poll.
// Delay = min(Initial * 2^(idle-1), Max). A delivery resets the idle count,
// so a busy channel is polled at Initial again.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential wait strategy.
func NewExponential(initial, maxWait time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxWait}
}

// Delay returns Initial * 2^(idle-1), capped at Max.
func (e *Exponential) Delay(idle int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(idle-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(idle-1), Max)]. Jitter
// spreads out a fleet of pollers that went idle at the same moment, so
// they do not hit the store in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential wait strategy with full
// jitter.
func NewExponentialWithJitter(initial, maxWait time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxWait}
}

// Delay returns a random duration in [0, min(Initial * 2^(idle-1), Max)].
func (e *ExponentialWithJitter) Delay(idle int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(idle-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}
