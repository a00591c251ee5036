package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes how long a failed job waits before it is eligible again.
// Strategies are stateless and safe for concurrent use.
type Strategy interface {
	// Delay returns the wait after the given failed attempt (1-indexed).
	Delay(attempt int) time.Duration
}

// None requeues immediately.
type None struct{}

// Delay always returns zero.
func (None) Delay(int) time.Duration { return 0 }

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(int) time.Duration {
	return c.Interval
}

// Exponential doubles the wait each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return time.Duration(exponentialBase(e.Initial, e.Max, attempt))
}

// ExponentialWithJitter applies full jitter to an exponential base so that
// jobs failed by the same renderer outage do not all come back at once.
// Delay = random value in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponentialBase(e.Initial, e.Max, attempt)
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func exponentialBase(initial, maxDelay time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && base > float64(maxDelay) {
		return float64(maxDelay)
	}
	if base > math.MaxInt64 {
		return math.MaxInt64
	}
	return base
}

// ParseStrategy builds a Strategy from a short name as used in
// configuration: "none", "constant", "exponential" or "jitter".
func ParseStrategy(name string, initial, maxDelay time.Duration) (Strategy, bool) {
	switch name {
	case "", "none":
		return None{}, true
	case "constant":
		return NewConstant(initial), true
	case "exponential":
		return NewExponential(initial, maxDelay), true
	case "jitter":
		return NewExponentialWithJitter(initial, maxDelay), true
	default:
		return nil, false
	}
}
