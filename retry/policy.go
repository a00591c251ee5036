// Package retry decides what happens to a job after a failed render attempt.
//
// The base policy is bounded and immediate: a failed job goes straight back
// to the queue until its attempt quota is spent, then fails terminally.
// A [Strategy] may be configured to delay eligibility of requeued jobs.
package retry

import "time"

// Decision is the outcome of a failed attempt.
type Decision int

const (
	// Requeue returns the job to the queue for another attempt.
	Requeue Decision = iota + 1
	// GiveUp fails the job terminally.
	GiveUp
)

func (d Decision) String() string {
	switch d {
	case Requeue:
		return "requeue"
	case GiveUp:
		return "give_up"
	default:
		return "unknown"
	}
}

// DefaultMaxAttempts is the attempt quota of jobs that do not set their own.
const DefaultMaxAttempts = 3

// Policy bounds attempts and schedules requeued jobs.
type Policy struct {
	// MaxAttempts is the default quota for new jobs.
	MaxAttempts int
	// Backoff delays requeued jobs. Nil means None.
	Backoff Strategy
}

// DefaultPolicy returns three attempts with immediate requeue.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Backoff: None{}}
}

// Decide returns Requeue while attempts remain and GiveUp otherwise.
func (p Policy) Decide(attempts, maxAttempts int) Decision {
	if attempts < maxAttempts {
		return Requeue
	}
	return GiveUp
}

// RetryAt returns when a job that just failed the given attempt becomes
// eligible again.
func (p Policy) RetryAt(now time.Time, attempt int) time.Time {
	if p.Backoff == nil {
		return now
	}
	d := p.Backoff.Delay(attempt)
	if d <= 0 {
		return now
	}
	return now.Add(d)
}

// Quota returns requested when positive and the policy default otherwise.
func (p Policy) Quota(requested int) int {
	if requested > 0 {
		return requested
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}
