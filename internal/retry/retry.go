// Package retry computes backoff delays for failed reconciliations.
//
// A Policy is immutable configuration shared by every resource of a
// controller. Each failure sequence of a single resource gets its own
// Execution, created with Policy.InitExecution and discarded when a
// reconciliation succeeds or a fresh event supersedes it.
package retry

import (
	"fmt"
	"math"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// DefaultMaxAttempts is the number of retries scheduled before a failure
	// becomes terminal.
	DefaultMaxAttempts = 5

	// DefaultInitialInterval is the delay before the first retry.
	DefaultInitialInterval = time.Second

	// DefaultMultiplier grows the interval between consecutive retries.
	DefaultMultiplier = 2.0

	// DefaultMaxInterval caps the interval between retries.
	DefaultMaxInterval = 5 * time.Minute

	// Unlimited disables the attempt limit or the interval cap when passed to
	// WithMaxAttempts or WithMaxInterval.
	Unlimited = -1
)

// Policy describes a bounded exponential backoff.
type Policy struct {
	maxAttempts     int
	initialInterval time.Duration
	multiplier      float64
	maxInterval     time.Duration
}

// Option customizes a Policy.
type Option func(*Policy)

// WithMaxAttempts sets the number of retries. Zero disables retrying,
// Unlimited removes the limit.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) { p.maxAttempts = n }
}

// WithInitialInterval sets the delay before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(p *Policy) { p.initialInterval = d }
}

// WithMultiplier sets the growth factor between consecutive delays.
func WithMultiplier(m float64) Option {
	return func(p *Policy) { p.multiplier = m }
}

// WithMaxInterval caps the delay. Pass Unlimited to remove the cap.
func WithMaxInterval(d time.Duration) Option {
	return func(p *Policy) { p.maxInterval = d }
}

// New builds a Policy from the defaults and the given options.
func New(opts ...Option) Policy {
	p := Policy{
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
		multiplier:      DefaultMultiplier,
		maxInterval:     DefaultMaxInterval,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Default returns the default limited exponential policy.
func Default() Policy {
	return New()
}

// NoRetry returns a policy that never schedules a retry.
func NoRetry() Policy {
	return New(WithMaxAttempts(0))
}

// Linear returns a policy retrying attempts times with a constant interval.
func Linear(attempts int, interval time.Duration) Policy {
	return New(WithMaxAttempts(attempts), WithInitialInterval(interval), WithMultiplier(1))
}

// MaxAttempts returns the configured number of retries.
func (p Policy) MaxAttempts() int { return p.maxAttempts }

// InitialInterval returns the delay before the first retry.
func (p Policy) InitialInterval() time.Duration { return p.initialInterval }

// Multiplier returns the growth factor.
func (p Policy) Multiplier() float64 { return p.multiplier }

// MaxInterval returns the delay cap, or Unlimited.
func (p Policy) MaxInterval() time.Duration { return p.maxInterval }

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.maxAttempts < Unlimited {
		return fmt.Errorf("max attempts must be >= %d, got %d", Unlimited, p.maxAttempts)
	}
	if p.initialInterval <= 0 {
		return fmt.Errorf("initial interval must be positive, got %v", p.initialInterval)
	}
	if p.multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %v", p.multiplier)
	}
	if p.maxInterval != Unlimited && p.maxInterval < p.initialInterval {
		return fmt.Errorf("max interval %v is lower than initial interval %v", p.maxInterval, p.initialInterval)
	}
	return nil
}

// InitExecution starts a new failure sequence.
func (p Policy) InitExecution() *Execution {
	b := wait.Backoff{
		Duration: p.initialInterval,
		Factor:   p.multiplier,
		// Step stops growing once Steps reaches zero; the attempt limit is
		// enforced by Execution, so keep the backoff itself unbounded.
		Steps: int(^uint32(0) >> 1),
	}
	if p.maxInterval != Unlimited {
		b.Cap = p.maxInterval
	}
	return &Execution{policy: p, backoff: b}
}

// Execution tracks the attempts of one failure sequence. It is not safe for
// concurrent use; the event processor only touches it from the single
// in-flight reconciliation of its resource.
type Execution struct {
	policy  Policy
	backoff wait.Backoff
	attempt int
}

// NextDelay consumes an attempt and returns the delay before it should run.
// It reports false once the attempts are exhausted.
func (e *Execution) NextDelay() (time.Duration, bool) {
	if e.exhausted() {
		return 0, false
	}
	e.attempt++
	d := e.backoff.Step()
	if e.backoff.Duration <= 0 {
		// The next interval overflowed time.Duration; hold the longest one.
		e.backoff.Duration = e.policy.longestInterval()
		e.backoff.Factor = 0
	}
	return d, true
}

func (p Policy) longestInterval() time.Duration {
	if p.maxInterval != Unlimited {
		return p.maxInterval
	}
	return time.Duration(math.MaxInt64)
}

// Attempt returns the number of retries scheduled so far.
func (e *Execution) Attempt() int {
	return e.attempt
}

// IsLastAttempt reports whether no further retry will be scheduled.
func (e *Execution) IsLastAttempt() bool {
	return e.exhausted()
}

func (e *Execution) exhausted() bool {
	return e.policy.maxAttempts != Unlimited && e.attempt >= e.policy.maxAttempts
}

// String implements fmt.Stringer.
func (e *Execution) String() string {
	return fmt.Sprintf("attempt %d/%d", e.attempt, e.policy.maxAttempts)
}
