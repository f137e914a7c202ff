// Package retry decides how the engine reacts to a failed remote or local operation.
//
// [Policy.Decide] is a pure function of the failure kind and attempt number;
// callers own the sleeping, resyncing and restarting it asks for.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/desertthunder/ytup/internal/models"
)

// Action is what the caller should do next.
type Action int

const (
	// RetryNow repeats the failed operation immediately.
	RetryNow Action = iota
	// RetryAfter repeats the failed operation after [Decision.Delay].
	RetryAfter
	// ResyncThenRetry asks the remote for its committed offset before retrying.
	ResyncThenRetry
	// Restart discards the remote session and starts again from offset zero.
	Restart
	// GiveUp stops; [Decision.Fatal] tells whether the unit failed or merely paused.
	GiveUp
)

func (a Action) String() string {
	switch a {
	case RetryNow:
		return "retry-now"
	case RetryAfter:
		return "retry-after"
	case ResyncThenRetry:
		return "resync-then-retry"
	case Restart:
		return "restart"
	case GiveUp:
		return "give-up"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Failure is the classified input to a decision.
type Failure struct {
	Kind models.FailureKind
	// SuggestedDelay is a server hint such as Retry-After; zero when absent.
	SuggestedDelay time.Duration
}

// Decision is the output of [Policy.Decide].
type Decision struct {
	Action Action
	Delay  time.Duration
	Fatal  bool
}

// Policy holds backoff parameters.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Multiplier grows the delay per attempt.
	Multiplier float64
	// Ceiling caps every delay, jitter included.
	Ceiling time.Duration
	// MaxRetries is the number of consecutive failures tolerated before giving up.
	MaxRetries int
	// JitterFraction spreads delays by +/- this fraction (0.0-1.0).
	JitterFraction float64
	// MaxAnomalies is how many protocol anomalies one session absorbs before it is restarted.
	MaxAnomalies int
	// Rand returns values in [0, 1); defaults to math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		Base:           2 * time.Second,
		Multiplier:     2.0,
		Ceiling:        300 * time.Second,
		MaxRetries:     5,
		JitterFraction: 0.2,
		MaxAnomalies:   3,
	}
}

// Decide maps a failure and its 1-based consecutive attempt number onto a [Decision].
func (p Policy) Decide(f Failure, attempt int) Decision {
	switch f.Kind {
	case models.FailureAuthRejected, models.FailurePermanentRequest, models.FailureSourceChanged,
		models.FailureSourceUnreadable, models.FailureSourceNotFound, models.FailureRemoteRejected:
		return Decision{Action: GiveUp, Fatal: true}
	case models.FailureQuotaDeniedToday, models.FailureCancelled:
		return Decision{Action: GiveUp}
	}

	if attempt > p.MaxRetries {
		return Decision{Action: GiveUp}
	}

	switch f.Kind {
	case models.FailureProtocolAnomaly:
		return Decision{Action: ResyncThenRetry}
	case models.FailureSessionExpired:
		return Decision{Action: Restart}
	case models.FailureQuotaExceeded:
		d := p.Delay(attempt)
		if f.SuggestedDelay > d {
			d = min(f.SuggestedDelay, p.Ceiling)
		}
		return Decision{Action: RetryAfter, Delay: d}
	case models.FailureIOFault:
		return Decision{Action: RetryAfter, Delay: p.Delay(attempt)}
	default:
		d := p.Delay(attempt)
		if f.SuggestedDelay > d {
			d = min(f.SuggestedDelay, p.Ceiling)
		}
		return Decision{Action: ResyncThenRetry, Delay: d}
	}
}

// Backoff returns the pre-jitter delay for attempt: Base * Multiplier^(attempt-1), capped at Ceiling.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(p.Ceiling) {
		return p.Ceiling
	}
	return time.Duration(d)
}

// Delay returns [Policy.Backoff] with jitter applied, clamped to [0, Ceiling].
func (p Policy) Delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	d += p.jitter(d)
	if d < 0 {
		return 0
	}
	if d > p.Ceiling {
		return p.Ceiling
	}
	return d
}

// jitter returns a random duration in range [-fraction*d, +fraction*d].
func (p Policy) jitter(d time.Duration) time.Duration {
	if p.JitterFraction <= 0 {
		return 0
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	span := float64(d) * p.JitterFraction
	return time.Duration((r() - 0.5) * 2 * span)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Classifier maps an error onto a [Failure].
type Classifier func(error) Failure

// Do runs fn until it succeeds or the policy gives up. Resync and restart
// decisions are treated as plain retries, which suits single-request calls.
func Do(ctx context.Context, p Policy, classify Classifier, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		decision := p.Decide(classify(err), attempt)
		if decision.Action == GiveUp {
			if decision.Fatal {
				return err
			}
			return fmt.Errorf("max retries exceeded: %w", err)
		}

		if err := Sleep(ctx, decision.Delay); err != nil {
			return err
		}
	}
}
