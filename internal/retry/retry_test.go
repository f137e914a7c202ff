package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/ytup/internal/models"
)

func fixedRand(v float64) func() float64 { return func() float64 { return v } }

func TestDecide(t *testing.T) {
	p := DefaultPolicy()
	p.JitterFraction = 0

	tc := []struct {
		name    string
		failure Failure
		attempt int
		want    Decision
	}{
		{name: "auth rejected gives up at once", failure: Failure{Kind: models.FailureAuthRejected}, attempt: 1, want: Decision{Action: GiveUp, Fatal: true}},
		{name: "bad request gives up at once", failure: Failure{Kind: models.FailurePermanentRequest}, attempt: 1, want: Decision{Action: GiveUp, Fatal: true}},
		{name: "source changed gives up", failure: Failure{Kind: models.FailureSourceChanged}, attempt: 1, want: Decision{Action: GiveUp, Fatal: true}},
		{name: "missing source gives up", failure: Failure{Kind: models.FailureSourceNotFound}, attempt: 1, want: Decision{Action: GiveUp, Fatal: true}},
		{name: "denied today pauses", failure: Failure{Kind: models.FailureQuotaDeniedToday}, attempt: 1, want: Decision{Action: GiveUp}},
		{name: "transient resyncs after backoff", failure: Failure{Kind: models.FailureTransient}, attempt: 1, want: Decision{Action: ResyncThenRetry, Delay: 2 * time.Second}},
		{name: "transient third attempt", failure: Failure{Kind: models.FailureTransient}, attempt: 3, want: Decision{Action: ResyncThenRetry, Delay: 8 * time.Second}},
		{name: "transient honours retry-after", failure: Failure{Kind: models.FailureTransient, SuggestedDelay: 30 * time.Second}, attempt: 1, want: Decision{Action: ResyncThenRetry, Delay: 30 * time.Second}},
		{name: "quota exceeded waits", failure: Failure{Kind: models.FailureQuotaExceeded}, attempt: 2, want: Decision{Action: RetryAfter, Delay: 4 * time.Second}},
		{name: "quota hint capped at ceiling", failure: Failure{Kind: models.FailureQuotaExceeded, SuggestedDelay: time.Hour}, attempt: 1, want: Decision{Action: RetryAfter, Delay: 300 * time.Second}},
		{name: "anomaly resyncs immediately", failure: Failure{Kind: models.FailureProtocolAnomaly}, attempt: 1, want: Decision{Action: ResyncThenRetry}},
		{name: "expired session restarts", failure: Failure{Kind: models.FailureSessionExpired}, attempt: 1, want: Decision{Action: Restart}},
		{name: "local read fault retries", failure: Failure{Kind: models.FailureIOFault}, attempt: 1, want: Decision{Action: RetryAfter, Delay: 2 * time.Second}},
		{name: "unknown treated as transient", failure: Failure{Kind: models.FailureUnknown}, attempt: 1, want: Decision{Action: ResyncThenRetry, Delay: 2 * time.Second}},
		{name: "last allowed retry", failure: Failure{Kind: models.FailureTransient}, attempt: 5, want: Decision{Action: ResyncThenRetry, Delay: 32 * time.Second}},
		{name: "exhausted pauses", failure: Failure{Kind: models.FailureTransient}, attempt: 6, want: Decision{Action: GiveUp}},
		{name: "exhausted restarts pause too", failure: Failure{Kind: models.FailureSessionExpired}, attempt: 6, want: Decision{Action: GiveUp}},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.failure, tt.attempt)
			if got != tt.want {
				t.Errorf("Decide(%s, %d) = {%s %v %v}, want {%s %v %v}",
					tt.failure.Kind, tt.attempt, got.Action, got.Delay, got.Fatal, tt.want.Action, tt.want.Delay, tt.want.Fatal)
			}
		})
	}
}

func TestBackoffMonotonic(t *testing.T) {
	p := DefaultPolicy()

	prev := time.Duration(0)
	for attempt := 1; attempt <= 64; attempt++ {
		d := p.Backoff(attempt)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v decreased from %v", attempt, d, prev)
		}
		if d > p.Ceiling {
			t.Fatalf("Backoff(%d) = %v exceeds ceiling %v", attempt, d, p.Ceiling)
		}
		prev = d
	}

	if p.Backoff(64) != p.Ceiling {
		t.Errorf("expected large attempts to settle at the ceiling, got %v", p.Backoff(64))
	}
	if p.Backoff(0) != p.Base {
		t.Errorf("Backoff(0) = %v, want base %v", p.Backoff(0), p.Base)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	tc := []struct {
		name    string
		rand    float64
		attempt int
		want    time.Duration
	}{
		{name: "midpoint adds nothing", rand: 0.5, attempt: 1, want: 2 * time.Second},
		{name: "low end subtracts fraction", rand: 0, attempt: 1, want: 1600 * time.Millisecond},
		{name: "high end adds fraction", rand: 1, attempt: 2, want: 4800 * time.Millisecond},
		{name: "clamped to ceiling", rand: 1, attempt: 20, want: 300 * time.Second},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			p.Rand = fixedRand(tt.rand)
			if got := p.Delay(tt.attempt); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}

	t.Run("random jitter stays within fraction", func(t *testing.T) {
		p := DefaultPolicy()
		for i := 0; i < 200; i++ {
			d := p.Delay(3)
			if d < 6400*time.Millisecond || d > 9600*time.Millisecond {
				t.Fatalf("Delay(3) = %v outside +/-20%% of 8s", d)
			}
		}
	})
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("zero sleep should return immediately, got %v", err)
	}
}

func TestDo(t *testing.T) {
	p := Policy{Base: time.Millisecond, Multiplier: 2, Ceiling: 5 * time.Millisecond, MaxRetries: 3}
	transient := errors.New("flaky")
	fatal := errors.New("denied")
	classify := func(err error) Failure {
		if errors.Is(err, fatal) {
			return Failure{Kind: models.FailureAuthRejected}
		}
		return Failure{Kind: models.FailureTransient}
	}

	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), p, classify, func(context.Context) error {
			calls++
			if calls < 3 {
				return transient
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("stops on fatal", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), p, classify, func(context.Context) error {
			calls++
			return fatal
		})
		if !errors.Is(err, fatal) || calls != 1 {
			t.Errorf("expected single fatal call, got %d calls err=%v", calls, err)
		}
	})

	t.Run("exhausts retries", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), p, classify, func(context.Context) error {
			calls++
			return transient
		})
		if !errors.Is(err, transient) {
			t.Errorf("expected wrapped transient error, got %v", err)
		}
		if calls != p.MaxRetries+1 {
			t.Errorf("expected %d calls, got %d", p.MaxRetries+1, calls)
		}
	})
}
