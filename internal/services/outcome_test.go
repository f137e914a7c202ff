package services

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code    int
		reason  string
		session bool
		want    models.FailureKind
		daily   bool
	}{
		{code: 401, want: models.FailureAuthRejected},
		{code: 403, reason: "dailyLimitExceeded", want: models.FailureQuotaExceeded, daily: true},
		{code: 403, reason: "uploadLimitExceeded", want: models.FailureQuotaExceeded, daily: true},
		{code: 403, reason: "rateLimitExceeded", want: models.FailureQuotaExceeded},
		{code: 403, reason: "insufficientPermissions", want: models.FailureAuthRejected},
		{code: 429, want: models.FailureQuotaExceeded},
		{code: 404, session: true, want: models.FailureSessionExpired},
		{code: 410, session: true, want: models.FailureSessionExpired},
		{code: 404, want: models.FailurePermanentRequest},
		{code: 413, want: models.FailurePermanentRequest},
		{code: 408, want: models.FailureTransient},
		{code: 500, want: models.FailureTransient},
		{code: 502, want: models.FailureTransient},
		{code: 302, want: models.FailureProtocolAnomaly},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code)+" "+tt.reason, func(t *testing.T) {
			kind, daily := kindForStatus(tt.code, tt.reason, tt.session)
			if kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, kind)
			}
			if daily != tt.daily {
				t.Errorf("expected daily %v, got %v", tt.daily, daily)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want time.Duration
	}{
		{name: "empty", in: "", want: 0},
		{name: "seconds", in: "30", want: 30 * time.Second},
		{name: "date", in: now.Add(90 * time.Second).Format(http.TimeFormat), want: 90 * time.Second},
		{name: "past date", in: now.Add(-time.Minute).Format(http.TimeFormat), want: 0},
		{name: "garbage", in: "soon", want: 0},
		{name: "negative", in: "-5", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseRetryAfter(tt.in, now); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestOutcomeError(t *testing.T) {
	oe := &OutcomeError{
		Op:         opChunk,
		Kind:       models.FailureQuotaExceeded,
		StatusCode: 403,
		Reason:     "quotaExceeded",
		Message:    "The request cannot be completed",
		Err:        shared.ErrAPIRequest,
	}

	msg := oe.Error()
	for _, part := range []string{"chunk", "quota_exceeded", "HTTP 403 quotaExceeded", "cannot be completed"} {
		if !strings.Contains(msg, part) {
			t.Errorf("expected %q in %q", part, msg)
		}
	}

	wrapped := errors.Join(errors.New("outer"), oe)
	got, ok := AsOutcome(wrapped)
	if !ok || got != oe {
		t.Error("expected AsOutcome to find the wrapped error")
	}
	if !errors.Is(wrapped, shared.ErrAPIRequest) {
		t.Error("expected sentinel to be reachable")
	}

	if _, ok := AsOutcome(errors.New("plain")); ok {
		t.Error("expected plain errors not to match")
	}
}
