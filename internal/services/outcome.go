package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
)

// Operation names used in errors and logs.
const (
	opInitiate = "initiate"
	opChunk    = "chunk"
	opQuery    = "query"
)

// Reasons the Data API reports for 403 responses that are about quota, not permission.
var (
	dailyQuotaReasons = []string{"quotaExceeded", "dailyLimitExceeded", "uploadLimitExceeded"}
	rateQuotaReasons  = []string{"rateLimitExceeded", "userRateLimitExceeded"}
)

// OutcomeError is a classified transport failure.
type OutcomeError struct {
	Op         string
	Kind       models.FailureKind
	StatusCode int
	Reason     string
	Message    string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
	// Daily is set when the remote reports the daily quota itself is spent.
	Daily bool
	Err   error
}

func (e *OutcomeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d", e.StatusCode)
		if e.Reason != "" {
			fmt.Fprintf(&b, " %s", e.Reason)
		}
		b.WriteString(")")
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *OutcomeError) Unwrap() error {
	return e.Err
}

// AsOutcome extracts an [OutcomeError] from err.
func AsOutcome(err error) (*OutcomeError, bool) {
	var oe *OutcomeError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// apiError is the Google API JSON error envelope.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason  string `json:"reason"`
			Domain  string `json:"domain"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"error"`
}

// classifyResponse turns a non-success response into an [OutcomeError].
// sessionScoped marks requests addressed to an existing session handle, where 404 and 410 mean expiry.
func classifyResponse(op string, resp *http.Response, sessionScoped bool) *OutcomeError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	oe := &OutcomeError{
		Op:         op,
		StatusCode: resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		Err:        shared.ErrAPIRequest,
	}

	var envelope apiError
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != 0 {
		oe.Message = envelope.Error.Message
		if len(envelope.Error.Errors) > 0 {
			oe.Reason = envelope.Error.Errors[0].Reason
		}
	} else if len(body) > 0 {
		oe.Message = strings.TrimSpace(string(body))
		if len(oe.Message) > 200 {
			oe.Message = oe.Message[:200]
		}
	}

	oe.Kind, oe.Daily = kindForStatus(resp.StatusCode, oe.Reason, sessionScoped)
	switch {
	case resp.StatusCode >= 500:
		oe.Err = shared.ErrServiceUnavailable
	case oe.Kind == models.FailureProtocolAnomaly:
		oe.Err = shared.ErrMalformedResponse
	}

	return oe
}

// kindForStatus maps an HTTP status and API error reason to a failure kind.
// daily is set when the reason says the whole day's quota is spent.
func kindForStatus(code int, reason string, sessionScoped bool) (kind models.FailureKind, daily bool) {
	switch {
	case code == http.StatusUnauthorized:
		return models.FailureAuthRejected, false
	case code == http.StatusForbidden && slices.Contains(dailyQuotaReasons, reason):
		return models.FailureQuotaExceeded, true
	case code == http.StatusForbidden && slices.Contains(rateQuotaReasons, reason):
		return models.FailureQuotaExceeded, false
	case code == http.StatusForbidden:
		return models.FailureAuthRejected, false
	case code == http.StatusTooManyRequests:
		return models.FailureQuotaExceeded, false
	case (code == http.StatusNotFound || code == http.StatusGone) && sessionScoped:
		return models.FailureSessionExpired, false
	case code == http.StatusRequestTimeout, code >= 500:
		return models.FailureTransient, false
	case code >= 400:
		return models.FailurePermanentRequest, false
	default:
		return models.FailureProtocolAnomaly, false
	}
}

// classifyTransportError wraps an error returned before any response arrived.
func classifyTransportError(ctx context.Context, op string, err error) *OutcomeError {
	if ctx.Err() != nil {
		return &OutcomeError{Op: op, Kind: models.FailureCancelled, Err: ctx.Err()}
	}
	return &OutcomeError{Op: op, Kind: models.FailureTransient, Err: err}
}

// anomaly reports a response that parsed but broke the protocol.
func anomaly(op, format string, args ...any) *OutcomeError {
	return &OutcomeError{
		Op:      op,
		Kind:    models.FailureProtocolAnomaly,
		Message: fmt.Sprintf(format, args...),
		Err:     shared.ErrMalformedResponse,
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
