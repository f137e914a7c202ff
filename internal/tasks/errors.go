package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/retry"
	"github.com/desertthunder/ytup/internal/services"
	"github.com/desertthunder/ytup/internal/shared"
	"github.com/desertthunder/ytup/internal/source"
)

// UnitError is the terminal error of a unit that did not complete.
type UnitError struct {
	Identity string
	Path     string
	State    models.SessionState
	Kind     models.FailureKind
	Err      error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Path, e.State, e.Kind, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// Halts reports whether the error must stop the whole run: a unit failed because its credentials were rejected.
func (e *UnitError) Halts() bool {
	return e.State == models.StateFailed && e.Kind == models.FailureAuthRejected
}

// protocolError is a reply that parsed but contradicted what was sent.
type protocolError struct {
	kind models.FailureKind
	msg  string
}

func (e *protocolError) Error() string {
	return e.msg
}

func anomalyf(format string, args ...any) error {
	return &protocolError{kind: models.FailureProtocolAnomaly, msg: fmt.Sprintf(format, args...)}
}

func stalledf(format string, args ...any) error {
	return &protocolError{kind: models.FailureTransient, msg: fmt.Sprintf(format, args...)}
}

// Classify maps any error produced while running a unit onto a retry failure.
func Classify(err error) retry.Failure {
	if err == nil {
		return retry.Failure{Kind: models.FailureNone}
	}

	if oe, ok := services.AsOutcome(err); ok {
		return retry.Failure{Kind: oe.Kind, SuggestedDelay: oe.RetryAfter}
	}

	var pe *protocolError
	var ue *UnitError
	switch {
	case errors.As(err, &pe):
		return retry.Failure{Kind: pe.kind}
	case errors.As(err, &ue):
		return retry.Failure{Kind: ue.Kind}
	case errors.Is(err, shared.ErrQuotaDenied):
		return retry.Failure{Kind: models.FailureQuotaDeniedToday}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Failure{Kind: models.FailureCancelled}
	case errors.Is(err, shared.ErrPlaylistNotFound), errors.Is(err, shared.ErrMissingArgument):
		return retry.Failure{Kind: models.FailurePermanentRequest}
	case errors.Is(err, shared.ErrNotAuthenticated), errors.Is(err, shared.ErrNoRefreshToken):
		return retry.Failure{Kind: models.FailureAuthRejected}
	}

	if kind := source.Classify(err); kind != models.FailureUnknown {
		return retry.Failure{Kind: kind}
	}
	return retry.Failure{Kind: models.FailureUnknown}
}

// dailyQuotaSpent reports whether the remote said the whole day's quota is gone.
func dailyQuotaSpent(err error) bool {
	oe, ok := services.AsOutcome(err)
	return ok && oe.Daily
}
