// package models defines the data model for the upload engine
package models

import "time"

// FailureKind classifies a failed operation for retry decisions and reporting.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureTransient        FailureKind = "transient"
	FailureQuotaExceeded    FailureKind = "quota_exceeded"
	FailureSessionExpired   FailureKind = "session_expired"
	FailureProtocolAnomaly  FailureKind = "protocol_anomaly"
	FailureAuthRejected     FailureKind = "auth_rejected"
	FailureSourceChanged    FailureKind = "source_changed"
	FailureSourceUnreadable FailureKind = "source_unreadable"
	FailureSourceNotFound   FailureKind = "source_not_found"
	FailureIOFault          FailureKind = "io_fault"
	FailurePermanentRequest FailureKind = "permanent_request"
	FailureQuotaDeniedToday FailureKind = "quota_denied_today"
	FailureCancelled        FailureKind = "cancelled"
	FailureRetriesExhausted FailureKind = "retries_exhausted"
	FailureRemoteRejected   FailureKind = "remote_rejected"
	FailureCollectionAttach FailureKind = "collection_attach"
	FailureUnknown          FailureKind = "unknown"
)

// String returns the stored representation of the kind.
func (k FailureKind) String() string {
	if k == FailureNone {
		return "none"
	}
	return string(k)
}

// Fatal reports whether failures of this kind can never succeed by retrying.
func (k FailureKind) Fatal() bool {
	switch k {
	case FailureAuthRejected, FailurePermanentRequest, FailureSourceChanged,
		FailureSourceUnreadable, FailureSourceNotFound, FailureRemoteRejected:
		return true
	default:
		return false
	}
}

// QuotaState is the persisted daily budget counter.
type QuotaState struct {
	DailyBudget int
	Consumed    int
	ResetAt     time.Time
	UpdatedAt   time.Time
}

// Remaining returns the unspent budget, never negative.
func (q QuotaState) Remaining() int {
	if r := q.DailyBudget - q.Consumed; r > 0 {
		return r
	}
	return 0
}
