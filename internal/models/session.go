package models

import "time"

// SessionState is a node in the per-unit upload state machine.
type SessionState string

const (
	StatePending      SessionState = "pending"
	StateInitiating   SessionState = "initiating"
	StateTransferring SessionState = "transferring"
	StateVerifying    SessionState = "verifying"
	StateCompleted    SessionState = "completed"
	StateFailed       SessionState = "failed"
	StatePaused       SessionState = "paused"
)

// Terminal reports whether no further transitions happen within a run.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StatePaused
}

// UploadSession is the in-memory progress of one unit.
//
// Committed only ever moves to a value the remote acknowledged, except for the
// explicit reset to zero when an expired session is restarted.
type UploadSession struct {
	Unit        UploadUnit
	Handle      string
	Committed   int64
	State       SessionState
	Retries     int
	Anomalies   int
	RemoteID    string
	LastFailure FailureKind
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewUploadSession starts a session for unit in [StatePending].
func NewUploadSession(unit UploadUnit) *UploadSession {
	now := time.Now()
	return &UploadSession{Unit: unit, State: StatePending, CreatedAt: now, UpdatedAt: now}
}

// Progress returns the committed fraction in [0, 1].
func (s *UploadSession) Progress() float64 {
	if s.Unit.Size <= 0 {
		return 0
	}
	return float64(s.Committed) / float64(s.Unit.Size)
}

// ToLedgerEntry projects the session onto its durable record, keeping the
// row id and attachment fields of prev when present.
func (s *UploadSession) ToLedgerEntry(prev *LedgerEntry) *LedgerEntry {
	entry := &LedgerEntry{
		Identity:       s.Unit.Identity,
		Path:           s.Unit.Path,
		Size:           s.Unit.Size,
		ModTime:        s.Unit.ModTime,
		Metadata:       s.Unit.Metadata,
		Collection:     s.Unit.Collection,
		Status:         LedgerStatusFor(s.State),
		Committed:      s.Committed,
		Handle:         s.Handle,
		RemoteID:       s.RemoteID,
		FailureKind:    s.LastFailure,
		FailureMessage: s.LastError,
		Attempts:       s.Retries,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      time.Now(),
	}
	if prev != nil {
		entry.ID = prev.ID
		entry.CreatedAt = prev.CreatedAt
		entry.CollectionID = prev.CollectionID
		entry.AttachState = prev.AttachState
	}
	return entry
}
