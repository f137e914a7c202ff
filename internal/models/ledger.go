package models

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"
)

// LedgerStatus is the durable status of a unit.
type LedgerStatus string

const (
	LedgerPending      LedgerStatus = "pending"
	LedgerInitiating   LedgerStatus = "initiating"
	LedgerTransferring LedgerStatus = "transferring"
	LedgerVerifying    LedgerStatus = "verifying"
	LedgerPaused       LedgerStatus = "paused"
	LedgerCompleted    LedgerStatus = "completed"
	LedgerFailed       LedgerStatus = "failed"
	LedgerAbandoned    LedgerStatus = "abandoned"
)

// LedgerStatuses lists every valid status in lifecycle order.
var LedgerStatuses = []LedgerStatus{
	LedgerPending, LedgerInitiating, LedgerTransferring, LedgerVerifying,
	LedgerPaused, LedgerCompleted, LedgerFailed, LedgerAbandoned,
}

// Terminal reports whether the unit is finished for good. Everything else is a resume candidate.
func (s LedgerStatus) Terminal() bool {
	return s == LedgerCompleted || s == LedgerFailed || s == LedgerAbandoned
}

// Valid reports whether s is a known status.
func (s LedgerStatus) Valid() bool {
	return slices.Contains(LedgerStatuses, s)
}

// LedgerStatusFor maps a session state onto the status stored for it.
func LedgerStatusFor(s SessionState) LedgerStatus {
	switch s {
	case StateInitiating:
		return LedgerInitiating
	case StateTransferring:
		return LedgerTransferring
	case StateVerifying:
		return LedgerVerifying
	case StatePaused:
		return LedgerPaused
	case StateCompleted:
		return LedgerCompleted
	case StateFailed:
		return LedgerFailed
	default:
		return LedgerPending
	}
}

// AttachState records whether a completed upload was added to its collection.
type AttachState string

const (
	AttachNone     AttachState = ""
	AttachDone     AttachState = "attached"
	AttachFailed   AttachState = "failed"
	AttachDeferred AttachState = "deferred"
)

// LedgerEntry is the durable record of one unit.
type LedgerEntry struct {
	ID             string
	Identity       string
	Path           string
	Size           int64
	ModTime        time.Time
	Metadata       VideoMetadata
	Collection     string
	Status         LedgerStatus
	Committed      int64
	Handle         string
	RemoteID       string
	FailureKind    FailureKind
	FailureMessage string
	Attempts       int
	CollectionID   string
	AttachState    AttachState
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Validate checks the entry before it is written.
func (e *LedgerEntry) Validate() error {
	if e.Identity == "" {
		return fmt.Errorf("ledger entry has no identity")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid ledger status %q", e.Status)
	}
	if e.Committed < 0 || e.Committed > e.Size {
		return fmt.Errorf("committed offset %d outside [0, %d]", e.Committed, e.Size)
	}
	if e.Status == LedgerCompleted && e.RemoteID == "" {
		return fmt.Errorf("completed entry %s has no remote id", e.Identity)
	}
	return nil
}

// Resumable reports whether the entry can continue an existing remote session.
func (e *LedgerEntry) Resumable() bool {
	return !e.Status.Terminal() && e.Handle != ""
}

// AttachPending reports whether a completed upload still needs adding to its collection.
func (e *LedgerEntry) AttachPending() bool {
	return e.Status == LedgerCompleted && e.Collection != "" && e.AttachState != AttachDone
}

// Unit rebuilds the upload unit the entry was recorded for.
func (e *LedgerEntry) Unit() UploadUnit {
	return UploadUnit{
		Identity:   e.Identity,
		Path:       e.Path,
		Name:       filepath.Base(e.Path),
		Size:       e.Size,
		ModTime:    e.ModTime,
		Metadata:   e.Metadata,
		Collection: e.Collection,
	}
}

