package models

import (
	"strings"
	"testing"
	"time"
)

func TestLedgerStatusFor(t *testing.T) {
	tc := []struct {
		state    SessionState
		want     LedgerStatus
		terminal bool
	}{
		{state: StatePending, want: LedgerPending},
		{state: StateInitiating, want: LedgerInitiating},
		{state: StateTransferring, want: LedgerTransferring},
		{state: StateVerifying, want: LedgerVerifying},
		{state: StatePaused, want: LedgerPaused},
		{state: StateCompleted, want: LedgerCompleted, terminal: true},
		{state: StateFailed, want: LedgerFailed, terminal: true},
	}

	for _, tt := range tc {
		t.Run(string(tt.state), func(t *testing.T) {
			got := LedgerStatusFor(tt.state)
			if got != tt.want {
				t.Errorf("LedgerStatusFor(%s) = %s, want %s", tt.state, got, tt.want)
			}
			if got.Terminal() != tt.terminal {
				t.Errorf("%s.Terminal() = %v, want %v", got, got.Terminal(), tt.terminal)
			}
		})
	}

	if !LedgerAbandoned.Terminal() {
		t.Error("abandoned should be terminal")
	}
	if LedgerStatus("bogus").Valid() {
		t.Error("unknown status should be invalid")
	}
}

func TestLedgerEntryValidate(t *testing.T) {
	valid := LedgerEntry{Identity: "abc", Size: 100, Status: LedgerTransferring, Committed: 50}

	tc := []struct {
		name    string
		modify  func(*LedgerEntry)
		wantErr bool
	}{
		{name: "valid", modify: func(*LedgerEntry) {}},
		{name: "missing identity", modify: func(e *LedgerEntry) { e.Identity = "" }, wantErr: true},
		{name: "bad status", modify: func(e *LedgerEntry) { e.Status = "lost" }, wantErr: true},
		{name: "negative offset", modify: func(e *LedgerEntry) { e.Committed = -1 }, wantErr: true},
		{name: "offset past size", modify: func(e *LedgerEntry) { e.Committed = 101 }, wantErr: true},
		{name: "completed without remote id", modify: func(e *LedgerEntry) { e.Status = LedgerCompleted }, wantErr: true},
		{name: "completed with remote id", modify: func(e *LedgerEntry) { e.Status = LedgerCompleted; e.RemoteID = "vid" }},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			entry := valid
			tt.modify(&entry)
			err := entry.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedgerEntryHelpers(t *testing.T) {
	entry := &LedgerEntry{
		Identity:   "abc",
		Path:       "/videos/clip.mp4",
		Size:       10,
		Status:     LedgerPaused,
		Handle:     "https://upload.example/session",
		Collection: "Trips",
	}

	if !entry.Resumable() {
		t.Error("paused entry with a handle should be resumable")
	}

	unit := entry.Unit()
	if unit.Name != "clip.mp4" || unit.Identity != "abc" || unit.Collection != "Trips" {
		t.Errorf("unexpected unit: %+v", unit)
	}

	entry.Status = LedgerCompleted
	entry.RemoteID = "vid"
	if entry.Resumable() {
		t.Error("completed entry should not be resumable")
	}
	if !entry.AttachPending() {
		t.Error("completed entry with a collection should await attachment")
	}
	entry.AttachState = AttachDone
	if entry.AttachPending() {
		t.Error("attached entry should not await attachment")
	}
}

func TestVideoMetadataValidate(t *testing.T) {
	tc := []struct {
		name    string
		meta    VideoMetadata
		wantErr bool
	}{
		{name: "minimal", meta: VideoMetadata{Title: "Clip"}},
		{name: "blank title", meta: VideoMetadata{Title: "  "}, wantErr: true},
		{name: "long title", meta: VideoMetadata{Title: strings.Repeat("a", 101)}, wantErr: true},
		{name: "long description", meta: VideoMetadata{Title: "a", Description: strings.Repeat("d", 5001)}, wantErr: true},
		{name: "tags too long", meta: VideoMetadata{Title: "a", Tags: []string{strings.Repeat("t", 300), strings.Repeat("t", 201)}}, wantErr: true},
		{name: "tags at limit", meta: VideoMetadata{Title: "a", Tags: []string{strings.Repeat("t", 250), strings.Repeat("t", 250)}}},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUploadSession(t *testing.T) {
	unit := UploadUnit{Identity: "abc", Path: "/v/a.mp4", Size: 200, ModTime: time.Unix(10, 0)}
	s := NewUploadSession(unit)
	if s.State != StatePending {
		t.Fatalf("new session state = %s", s.State)
	}

	s.Committed = 50
	if s.Progress() != 0.25 {
		t.Errorf("Progress() = %v, want 0.25", s.Progress())
	}

	s.State = StateTransferring
	s.Handle = "h"
	prev := &LedgerEntry{ID: "row-1", CreatedAt: time.Unix(1, 0), AttachState: AttachFailed}
	entry := s.ToLedgerEntry(prev)
	if entry.ID != "row-1" || entry.Status != LedgerTransferring || entry.Committed != 50 || entry.Handle != "h" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if !entry.CreatedAt.Equal(prev.CreatedAt) || entry.AttachState != AttachFailed {
		t.Error("expected row metadata to carry over from previous entry")
	}
}

func TestFailureKind(t *testing.T) {
	fatal := []FailureKind{FailureAuthRejected, FailurePermanentRequest, FailureSourceChanged, FailureSourceNotFound}
	for _, k := range fatal {
		if !k.Fatal() {
			t.Errorf("%s should be fatal", k)
		}
	}
	retryable := []FailureKind{FailureTransient, FailureQuotaExceeded, FailureSessionExpired, FailureProtocolAnomaly, FailureIOFault}
	for _, k := range retryable {
		if k.Fatal() {
			t.Errorf("%s should not be fatal", k)
		}
	}
	if FailureNone.String() != "none" {
		t.Errorf("FailureNone.String() = %q", FailureNone.String())
	}
}
