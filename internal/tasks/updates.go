package tasks

import (
	"fmt"

	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
)

// ProgressUpdate represents a progress event during an upload run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current unit number within the run
	Total   int    // Total units in the run
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// UnitProgress is the Data of updates about a single unit.
type UnitProgress struct {
	Identity  string
	Name      string
	State     models.SessionState
	Committed int64
	Size      int64
	RemoteID  string
}

// Fraction returns the committed share of the unit in [0, 1].
func (p UnitProgress) Fraction() float64 {
	if p.Size <= 0 {
		return 0
	}
	return float64(p.Committed) / float64(p.Size)
}

// Operation phase enumeration
type Phase int

const (
	PlanRun Phase = iota
	SkipUnit
	InitiateSession
	TransferChunk
	ResyncOffset
	RestartSession
	VerifyUpload
	AttachCollection
	CompleteUnit
	PauseUnit
	FailUnit
	DeferUnit
	HaltRun
)

func (p Phase) String() string {
	switch p {
	case PlanRun:
		return "plan_run"
	case SkipUnit:
		return "skip_unit"
	case InitiateSession:
		return "initiate_session"
	case TransferChunk:
		return "transfer_chunk"
	case ResyncOffset:
		return "resync_offset"
	case RestartSession:
		return "restart_session"
	case VerifyUpload:
		return "verify_upload"
	case AttachCollection:
		return "attach_collection"
	case CompleteUnit:
		return "complete_unit"
	case PauseUnit:
		return "pause_unit"
	case FailUnit:
		return "fail_unit"
	case DeferUnit:
		return "defer_unit"
	case HaltRun:
		return "halt_run"
	default:
		return ""
	}
}

// Terminal reports whether the phase ends a unit.
func (p Phase) Terminal() bool {
	switch p {
	case SkipUnit, CompleteUnit, PauseUnit, FailUnit, DeferUnit:
		return true
	default:
		return false
	}
}

func planRunUpdate(total, skipped int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PlanRun,
		Total:   total,
		Message: fmt.Sprintf("Planning %d uploads (%d already done)...", total, skipped),
	}
}

func skipUnitUpdate(step, total int, unit models.UploadUnit, reason string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SkipUnit,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] - %s (%s)", step, total, unit.Name, reason),
		Data:    UnitProgress{Identity: unit.Identity, Name: unit.Name, Size: unit.Size},
	}
}

func sessionUpdate(phase Phase, step, total int, s *models.UploadSession) ProgressUpdate {
	var msg string
	switch phase {
	case InitiateSession:
		msg = fmt.Sprintf("[%d/%d] Starting upload: %s (%s)", step, total, s.Unit.Name, shared.HumanBytes(s.Unit.Size))
	case TransferChunk:
		msg = fmt.Sprintf("[%d/%d] %s: %s / %s", step, total, s.Unit.Name, shared.HumanBytes(s.Committed), shared.HumanBytes(s.Unit.Size))
	case ResyncOffset:
		msg = fmt.Sprintf("[%d/%d] %s: checking committed offset...", step, total, s.Unit.Name)
	case RestartSession:
		msg = fmt.Sprintf("[%d/%d] %s: session expired, starting over", step, total, s.Unit.Name)
	case VerifyUpload:
		msg = fmt.Sprintf("[%d/%d] %s: verifying %s...", step, total, s.Unit.Name, s.RemoteID)
	case CompleteUnit:
		msg = fmt.Sprintf("[%d/%d] ✓ %s (video %s)", step, total, s.Unit.Name, s.RemoteID)
	case PauseUnit:
		msg = fmt.Sprintf("[%d/%d] ‖ %s paused at %s: %s", step, total, s.Unit.Name, shared.HumanBytes(s.Committed), s.LastFailure)
	case FailUnit:
		msg = fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, s.Unit.Name, s.LastError)
	}

	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: msg,
		Data: UnitProgress{
			Identity:  s.Unit.Identity,
			Name:      s.Unit.Name,
			State:     s.State,
			Committed: s.Committed,
			Size:      s.Unit.Size,
			RemoteID:  s.RemoteID,
		},
	}
}

func attachUpdate(step, total int, unit models.UploadUnit, err error) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] Added %s to %q", step, total, unit.Name, unit.Collection)
	if err != nil {
		msg = fmt.Sprintf("[%d/%d] Could not add %s to %q: %v", step, total, unit.Name, unit.Collection, err)
	}
	return ProgressUpdate{
		Phase:   AttachCollection,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    UnitProgress{Identity: unit.Identity, Name: unit.Name, Size: unit.Size, Committed: unit.Size},
	}
}

func deferUnitUpdate(step, total int, unit models.UploadUnit) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DeferUnit,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] … %s deferred until the quota resets", step, total, unit.Name),
		Data:    UnitProgress{Identity: unit.Identity, Name: unit.Name, Size: unit.Size},
	}
}

func haltRunUpdate(err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   HaltRun,
		Message: fmt.Sprintf("Run halted: %v", err),
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
