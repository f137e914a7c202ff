package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/quota"
	"github.com/desertthunder/ytup/internal/retry"
	"github.com/desertthunder/ytup/internal/services"
	"github.com/desertthunder/ytup/internal/source"
)

// Governor admits billable calls. [quota.Governor] implements it.
type Governor interface {
	// Wait blocks until op is granted. It fails with shared.ErrQuotaDenied when today's budget cannot cover op.
	Wait(ctx context.Context, op quota.Operation) (quota.Reservation, error)
	// Refund returns the cost of a grant whose call was never sent.
	Refund(ctx context.Context, r quota.Reservation)
	// Exhaust marks today's budget as spent.
	Exhaust(ctx context.Context)
}

// Ledger is the durable per-unit record. [repositories.LedgerRepository] implements it.
type Ledger interface {
	Lookup(ctx context.Context, identity string) (*models.LedgerEntry, error)
	Upsert(ctx context.Context, entry *models.LedgerEntry) error
	MarkTerminal(ctx context.Context, identity string, status models.LedgerStatus, remoteID string, kind models.FailureKind, message string) error
	MarkAttached(ctx context.Context, identity, collectionID string, state models.AttachState) error
}

// SessionConfig tunes a single upload session.
type SessionConfig struct {
	ChunkSize int64
	// CheckpointEvery writes the ledger after this many acknowledged chunks. State changes are always written.
	CheckpointEvery int
	Policy          retry.Policy
	// GracePeriod is how long an in-flight request may outlive run cancellation.
	GracePeriod time.Duration
	// Verify checks the processing status after the upload completes.
	Verify bool
}

// Session runs the upload state machine for one unit.
//
// It is the only writer of its unit's ledger entry while it runs.
type Session struct {
	state    *models.UploadSession
	prev     *models.LedgerEntry
	uploader services.Uploader
	governor Governor
	ledger   Ledger
	verifier services.StatusChecker
	cfg      SessionConfig
	logger   *log.Logger

	progress    chan<- ProgressUpdate
	step, total int

	needResync      bool
	restarts        int
	sinceCheckpoint int
}

func newSession(e *Engine, unit models.UploadUnit, prev *models.LedgerEntry, progress chan<- ProgressUpdate, step, total int) *Session {
	state := models.NewUploadSession(unit)
	s := &Session{
		state:    state,
		prev:     prev,
		uploader: e.uploader,
		governor: e.governor,
		ledger:   e.ledger,
		verifier: e.verifier,
		cfg:      e.cfg.Session,
		logger:   e.logger.With("file", unit.Name, "id", unit.ShortID()),
		progress: progress,
		step:     step,
		total:    total,
	}

	if prev != nil && prev.Resumable() {
		state.Handle = prev.Handle
		state.Committed = prev.Committed
		state.State = models.StateTransferring
		state.CreatedAt = prev.CreatedAt
		s.needResync = true
	}
	return s
}

// State returns the session's in-memory progress.
func (s *Session) State() *models.UploadSession {
	return s.state
}

// Run drives the unit to Completed, Failed or Paused. The error is a [*UnitError] unless the unit completed.
func (s *Session) Run(ctx context.Context) error {
	src, err := source.Open(s.state.Unit)
	if err != nil {
		return s.fail(ctx, source.Classify(err), err)
	}
	defer src.Close()

	if s.needResync {
		s.logger.Info("resuming upload", "committed", s.state.Committed, "size", s.state.Unit.Size)
	}

	for !s.state.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return s.pause(ctx, models.FailureCancelled, err)
		}

		var err error
		switch s.state.State {
		case models.StatePending:
			err = s.transition(ctx, models.StateInitiating)
		case models.StateInitiating:
			err = s.initiate(ctx)
		case models.StateTransferring:
			if s.needResync {
				err = s.resync(ctx)
			} else {
				err = s.sendNext(ctx, src)
			}
		case models.StateVerifying:
			err = s.verify(ctx)
		}

		if err != nil {
			if stop := s.handleFailure(ctx, err); stop != nil {
				return stop
			}
		}
	}
	return nil
}

// initiate opens a remote session and persists its handle before any byte is sent.
func (s *Session) initiate(ctx context.Context) error {
	sendProgress(s.progress, sessionUpdate(InitiateSession, s.step, s.total, s.state))

	r, err := s.governor.Wait(ctx, quota.OpInitiate)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		s.governor.Refund(ctx, r)
		return err
	}

	callCtx, done := withGrace(ctx, s.cfg.GracePeriod)
	defer done()

	handle, err := s.uploader.InitiateSession(callCtx, s.state.Unit.Metadata, s.state.Unit.Size)
	if err != nil {
		return err
	}

	s.state.Handle = handle
	s.state.Committed = 0
	s.state.Retries = 0
	s.logger.Debug("upload session created")
	return s.transition(ctx, models.StateTransferring)
}

// sendNext reads and sends the chunk at the committed offset.
func (s *Session) sendNext(ctx context.Context, src *source.File) error {
	total := s.state.Unit.Size
	start, end := source.NextRange(s.state.Committed, s.cfg.ChunkSize, total)

	data, err := src.ReadRange(start, end-start+1)
	if err != nil {
		return err
	}

	r, err := s.governor.Wait(ctx, quota.OpChunk)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		s.governor.Refund(ctx, r)
		return err
	}

	callCtx, done := withGrace(ctx, s.cfg.GracePeriod)
	defer done()

	res, err := s.uploader.SendChunk(callCtx, s.state.Handle, start, data, total)
	if err != nil {
		return err
	}

	if res.Complete {
		s.state.Committed = total
		s.state.RemoteID = res.RemoteID
		s.state.Retries = 0
		return s.transition(ctx, models.StateVerifying)
	}

	switch {
	case res.Next < start:
		return anomalyf("remote acknowledged %d after a send at %d", res.Next, start)
	case res.Next > end+1 || res.Next > total:
		return anomalyf("remote acknowledged %d beyond the %d bytes sent", res.Next, end+1)
	case res.Next == start:
		return stalledf("remote kept none of the chunk at %d", start)
	}

	s.state.Committed = res.Next
	s.state.Retries = 0
	s.state.UpdatedAt = time.Now()
	sendProgress(s.progress, sessionUpdate(TransferChunk, s.step, s.total, s.state))

	s.sinceCheckpoint++
	if s.sinceCheckpoint >= max(s.cfg.CheckpointEvery, 1) {
		if err := s.checkpoint(ctx); err != nil {
			s.logger.Warn("checkpoint failed", "committed", s.state.Committed, "error", err)
		}
	}
	return nil
}

// resync adopts the remote's committed offset. The remote is authoritative after any ambiguous outcome.
func (s *Session) resync(ctx context.Context) error {
	sendProgress(s.progress, sessionUpdate(ResyncOffset, s.step, s.total, s.state))

	r, err := s.governor.Wait(ctx, quota.OpQuery)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		s.governor.Refund(ctx, r)
		return err
	}

	callCtx, done := withGrace(ctx, s.cfg.GracePeriod)
	defer done()

	res, err := s.uploader.QueryOffset(callCtx, s.state.Handle, s.state.Unit.Size)
	if err != nil {
		return err
	}
	s.needResync = false

	if res.Complete {
		s.state.Committed = s.state.Unit.Size
		s.state.RemoteID = res.RemoteID
		return s.transition(ctx, models.StateVerifying)
	}

	if res.Committed < s.state.Committed {
		// The remote lost bytes it had acknowledged; resend from its offset.
		s.state.Anomalies++
		s.logger.Warn("remote offset behind checkpoint", "remote", res.Committed, "local", s.state.Committed)
	}
	if res.Committed != s.state.Committed {
		s.state.Committed = res.Committed
		return s.checkpoint(ctx)
	}
	return nil
}

// verify confirms the remote kept the upload when configured to, then completes the unit.
func (s *Session) verify(ctx context.Context) error {
	if s.cfg.Verify && s.verifier != nil {
		sendProgress(s.progress, sessionUpdate(VerifyUpload, s.step, s.total, s.state))

		status, err := s.verifier.UploadStatus(ctx, s.state.RemoteID)
		if err != nil {
			return err
		}
		if status.Refused() {
			return s.fail(ctx, models.FailureRemoteRejected, fmt.Errorf("video %s was %s after upload", s.state.RemoteID, status))
		}
	}

	s.state.State = models.StateCompleted
	s.state.LastFailure = models.FailureNone
	s.state.LastError = ""
	if err := s.finish(ctx); err != nil {
		return err
	}

	s.logger.Info("upload complete", "video_id", s.state.RemoteID)
	sendProgress(s.progress, sessionUpdate(CompleteUnit, s.step, s.total, s.state))
	return nil
}

// handleFailure applies the retry policy. A non-nil return ends the session with that error.
func (s *Session) handleFailure(ctx context.Context, err error) error {
	var ue *UnitError
	if errors.As(err, &ue) {
		if ue.State.Terminal() {
			return ue
		}
		return s.pause(ctx, ue.Kind, ue.Err)
	}

	f := Classify(err)
	s.state.LastFailure = f.Kind
	s.state.LastError = err.Error()

	if dailyQuotaSpent(err) {
		s.governor.Exhaust(ctx)
		return s.pause(ctx, models.FailureQuotaDeniedToday, err)
	}
	if f.Kind == models.FailureCancelled || ctx.Err() != nil {
		return s.pause(ctx, models.FailureCancelled, err)
	}

	if f.Kind == models.FailureProtocolAnomaly {
		s.state.Anomalies++
		if s.state.Anomalies >= s.cfg.Policy.MaxAnomalies && s.state.Handle != "" {
			s.logger.Warn("repeated protocol anomalies, restarting session", "anomalies", s.state.Anomalies)
			return s.restart(ctx, err)
		}
	}

	s.state.Retries++
	d := s.cfg.Policy.Decide(f, s.state.Retries)
	s.logger.Warn("upload step failed", "state", s.state.State, "kind", f.Kind, "attempt", s.state.Retries, "action", d.Action, "delay", d.Delay, "error", err)

	switch d.Action {
	case retry.GiveUp:
		if d.Fatal {
			return s.fail(ctx, f.Kind, err)
		}
		kind := f.Kind
		if kind != models.FailureQuotaDeniedToday {
			kind = models.FailureRetriesExhausted
		}
		return s.pause(ctx, kind, err)
	case retry.Restart:
		return s.restart(ctx, err)
	case retry.ResyncThenRetry:
		s.needResync = s.state.State == models.StateTransferring
	}

	if err := retry.Sleep(ctx, d.Delay); err != nil {
		return s.pause(ctx, models.FailureCancelled, err)
	}
	return nil
}

// restart discards the remote session and starts again from offset zero.
func (s *Session) restart(ctx context.Context, cause error) error {
	s.restarts++
	if s.restarts > s.cfg.Policy.MaxRetries {
		return s.pause(ctx, models.FailureRetriesExhausted, fmt.Errorf("session restarted %d times: %w", s.restarts-1, cause))
	}

	s.logger.Info("discarding upload session", "committed", s.state.Committed, "cause", Classify(cause).Kind)
	s.state.Handle = ""
	s.state.Committed = 0
	s.state.Anomalies = 0
	s.needResync = false
	sendProgress(s.progress, sessionUpdate(RestartSession, s.step, s.total, s.state))
	return s.transition(ctx, models.StatePending)
}

// transition moves to next and persists the change.
func (s *Session) transition(ctx context.Context, next models.SessionState) error {
	s.state.State = next
	s.state.UpdatedAt = time.Now()
	return s.checkpoint(ctx)
}

// checkpoint writes the session to the ledger, even after cancellation.
func (s *Session) checkpoint(ctx context.Context) error {
	entry := s.state.ToLedgerEntry(s.prev)
	if err := s.ledger.Upsert(context.WithoutCancel(ctx), entry); err != nil {
		return &UnitError{Identity: s.state.Unit.Identity, Path: s.state.Unit.Path, State: s.state.State, Kind: models.FailureIOFault, Err: fmt.Errorf("failed to write checkpoint: %w", err)}
	}
	s.prev = entry
	s.sinceCheckpoint = 0
	return nil
}

// finish writes the terminal ledger status.
func (s *Session) finish(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	status := models.LedgerStatusFor(s.state.State)

	if s.prev == nil || status == models.LedgerPaused {
		return s.checkpoint(ctx)
	}

	if err := s.ledger.MarkTerminal(ctx, s.state.Unit.Identity, status, s.state.RemoteID, s.state.LastFailure, s.state.LastError); err != nil {
		return &UnitError{Identity: s.state.Unit.Identity, Path: s.state.Unit.Path, State: s.state.State, Kind: models.FailureIOFault, Err: fmt.Errorf("failed to record %s: %w", status, err)}
	}
	return nil
}

// pause ends the session for this run, keeping the handle and offset for the next one.
func (s *Session) pause(ctx context.Context, kind models.FailureKind, err error) error {
	s.state.State = models.StatePaused
	s.state.LastFailure = kind
	s.state.LastError = err.Error()
	if werr := s.finish(ctx); werr != nil {
		s.logger.Error("failed to record pause", "error", werr)
	}

	s.logger.Info("upload paused", "committed", s.state.Committed, "kind", kind)
	sendProgress(s.progress, sessionUpdate(PauseUnit, s.step, s.total, s.state))
	return &UnitError{Identity: s.state.Unit.Identity, Path: s.state.Unit.Path, State: models.StatePaused, Kind: kind, Err: err}
}

// fail ends the unit permanently.
func (s *Session) fail(ctx context.Context, kind models.FailureKind, err error) error {
	s.state.State = models.StateFailed
	s.state.LastFailure = kind
	s.state.LastError = err.Error()
	if werr := s.finish(ctx); werr != nil {
		s.logger.Error("failed to record failure", "error", werr)
	}

	s.logger.Error("upload failed", "kind", kind, "error", err)
	sendProgress(s.progress, sessionUpdate(FailUnit, s.step, s.total, s.state))
	return &UnitError{Identity: s.state.Unit.Identity, Path: s.state.Unit.Path, State: models.StateFailed, Kind: kind, Err: err}
}

// withGrace returns a context that is cancelled grace after ctx is, so an in-flight request can finish.
func withGrace(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(grace, cancel)
	})
	return detached, func() {
		stop()
		cancel()
	}
}
