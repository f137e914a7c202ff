package tasks

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/retry"
	"github.com/desertthunder/ytup/internal/services"
	"github.com/desertthunder/ytup/internal/shared"
	"golang.org/x/sync/errgroup"
)

// Outcome is how a unit ended within one run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomePaused    Outcome = "paused"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDeferred  Outcome = "deferred"
)

// UnitResult is the per-unit report of a run.
type UnitResult struct {
	Unit         models.UploadUnit
	Outcome      Outcome
	RemoteID     string
	Committed    int64
	Kind         models.FailureKind
	Reason       string
	Resumed      bool
	CollectionID string
	AttachState  models.AttachState
	Err          error
	AttachErr    error
	Duration     time.Duration
}

// Resumable reports whether a later run can continue the unit.
func (r UnitResult) Resumable() bool {
	return r.Outcome == OutcomePaused || r.Outcome == OutcomeDeferred
}

// RunSummary is the result of [Engine.Run].
type RunSummary struct {
	RunID     string
	Results   []UnitResult
	Completed int
	Failed    int
	Paused    int
	Skipped   int
	Deferred  int
	// Halted is set when a credential rejection stopped the run.
	Halted   bool
	Started  time.Time
	Duration time.Duration
}

// OK reports whether nothing failed and the run was not halted.
func (s *RunSummary) OK() bool {
	return !s.Halted && s.Failed == 0
}

// EngineConfig controls a run.
type EngineConfig struct {
	Concurrency int
	// RetryFailed restarts units whose ledger entry is failed.
	RetryFailed bool
	// RetryAttach re-attempts collection attachment for completed units that missed it.
	RetryAttach bool
	Session     SessionConfig
}

// EngineOpts holds the collaborators of an [Engine]. Attacher and Verifier are optional.
type EngineOpts struct {
	Uploader services.Uploader
	Governor Governor
	Ledger   Ledger
	Attacher services.CollectionAttacher
	Verifier services.StatusChecker
	Logger   *log.Logger
	Config   EngineConfig
}

// Engine sequences upload sessions over a list of units.
type Engine struct {
	uploader services.Uploader
	governor Governor
	ledger   Ledger
	attacher services.CollectionAttacher
	verifier services.StatusChecker
	cfg      EngineConfig
	logger   *log.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	switch {
	case opts.Uploader == nil:
		return nil, fmt.Errorf("%w: uploader", shared.ErrMissingArgument)
	case opts.Governor == nil:
		return nil, fmt.Errorf("%w: governor", shared.ErrMissingArgument)
	case opts.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger", shared.ErrMissingArgument)
	}

	cfg := opts.Config
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Session.ChunkSize <= 0 {
		cfg.Session.ChunkSize = 256 << 10
	}
	if cfg.Session.Policy.MaxRetries == 0 {
		cfg.Session.Policy = retry.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &Engine{
		uploader: opts.Uploader,
		governor: opts.Governor,
		ledger:   opts.Ledger,
		attacher: opts.Attacher,
		verifier: opts.Verifier,
		cfg:      cfg,
		logger:   opts.Logger,
		active:   make(map[string]struct{}),
	}, nil
}

// Plan dedupes units by identity and orders them by name, then path.
func Plan(units []models.UploadUnit) []models.UploadUnit {
	seen := make(map[string]struct{}, len(units))
	planned := make([]models.UploadUnit, 0, len(units))
	for _, u := range units {
		if _, ok := seen[u.Identity]; ok {
			continue
		}
		seen[u.Identity] = struct{}{}
		planned = append(planned, u)
	}

	slices.SortStableFunc(planned, func(a, b models.UploadUnit) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Path, b.Path))
	})
	return planned
}

// Run uploads units with at most Concurrency sessions in flight.
//
// A credential rejection halts the run and is returned as [shared.ErrRunHalted].
// A daily quota denial stops new units from starting; they are reported as deferred.
func (e *Engine) Run(ctx context.Context, units []models.UploadUnit, progress chan<- ProgressUpdate) (*RunSummary, error) {
	planned := Plan(units)
	summary := &RunSummary{
		RunID:   shared.GenerateID(),
		Results: make([]UnitResult, len(planned)),
		Started: time.Now(),
	}

	for _, u := range planned {
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
	}

	sendProgress(progress, planRunUpdate(len(planned), 0))
	e.logger.Info("starting upload run", "run_id", summary.RunID, "units", len(planned), "concurrency", e.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	var denied atomic.Bool
	for i, unit := range planned {
		step := i + 1
		g.Go(func() error {
			if gctx.Err() != nil || denied.Load() {
				summary.Results[i] = e.deferred(gctx, unit, step, len(planned), progress)
				return nil
			}

			res := e.runUnit(gctx, unit, step, len(planned), progress)
			summary.Results[i] = res

			if cause := haltCause(res); cause != nil {
				return fmt.Errorf("%w: %w", shared.ErrRunHalted, cause)
			}
			if res.Kind == models.FailureQuotaDeniedToday {
				denied.Store(true)
			}
			return nil
		})
	}

	err := g.Wait()
	summary.Duration = time.Since(summary.Started)
	if errors.Is(err, shared.ErrRunHalted) {
		summary.Halted = true
		sendProgress(progress, haltRunUpdate(err))
		e.logger.Error("run halted", "error", err)
	}

	for _, r := range summary.Results {
		switch r.Outcome {
		case OutcomeCompleted:
			summary.Completed++
		case OutcomeFailed:
			summary.Failed++
		case OutcomePaused:
			summary.Paused++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeDeferred:
			summary.Deferred++
		}
	}

	e.logger.Info("upload run finished",
		"completed", summary.Completed, "failed", summary.Failed, "paused", summary.Paused,
		"skipped", summary.Skipped, "deferred", summary.Deferred, "took", summary.Duration.Round(time.Millisecond))

	if err != nil {
		return summary, err
	}
	return summary, ctx.Err()
}

// runUnit consults the ledger, then runs the unit's session and optional collection attach.
func (e *Engine) runUnit(ctx context.Context, unit models.UploadUnit, step, total int, progress chan<- ProgressUpdate) UnitResult {
	start := time.Now()
	res := UnitResult{Unit: unit}

	entry, err := e.ledger.Lookup(ctx, unit.Identity)
	if err != nil {
		res.Outcome, res.Kind, res.Err = OutcomeFailed, models.FailureIOFault, fmt.Errorf("ledger lookup failed: %w", err)
		return res
	}

	if reason, skip := e.skipReason(entry); skip {
		res.Outcome, res.Reason = OutcomeSkipped, reason
		res.RemoteID, res.Committed = entry.RemoteID, entry.Committed
		res.CollectionID, res.AttachState = entry.CollectionID, entry.AttachState

		if e.cfg.RetryAttach && entry.AttachPending() && e.attacher != nil {
			res.CollectionID, res.AttachState, res.AttachErr = e.attach(ctx, entry.Unit(), entry.RemoteID, step, total, progress)
		}
		sendProgress(progress, skipUnitUpdate(step, total, unit, reason))
		return res
	}

	if !e.acquire(unit.Identity) {
		res.Outcome, res.Reason = OutcomeSkipped, "already active"
		res.Err = fmt.Errorf("%w: %s", shared.ErrAlreadyActive, unit.Path)
		return res
	}
	defer e.release(unit.Identity)

	sess := newSession(e, unit, entry, progress, step, total)
	res.Resumed = sess.needResync
	err = sess.Run(ctx)

	state := sess.State()
	res.RemoteID = state.RemoteID
	res.Committed = state.Committed
	res.Kind = state.LastFailure
	res.Err = err
	res.Duration = time.Since(start)

	switch state.State {
	case models.StateCompleted:
		res.Outcome = OutcomeCompleted
		if unit.Collection != "" && e.attacher != nil {
			res.CollectionID, res.AttachState, res.AttachErr = e.attach(ctx, unit, state.RemoteID, step, total, progress)
		}
	case models.StateFailed:
		res.Outcome = OutcomeFailed
	default:
		res.Outcome = OutcomePaused
	}
	return res
}

// haltCause returns the credential rejection that must stop the run, from the upload or its collection attach.
func haltCause(res UnitResult) error {
	var ue *UnitError
	if errors.As(res.Err, &ue) && ue.Halts() {
		return ue
	}
	if res.AttachErr != nil && Classify(res.AttachErr).Kind == models.FailureAuthRejected {
		return res.AttachErr
	}
	return nil
}

// skipReason decides from the ledger whether the unit needs no session this run.
func (e *Engine) skipReason(entry *models.LedgerEntry) (string, bool) {
	if entry == nil {
		return "", false
	}
	switch entry.Status {
	case models.LedgerCompleted:
		return "already uploaded as " + entry.RemoteID, true
	case models.LedgerAbandoned:
		return "abandoned", true
	case models.LedgerFailed:
		if !e.cfg.RetryFailed {
			return "failed previously: " + entry.FailureKind.String(), true
		}
	}
	return "", false
}

// attach adds a completed upload to its collection. Failures are recorded but never demote the upload.
func (e *Engine) attach(ctx context.Context, unit models.UploadUnit, remoteID string, step, total int, progress chan<- ProgressUpdate) (string, models.AttachState, error) {
	var collectionID string
	err := retry.Do(ctx, e.cfg.Session.Policy, Classify, func(ctx context.Context) error {
		id, err := e.attacher.Attach(ctx, remoteID, unit.Collection)
		if err != nil {
			if dailyQuotaSpent(err) {
				e.governor.Exhaust(ctx)
			}
			return err
		}
		collectionID = id
		return nil
	})

	state := models.AttachDone
	if err != nil {
		switch Classify(err).Kind {
		case models.FailureQuotaDeniedToday, models.FailureCancelled:
			state = models.AttachDeferred
		default:
			state = models.AttachFailed
		}
		e.logger.Warn("collection attach failed", "file", unit.Name, "collection", unit.Collection, "state", state, "error", err)
	}

	if werr := e.ledger.MarkAttached(context.WithoutCancel(ctx), unit.Identity, collectionID, state); werr != nil {
		e.logger.Error("failed to record collection attach", "file", unit.Name, "error", werr)
	}
	sendProgress(progress, attachUpdate(step, total, unit, err))
	return collectionID, state, err
}

func (e *Engine) deferred(ctx context.Context, unit models.UploadUnit, step, total int, progress chan<- ProgressUpdate) UnitResult {
	res := UnitResult{Unit: unit, Outcome: OutcomeDeferred, Kind: models.FailureQuotaDeniedToday, Reason: "daily quota exhausted"}
	if err := context.Cause(ctx); err != nil {
		res.Kind, res.Reason, res.Err = models.FailureCancelled, "run stopped", err
	}
	sendProgress(progress, deferUnitUpdate(step, total, unit))
	return res
}

// acquire claims identity for one session. It fails when another session holds it.
func (e *Engine) acquire(identity string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[identity]; ok {
		return false
	}
	e.active[identity] = struct{}{}
	return true
}

func (e *Engine) release(identity string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, identity)
}
