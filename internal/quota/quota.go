// Package quota gates remote calls behind a request-rate window and a daily cost budget.
//
// The [Governor] is shared by every concurrent session. A call proceeds only
// after [Governor.Reserve] grants it, and a grant is charged against both the
// token bucket and the calendar-day ledger before it is returned, so the
// budget can never be exceeded by racing sessions.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
	"golang.org/x/time/rate"
)

// Operation names a billable remote call.
type Operation string

const (
	OpInitiate       Operation = "initiate"
	OpChunk          Operation = "chunk"
	OpQuery          Operation = "query"
	OpPlaylistList   Operation = "playlist_list"
	OpPlaylistCreate Operation = "playlist_create"
	OpPlaylistInsert Operation = "playlist_insert"
	OpVideoStatus    Operation = "video_status"
)

// Verdict is the answer to a reservation.
type Verdict int

const (
	Granted Verdict = iota
	DeferUntil
	DeniedToday
)

func (v Verdict) String() string {
	switch v {
	case Granted:
		return "granted"
	case DeferUntil:
		return "defer"
	case DeniedToday:
		return "denied-today"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Reservation is the result of [Governor.Reserve].
type Reservation struct {
	Verdict Verdict
	Op      Operation
	Cost    int
	// Until is when to ask again (DeferUntil) or when the budget resets (DeniedToday).
	Until time.Time
}

// Store persists the daily budget across runs.
type Store interface {
	LoadQuota(ctx context.Context) (*models.QuotaState, error)
	SaveQuota(ctx context.Context, state models.QuotaState) error
	RecordOperation(ctx context.Context, op string, cost int, at time.Time) error
}

// Options configures a [Governor].
type Options struct {
	DailyBudget       int
	RequestsPerMinute int
	ResetHourUTC      int
	Costs             map[Operation]int
	Store             Store
	Logger            *log.Logger
	// Clock defaults to [time.Now].
	Clock func() time.Time
}

// OptionsFromConfig builds [Options] from the [quota] config section.
func OptionsFromConfig(cfg shared.QuotaConfig) Options {
	return Options{
		DailyBudget:       cfg.DailyBudget,
		RequestsPerMinute: cfg.RequestsPerMinute,
		ResetHourUTC:      cfg.ResetHourUTC,
		Costs: map[Operation]int{
			OpInitiate:       cfg.Costs.Initiate,
			OpChunk:          cfg.Costs.Chunk,
			OpQuery:          cfg.Costs.Query,
			OpPlaylistList:   cfg.Costs.PlaylistList,
			OpPlaylistCreate: cfg.Costs.PlaylistCreate,
			OpPlaylistInsert: cfg.Costs.PlaylistInsert,
			OpVideoStatus:    cfg.Costs.VideoStatus,
		},
	}
}

// Status is a snapshot for reporting.
type Status struct {
	DailyBudget       int
	Consumed          int
	Remaining         int
	ResetAt           time.Time
	RequestsPerMinute int
	Tokens            float64
}

// Governor is safe for concurrent use.
type Governor struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	state   models.QuotaState
	costs   map[Operation]int
	rpm     int
	resetH  int
	store   Store
	logger  *log.Logger
	clock   func() time.Time
}

// New creates a Governor, loading persisted state from the store when one is given.
func New(ctx context.Context, opts Options) (*Governor, error) {
	if opts.DailyBudget < 1 {
		return nil, fmt.Errorf("%w: daily budget must be positive", shared.ErrInvalidConfig)
	}
	if opts.RequestsPerMinute < 1 {
		return nil, fmt.Errorf("%w: requests per minute must be positive", shared.ErrInvalidConfig)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	now := opts.Clock()
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), opts.RequestsPerMinute)

	g := &Governor{
		limiter: limiter,
		costs:   opts.Costs,
		rpm:     opts.RequestsPerMinute,
		resetH:  opts.ResetHourUTC,
		store:   opts.Store,
		logger:  opts.Logger,
		clock:   opts.Clock,
		state: models.QuotaState{
			DailyBudget: opts.DailyBudget,
			ResetAt:     NextReset(now, opts.ResetHourUTC),
			UpdatedAt:   now,
		},
	}

	if g.store != nil {
		saved, err := g.store.LoadQuota(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load quota state: %w", err)
		}
		if saved != nil && now.Before(saved.ResetAt) {
			g.state.Consumed = saved.Consumed
			g.state.ResetAt = saved.ResetAt
			g.logger.Debug("restored quota state", "consumed", saved.Consumed, "reset_at", saved.ResetAt)
		}
	}

	return g, nil
}

// Cost returns the configured budget cost of op.
func (g *Governor) Cost(op Operation) int {
	return g.costs[op]
}

// Reserve asks permission for one call of op without blocking.
//
// A grant consumes one request token and the operation's cost immediately.
// Deferred and denied reservations consume nothing.
func (g *Governor) Reserve(ctx context.Context, op Operation) Reservation {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	g.rollover(now)

	cost := g.costs[op]
	if cost > 0 && g.state.Consumed+cost > g.state.DailyBudget {
		return Reservation{Verdict: DeniedToday, Op: op, Cost: cost, Until: g.state.ResetAt}
	}

	r := g.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Reservation{Verdict: DeniedToday, Op: op, Cost: cost, Until: g.state.ResetAt}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Reservation{Verdict: DeferUntil, Op: op, Cost: cost, Until: now.Add(delay)}
	}

	g.state.Consumed += cost
	g.state.UpdatedAt = now
	g.persist(ctx, op, cost, now)

	return Reservation{Verdict: Granted, Op: op, Cost: cost}
}

// Wait blocks until op is granted, the budget is denied for today, or ctx ends.
func (g *Governor) Wait(ctx context.Context, op Operation) (Reservation, error) {
	for {
		r := g.Reserve(ctx, op)
		switch r.Verdict {
		case Granted:
			return r, nil
		case DeniedToday:
			return r, fmt.Errorf("%w: %s needs %d, resets at %s", shared.ErrQuotaDenied, op, r.Cost, r.Until.Format(time.RFC3339))
		}

		timer := time.NewTimer(r.Until.Sub(g.clock()))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return r, ctx.Err()
		}
	}
}

// Refund returns the cost of a granted reservation whose call was never sent.
func (g *Governor) Refund(ctx context.Context, r Reservation) {
	if r.Verdict != Granted || r.Cost == 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.state.Consumed -= r.Cost
	if g.state.Consumed < 0 {
		g.state.Consumed = 0
	}
	g.persist(ctx, r.Op, -r.Cost, g.clock())
}

// Exhaust marks today's budget as spent, used when the remote reports its daily limit.
func (g *Governor) Exhaust(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	g.rollover(now)
	if g.state.Consumed >= g.state.DailyBudget {
		return
	}
	g.state.Consumed = g.state.DailyBudget
	g.state.UpdatedAt = now
	g.logger.Warn("remote reported daily quota exhausted", "reset_at", g.state.ResetAt)
	if g.store != nil {
		if err := g.store.SaveQuota(ctx, g.state); err != nil {
			g.logger.Warn("failed to persist quota state", "error", err)
		}
	}
}

// Status returns a snapshot of the budget.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	g.rollover(now)
	return Status{
		DailyBudget:       g.state.DailyBudget,
		Consumed:          g.state.Consumed,
		Remaining:         g.state.Remaining(),
		ResetAt:           g.state.ResetAt,
		RequestsPerMinute: g.rpm,
		Tokens:            g.limiter.TokensAt(now),
	}
}

// rollover starts a new budget day once the reset time has passed. Callers hold g.mu.
func (g *Governor) rollover(now time.Time) {
	if now.Before(g.state.ResetAt) {
		return
	}
	g.logger.Info("daily quota reset", "consumed", g.state.Consumed)
	g.state.Consumed = 0
	g.state.ResetAt = NextReset(now, g.resetH)
	g.state.UpdatedAt = now
}

// persist writes the state and operation log. Callers hold g.mu.
// Failures are logged; the in-memory counter stays authoritative for this process.
func (g *Governor) persist(ctx context.Context, op Operation, cost int, at time.Time) {
	if g.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := g.store.SaveQuota(ctx, g.state); err != nil {
		g.logger.Warn("failed to persist quota state", "error", err)
	}
	if cost != 0 {
		if err := g.store.RecordOperation(ctx, string(op), cost, at); err != nil {
			g.logger.Warn("failed to record quota operation", "op", op, "error", err)
		}
	}
}

// NextReset returns the first instant strictly after now at hour:00 UTC.
func NextReset(now time.Time, hour int) time.Time {
	now = now.UTC()
	reset := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !reset.After(now) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset
}
