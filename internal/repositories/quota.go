package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytup/internal/models"
)

// QuotaOperation is one granted, billable call.
type QuotaOperation struct {
	Operation string
	Cost      int
	GrantedAt time.Time
}

// QuotaRepository persists the daily budget counter and the log of granted operations.
type QuotaRepository struct {
	db *sql.DB
}

// NewQuotaRepository creates a new QuotaRepository with the given database connection
func NewQuotaRepository(db *sql.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// LoadQuota returns the saved state, or nil when none has been written.
func (r *QuotaRepository) LoadQuota(ctx context.Context) (*models.QuotaState, error) {
	var state models.QuotaState
	err := r.db.QueryRowContext(ctx,
		"SELECT daily_budget, consumed, reset_at, updated_at FROM quota_state WHERE id = 1",
	).Scan(&state.DailyBudget, &state.Consumed, &state.ResetAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load quota state: %w", err)
	}
	return &state, nil
}

// SaveQuota writes the single state row.
func (r *QuotaRepository) SaveQuota(ctx context.Context, state models.QuotaState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO quota_state (id, daily_budget, consumed, reset_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			daily_budget = excluded.daily_budget,
			consumed = excluded.consumed,
			reset_at = excluded.reset_at,
			updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, state.DailyBudget, state.Consumed, state.ResetAt.UTC(), state.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to save quota state: %w", err)
	}
	return nil
}

// RecordOperation appends a granted (positive cost) or refunded (negative cost) operation.
func (r *QuotaRepository) RecordOperation(ctx context.Context, op string, cost int, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO quota_operations (operation, cost, granted_at) VALUES (?, ?, ?)",
		op, cost, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record quota operation: %w", err)
	}
	return nil
}

// OperationsSince returns operations granted at or after since, oldest first.
func (r *QuotaRepository) OperationsSince(ctx context.Context, since time.Time) ([]QuotaOperation, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT operation, cost, granted_at FROM quota_operations WHERE granted_at >= ? ORDER BY id",
		since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota operations: %w", err)
	}
	defer rows.Close()

	var ops []QuotaOperation
	for rows.Next() {
		var op QuotaOperation
		if err := rows.Scan(&op.Operation, &op.Cost, &op.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quota operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return ops, nil
}

// PruneOperations deletes operations granted before cutoff.
func (r *QuotaRepository) PruneOperations(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM quota_operations WHERE granted_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune quota operations: %w", err)
	}
	return result.RowsAffected()
}
