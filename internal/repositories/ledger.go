package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/shared"
)

const ledgerColumns = `
	id, identity, path, size, mod_time, metadata, collection, status,
	committed_offset, session_handle, remote_id, failure_kind, failure_message,
	attempts, collection_id, attach_state, created_at, updated_at, completed_at
`

// LedgerRepository persists [models.LedgerEntry] rows keyed by unit identity.
//
// Every write is a single statement, so a crash leaves either the previous or the new row.
type LedgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository creates a new LedgerRepository with the given database connection
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Lookup returns the entry for identity, or nil when the unit has never been recorded.
func (r *LedgerRepository) Lookup(ctx context.Context, identity string) (*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM upload_ledger WHERE identity = ?`

	entry, err := r.scan(r.db.QueryRowContext(ctx, query, identity))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Find resolves key as an identity, a file path, or a unique identity prefix.
func (r *LedgerRepository) Find(ctx context.Context, key string) (*models.LedgerEntry, error) {
	if entry, err := r.Lookup(ctx, key); err != nil || entry != nil {
		return entry, err
	}

	query := `SELECT ` + ledgerColumns + ` FROM upload_ledger WHERE path = ? OR identity LIKE ? ESCAPE '\' ORDER BY updated_at DESC`
	entries, err := r.query(ctx, query, key, escapeLike(key)+"%")
	if err != nil {
		return nil, err
	}

	switch len(entries) {
	case 0:
		return nil, fmt.Errorf("%w: %s", shared.ErrLedgerEntryNotFound, key)
	case 1:
		return entries[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d entries", shared.ErrInvalidArgument, key, len(entries))
	}
}

// Upsert inserts or replaces the entry for its identity.
func (r *LedgerRepository) Upsert(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = shared.GenerateID()
	}

	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	if entry.Status == models.LedgerCompleted && entry.CompletedAt == nil {
		entry.CompletedAt = &now
	}

	if err := entry.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO upload_ledger (` + ledgerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			path = excluded.path,
			size = excluded.size,
			mod_time = excluded.mod_time,
			metadata = excluded.metadata,
			collection = excluded.collection,
			status = excluded.status,
			committed_offset = excluded.committed_offset,
			session_handle = excluded.session_handle,
			remote_id = excluded.remote_id,
			failure_kind = excluded.failure_kind,
			failure_message = excluded.failure_message,
			attempts = excluded.attempts,
			collection_id = excluded.collection_id,
			attach_state = excluded.attach_state,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Identity,
		entry.Path,
		entry.Size,
		entry.ModTime.UTC(),
		string(metadata),
		entry.Collection,
		string(entry.Status),
		entry.Committed,
		entry.Handle,
		entry.RemoteID,
		string(entry.FailureKind),
		entry.FailureMessage,
		entry.Attempts,
		entry.CollectionID,
		string(entry.AttachState),
		entry.CreatedAt.UTC(),
		entry.UpdatedAt.UTC(),
		nullTime(entry.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert ledger entry: %w", err)
	}

	return nil
}

// MarkTerminal moves an existing entry to a terminal status.
//
// A completed entry keeps its committed offset at full size and drops its session handle.
func (r *LedgerRepository) MarkTerminal(ctx context.Context, identity string, status models.LedgerStatus, remoteID string, kind models.FailureKind, message string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal status", shared.ErrInvalidArgument, status)
	}
	if status == models.LedgerCompleted && remoteID == "" {
		return fmt.Errorf("%w: completed entries need a remote id", shared.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	query := `
		UPDATE upload_ledger
		SET status = ?, remote_id = CASE WHEN ? = '' THEN remote_id ELSE ? END,
			failure_kind = ?, failure_message = ?, session_handle = '',
			committed_offset = CASE WHEN ? = 'completed' THEN size ELSE committed_offset END,
			completed_at = CASE WHEN ? = 'completed' THEN ? ELSE completed_at END,
			updated_at = ?
		WHERE identity = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(status), remoteID, remoteID,
		string(kind), message,
		string(status),
		string(status), now,
		now,
		identity,
	)
	if err != nil {
		return fmt.Errorf("failed to mark ledger entry: %w", err)
	}

	return requireRow(result, identity)
}

// MarkAttached records the outcome of adding a completed upload to its collection.
func (r *LedgerRepository) MarkAttached(ctx context.Context, identity, collectionID string, state models.AttachState) error {
	query := `
		UPDATE upload_ledger
		SET collection_id = ?, attach_state = ?, updated_at = ?
		WHERE identity = ?
	`

	result, err := r.db.ExecContext(ctx, query, collectionID, string(state), time.Now().UTC(), identity)
	if err != nil {
		return fmt.Errorf("failed to mark attachment: %w", err)
	}

	return requireRow(result, identity)
}

// Abandon marks a non-completed entry as abandoned so it is never resumed.
func (r *LedgerRepository) Abandon(ctx context.Context, identity string) error {
	entry, err := r.Lookup(ctx, identity)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: %s", shared.ErrLedgerEntryNotFound, identity)
	}
	if entry.Status == models.LedgerCompleted {
		return fmt.Errorf("%w: %s is already completed", shared.ErrInvalidArgument, entry.Path)
	}

	return r.MarkTerminal(ctx, identity, models.LedgerAbandoned, "", entry.FailureKind, "abandoned by operator")
}

// ListResumable returns every non-terminal entry ordered by path.
func (r *LedgerRepository) ListResumable(ctx context.Context) ([]*models.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM upload_ledger
		WHERE status NOT IN ('completed', 'failed', 'abandoned')
		ORDER BY path
	`
	return r.query(ctx, query)
}

// ListPendingAttachments returns completed entries whose collection attach has not succeeded.
func (r *LedgerRepository) ListPendingAttachments(ctx context.Context) ([]*models.LedgerEntry, error) {
	query := `
		SELECT ` + ledgerColumns + `
		FROM upload_ledger
		WHERE status = 'completed' AND collection != '' AND attach_state != 'attached'
		ORDER BY path
	`
	return r.query(ctx, query)
}

// List retrieves entries matching the given criteria.
//
// Supported keys: "status" (string), "path_prefix" (string), "limit" (int).
func (r *LedgerRepository) List(ctx context.Context, criteria map[string]any) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM upload_ledger WHERE 1 = 1`
	args := []any{}

	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	if prefix, ok := criteria["path_prefix"].(string); ok && prefix != "" {
		query += ` AND path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(prefix)+"%")
	}

	query += " ORDER BY path"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

// Counts returns the number of entries per status.
func (r *LedgerRepository) Counts(ctx context.Context) (map[models.LedgerStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM upload_ledger GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.LedgerStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.LedgerStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return counts, nil
}

// Prune deletes terminal entries with the given status last updated before olderThan.
func (r *LedgerRepository) Prune(ctx context.Context, status models.LedgerStatus, olderThan time.Time) (int64, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("%w: only terminal entries can be pruned, got %s", shared.ErrInvalidArgument, status)
	}

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM upload_ledger WHERE status = ? AND updated_at < ?",
		string(status), olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune ledger: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

func (r *LedgerRepository) query(ctx context.Context, query string, args ...any) ([]*models.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return entries, nil
}

// scan reads one row into a [models.LedgerEntry]; [sql.ErrNoRows] is returned unwrapped.
func (r *LedgerRepository) scan(row scanner) (*models.LedgerEntry, error) {
	var (
		entry       models.LedgerEntry
		metadata    string
		status      string
		failureKind string
		attachState string
		completedAt sql.NullTime
	)

	err := row.Scan(
		&entry.ID, &entry.Identity, &entry.Path, &entry.Size, &entry.ModTime,
		&metadata, &entry.Collection, &status, &entry.Committed, &entry.Handle,
		&entry.RemoteID, &failureKind, &entry.FailureMessage, &entry.Attempts,
		&entry.CollectionID, &attachState, &entry.CreatedAt, &entry.UpdatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", entry.Path, err)
	}

	entry.Status = models.LedgerStatus(status)
	entry.FailureKind = models.FailureKind(failureKind)
	entry.AttachState = models.AttachState(attachState)
	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}

	return &entry, nil
}
