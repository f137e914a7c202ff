package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/ytup/internal/formatter"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/repositories"
	"github.com/desertthunder/ytup/internal/shared"
	"github.com/urfave/cli/v3"
)

func (r *Runner) ledger() (*repositories.LedgerRepository, func(), error) {
	db, err := r.openDatabase()
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewLedgerRepository(db), func() { db.Close() }, nil
}

func parseStatus(s string) (models.LedgerStatus, error) {
	status := models.LedgerStatus(strings.ToLower(s))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", shared.ErrInvalidFlag, s)
	}
	return status, nil
}

// LedgerList prints ledger entries.
func (r *Runner) LedgerList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	criteria := map[string]any{}
	if s := cmd.String("status"); s != "" {
		status, err := parseStatus(s)
		if err != nil {
			return err
		}
		criteria["status"] = string(status)
	}
	if limit := cmd.Int("limit"); limit > 0 {
		criteria["limit"] = limit
	}

	ledger, done, err := r.ledger()
	if err != nil {
		return err
	}
	defer done()

	entries, err := ledger.List(ctx, criteria)
	if err != nil {
		return err
	}

	data, err := formatter.RenderEntries(entries, format)
	if err != nil {
		return err
	}
	if err := r.writeBytes(data); err != nil {
		return err
	}
	if format != formatter.FormatText || len(entries) == 0 {
		return nil
	}

	counts, err := ledger.Counts(ctx)
	if err != nil {
		return err
	}
	parts := []string{}
	for _, status := range models.LedgerStatuses {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	return r.writePlain("\nLedger: %s\n", strings.Join(parts, ", "))
}

// LedgerShow prints the details of one entry.
func (r *Runner) LedgerShow(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("key")
	if key == "" {
		return fmt.Errorf("%w: identity or path", shared.ErrMissingArgument)
	}

	ledger, done, err := r.ledger()
	if err != nil {
		return err
	}
	defer done()

	entry, err := ledger.Find(ctx, key)
	if err != nil {
		return err
	}
	return r.writeBytes(formatter.EntryDetail(entry))
}

// LedgerAbandon marks an entry so no later run resumes it.
func (r *Runner) LedgerAbandon(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("key")
	if key == "" {
		return fmt.Errorf("%w: identity or path", shared.ErrMissingArgument)
	}

	ledger, done, err := r.ledger()
	if err != nil {
		return err
	}
	defer done()

	entry, err := ledger.Find(ctx, key)
	if err != nil {
		return err
	}
	if err := ledger.Abandon(ctx, entry.Identity); err != nil {
		return err
	}

	r.logger.Info("ledger entry abandoned", "identity", entry.Identity, "path", entry.Path)
	return r.writePlain("✓ Abandoned %s (%s)\n", entry.Path, models.ShortIdentity(entry.Identity))
}

// LedgerPrune deletes terminal entries and quota log rows older than --older-than.
func (r *Runner) LedgerPrune(ctx context.Context, cmd *cli.Command) error {
	status, err := parseStatus(cmd.String("status"))
	if err != nil {
		return err
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	cutoff := time.Now().Add(-cmd.Duration("older-than"))
	n, err := repositories.NewLedgerRepository(db).Prune(ctx, status, cutoff)
	if err != nil {
		return err
	}
	if err := r.writePlain("Pruned %d %s entries\n", n, status); err != nil {
		return err
	}

	// The quota log is only read for the current day.
	ops, err := repositories.NewQuotaRepository(db).PruneOperations(ctx, cutoff)
	if err != nil {
		return err
	}
	if ops > 0 {
		return r.writePlain("Pruned %d quota log rows\n", ops)
	}
	return nil
}
