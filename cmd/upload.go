package main

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/ytup/internal/catalog"
	"github.com/desertthunder/ytup/internal/formatter"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/repositories"
	"github.com/desertthunder/ytup/internal/shared"
	"github.com/desertthunder/ytup/internal/tasks"
	"github.com/urfave/cli/v3"
)

// UploadRun scans a directory and uploads every supported video.
func (r *Runner) UploadRun(ctx context.Context, cmd *cli.Command) error {
	dir := cmp.Or(cmd.String("dir"), r.config.Paths.VideosDirectory)
	src, err := catalog.NewDirectorySource(catalog.Options{
		Directory:      dir,
		MetadataPath:   cmp.Or(cmd.String("metadata"), r.config.Paths.MetadataFile),
		DefaultPrivacy: r.config.Upload.DefaultPrivacy,
		Logger:         r.logger,
	})
	if err != nil {
		return err
	}

	units, err := src.Units(ctx)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		return r.writePlain("No videos found in %s\n", dir)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	return r.upload(ctx, cmd, db, units)
}

// UploadResume rebuilds units from unfinished ledger entries and continues them.
func (r *Runner) UploadResume(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	ledger := repositories.NewLedgerRepository(db)
	entries, err := ledger.ListResumable(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("retry-attach") {
		pending, err := ledger.ListPendingAttachments(ctx)
		if err != nil {
			return err
		}
		entries = append(entries, pending...)
	}

	if len(entries) == 0 {
		return r.writePlain("Nothing to resume.\n")
	}

	units := make([]models.UploadUnit, 0, len(entries))
	for _, e := range entries {
		units = append(units, e.Unit())
	}
	r.logger.Info("resuming from ledger", "units", len(units))

	return r.upload(ctx, cmd, db, units)
}

// upload runs the engine over units and reports the summary.
func (r *Runner) upload(ctx context.Context, cmd *cli.Command, db *sql.DB, units []models.UploadUnit) error {
	tui := cmd.Bool("tui")
	if tui {
		closeLog, err := r.useFileLogger()
		if err != nil {
			return err
		}
		defer closeLog()
	}

	engine, err := r.newEngine(ctx, db, engineFlags{
		concurrency: cmd.Int("concurrency"),
		retryFailed: cmd.Bool("retry-failed"),
		retryAttach: cmd.Bool("retry-attach"),
	})
	if err != nil {
		return err
	}

	var (
		summary *tasks.RunSummary
		runErr  error
	)
	if tui {
		summary, runErr = r.runTUI(ctx, engine, repositories.NewLedgerRepository(db), units, cmd.Bool("yes"))
	} else {
		summary, runErr = r.runPlain(ctx, engine, units, cmd.Bool("json"))
	}
	if summary == nil {
		return runErr
	}

	if err := r.reportSummary(summary, cmd.Bool("json"), cmd.String("report")); err != nil {
		return err
	}
	return runOutcome(summary, runErr)
}

// runPlain prints progress messages while the engine runs. Nothing is printed in JSON mode.
func (r *Runner) runPlain(ctx context.Context, engine *tasks.Engine, units []models.UploadUnit, quiet bool) (*tasks.RunSummary, error) {
	progressCh := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			if quiet || update.Message == "" {
				continue
			}
			switch update.Phase {
			case tasks.PlanRun, tasks.HaltRun:
				r.writePlain("%s\n\n", update.Message)
			case tasks.TransferChunk:
				r.writePlain("   %s\n", update.Message)
			default:
				r.writePlain("%s\n", update.Message)
			}
		}
	}()

	summary, err := engine.Run(ctx, units, progressCh)
	close(progressCh)
	<-done

	return summary, err
}

func (r *Runner) reportSummary(summary *tasks.RunSummary, asJSON bool, report string) error {
	if report != "" {
		if err := formatter.WriteSummary(summary, report); err != nil {
			return err
		}
		r.logger.Info("run report written", "path", report)
	}

	format := formatter.FormatText
	if asJSON {
		format = formatter.FormatJSON
	} else {
		r.writePlain("\n")
		r.writePlainHeader("Upload run " + summary.RunID)
	}

	data, err := formatter.RenderSummary(summary, format)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}

// runOutcome turns a finished run into the command's error, so failed or halted runs exit non-zero.
func runOutcome(summary *tasks.RunSummary, runErr error) error {
	switch {
	case errors.Is(runErr, shared.ErrRunHalted):
		return runErr
	case runErr != nil && !errors.Is(runErr, context.Canceled):
		return runErr
	case summary.Failed > 0:
		return fmt.Errorf("%w: %d of %d units failed", errUnitsFailed, summary.Failed, len(summary.Results))
	}
	return nil
}
