package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/ytup/internal/models"
	"github.com/desertthunder/ytup/internal/repositories"
	"github.com/desertthunder/ytup/internal/shared"
	"github.com/desertthunder/ytup/internal/tasks"
	"github.com/desertthunder/ytup/internal/ui"
)

// useFileLogger redirects logs to [paths] log_file so they do not interfere with TUI rendering.
func (r *Runner) useFileLogger() (func(), error) {
	fileLogger, f, err := shared.NewFileLogger(r.config.Paths.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, r.logger.GetLevel())

	prev := r.logger
	r.SetLogger(fileLogger)
	return func() {
		r.SetLogger(prev)
		f.Close()
	}, nil
}

// runTUI runs the engine under the interactive monitor.
func (r *Runner) runTUI(ctx context.Context, engine *tasks.Engine, ledger *repositories.LedgerRepository, units []models.UploadUnit, autoStart bool) (*tasks.RunSummary, error) {
	entries := make(map[string]*models.LedgerEntry, len(units))
	for _, u := range units {
		entry, err := ledger.Lookup(ctx, u.Identity)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries[u.Identity] = entry
		}
	}

	model := ui.NewModel(ctx, ui.ModelOpts{Runner: engine, Units: units, Entries: entries, AutoStart: autoStart})
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return nil, fmt.Errorf("error running TUI: %w", err)
	}

	return model.Summary(), model.Err()
}
