package main

import (
	"context"
	"slices"
	"time"

	"github.com/desertthunder/ytup/internal/repositories"
	"github.com/desertthunder/ytup/internal/shared"
	"github.com/urfave/cli/v3"
)

type operationUsage struct {
	Operation string `json:"operation"`
	Calls     int    `json:"calls"`
	Cost      int    `json:"cost"`
}

type quotaReport struct {
	DailyBudget       int              `json:"daily_budget"`
	Consumed          int              `json:"consumed"`
	Remaining         int              `json:"remaining"`
	ResetAt           time.Time        `json:"reset_at"`
	RequestsPerMinute int              `json:"requests_per_minute"`
	Operations        []operationUsage `json:"operations,omitempty"`
}

// QuotaStatus reports today's budget and the operations charged against it.
func (r *Runner) QuotaStatus(ctx context.Context, cmd *cli.Command) error {
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	gov, err := r.governor(ctx, db)
	if err != nil {
		return err
	}
	status := gov.Status()

	report := quotaReport{
		DailyBudget:       status.DailyBudget,
		Consumed:          status.Consumed,
		Remaining:         status.Remaining,
		ResetAt:           status.ResetAt,
		RequestsPerMinute: status.RequestsPerMinute,
	}

	ops, err := repositories.NewQuotaRepository(db).OperationsSince(ctx, status.ResetAt.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	usage := map[string]*operationUsage{}
	for _, op := range ops {
		u, ok := usage[op.Operation]
		if !ok {
			u = &operationUsage{Operation: op.Operation}
			usage[op.Operation] = u
		}
		u.Calls++
		u.Cost += op.Cost
	}
	for _, u := range usage {
		report.Operations = append(report.Operations, *u)
	}
	slices.SortFunc(report.Operations, func(a, b operationUsage) int { return b.Cost - a.Cost })

	if cmd.Bool("json") {
		return r.writeJSON(report, true)
	}

	r.writePlainHeader("Daily quota")
	r.writePlain("Budget:     %d\n", report.DailyBudget)
	r.writePlain("Consumed:   %d\n", report.Consumed)
	r.writePlain("Remaining:  %d\n", report.Remaining)
	r.writePlain("Resets at:  %s (in %s)\n", report.ResetAt.Local().Format(time.DateTime), time.Until(report.ResetAt).Round(time.Minute))
	r.writePlain("Rate limit: %d requests/minute\n", report.RequestsPerMinute)
	if !r.config.Quota.Persist {
		r.writePlain("\nQuota persistence is off; consumption is only tracked within a run.\n")
		return nil
	}

	if len(report.Operations) > 0 {
		r.writePlain("\n")
		for _, u := range report.Operations {
			r.writePlain("  %-16s %5d calls  %6d units\n", u.Operation, u.Calls, u.Cost)
		}
	}
	if report.Remaining == 0 {
		r.writePlain("\n%s: uploads resume after the reset.\n", shared.ErrQuotaDenied)
	}
	return nil
}
