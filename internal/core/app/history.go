package app

import (
	"context"
	"depwise/internal/data/history"
	"log/slog"
)

// recordRun stores the report and attaches the delta against the previous
// run of the same project. History problems never fail a check.
func (a *App) recordRun(ctx context.Context, projectKey string, report *Report) {
	if a.history == nil {
		return
	}

	var previous *history.Run
	if runs, err := a.history.ListRuns(ctx, projectKey, 1); err != nil {
		slog.Warn("failed to read run history", "error", err)
	} else if len(runs) > 0 {
		if prev, err := a.history.LoadRun(ctx, runs[0].ID); err != nil {
			slog.Warn("failed to load previous run", "id", runs[0].ID, "error", err)
		} else {
			previous = &prev
		}
	}

	saved, err := a.history.SaveRun(ctx, report.historyRun(projectKey))
	if err != nil {
		slog.Warn("failed to save run", "error", err)
		return
	}
	report.RunID = saved.ID
	if previous != nil {
		delta := history.Compare(*previous, saved)
		report.Delta = &delta
	}

	if keep := a.Config.History.Keep; keep > 0 {
		if removed, err := a.history.Prune(ctx, projectKey, keep); err != nil {
			slog.Warn("failed to prune run history", "error", err)
		} else if removed > 0 {
			slog.Debug("pruned run history", "removed", removed)
		}
	}
}

// Runs lists stored runs of a project, newest first.
func (a *App) Runs(ctx context.Context, projectKey string, limit int) ([]history.Run, error) {
	if a.history == nil {
		return nil, nil
	}
	return a.history.ListRuns(ctx, projectKey, limit)
}

// LoadRun loads one stored run with its findings.
func (a *App) LoadRun(ctx context.Context, id string) (history.Run, error) {
	if a.history == nil {
		return history.Run{}, history.ErrNotFound
	}
	return a.history.LoadRun(ctx, id)
}
