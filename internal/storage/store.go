package storage

import (
	"context"

	"covsim/internal/model"
)

// Store persists runs, per-cycle summaries and the selected population of
// every cycle so that runs can be listed, inspected and resumed.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	// SaveCycle stores a cycle summary together with its selected population.
	SaveCycle(ctx context.Context, summary model.CycleSummary, selected []model.SelectedSequence) error
	GetHistory(ctx context.Context, runID string) ([]model.CycleSummary, bool, error)
	GetSelected(ctx context.Context, runID string, cycle int) ([]model.SelectedSequence, bool, error)
}
