package storage

import (
	"context"

	"enca/internal/model"
)

// Store persists trained ensembles, per-epoch metrics and run reports.
type Store interface {
	Init(ctx context.Context) error
	SaveEnsembles(ctx context.Context, runID, taskID string, records []model.EnsembleRecord) error
	GetEnsembles(ctx context.Context, runID, taskID string) ([]model.EnsembleRecord, bool, error)
	SaveEpochMetrics(ctx context.Context, runID, taskID string, metrics []model.EpochMetric) error
	GetEpochMetrics(ctx context.Context, runID, taskID string) ([]model.EpochMetric, bool, error)
	SaveTaskReport(ctx context.Context, report model.TaskReport) error
	GetTaskReport(ctx context.Context, runID, taskID string) (model.TaskReport, bool, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRunSummaries(ctx context.Context) ([]model.RunSummary, error)
}
