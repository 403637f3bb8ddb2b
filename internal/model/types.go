package model

import "enca/internal/nca"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// EnsembleRecord is one trained individual of a task.
type EnsembleRecord struct {
	VersionedRecord
	RunID     string       `json:"run_id"`
	TaskID    string       `json:"task_id"`
	Rank      int          `json:"rank"`
	Ensemble  nca.Ensemble `json:"ensemble"`
	Fitness   float64      `json:"fitness"`
	TrainAccs []float64    `json:"train_accs"`
}

type EpochMetric struct {
	Epoch        int     `json:"epoch"`
	IndividualID int     `json:"individual_id"`
	Fitness      float64 `json:"fitness"`
	MeanAccuracy float64 `json:"mean_accuracy"`
}

type TaskReport struct {
	VersionedRecord
	RunID          string    `json:"run_id"`
	TaskID         string    `json:"task_id"`
	NExamplesTrain int       `json:"n_examples_train"`
	NExamplesTest  int       `json:"n_examples_test"`
	TrainAccs      []float64 `json:"train_accs"`
	TestAccs       []float64 `json:"test_accs,omitempty"`
	Solved         int       `json:"solved"`
	Epochs         int       `json:"epochs"`
	DurationMs     int64     `json:"duration_ms"`
}

type RunSummary struct {
	VersionedRecord
	RunID            string  `json:"run_id"`
	CreatedAtUTC     string  `json:"created_at_utc"`
	Backend          string  `json:"backend"`
	NTasks           int     `json:"n_tasks"`
	TotalTestGrids   int     `json:"total_test_grids"`
	TotalTestCorrect int     `json:"total_test_correct"`
	TestAccuracy     float64 `json:"test_accuracy"`
	ElapsedMs        int64   `json:"elapsed_ms"`
	Seed             int64   `json:"seed"`
}
