package storage

import (
	"enca/internal/model"
	"enca/internal/nca"
)

func sampleEnsembleRecord(runID, taskID string) model.EnsembleRecord {
	return model.EnsembleRecord{
		VersionedRecord: CurrentVersion(),
		RunID:           runID,
		TaskID:          taskID,
		Rank:            0,
		Ensemble:        nca.Ensemble{TaskID: taskID, Rules: []nca.Rule{nca.Identity(10)}},
		Fitness:         0.25,
		TrainAccs:       []float64{1, 0.5},
	}
}
