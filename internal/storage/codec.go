package storage

import (
	"encoding/json"
	"errors"

	"enca/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps new records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeEnsembles(records []model.EnsembleRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeEnsembles(data []byte) ([]model.EnsembleRecord, error) {
	var records []model.EnsembleRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
		if err := record.Ensemble.Validate(); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func EncodeEpochMetrics(metrics []model.EpochMetric) ([]byte, error) {
	return json.Marshal(metrics)
}

func DecodeEpochMetrics(data []byte) ([]model.EpochMetric, error) {
	var metrics []model.EpochMetric
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

func EncodeTaskReport(r model.TaskReport) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeTaskReport(data []byte) (model.TaskReport, error) {
	var report model.TaskReport
	if err := json.Unmarshal(data, &report); err != nil {
		return model.TaskReport{}, err
	}
	if err := checkVersion(report.VersionedRecord); err != nil {
		return model.TaskReport{}, err
	}
	return report, nil
}

func EncodeRunSummary(s model.RunSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeRunSummary(data []byte) (model.RunSummary, error) {
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.RunSummary{}, err
	}
	return summary, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
