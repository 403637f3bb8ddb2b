package storage

import (
	"context"
	"errors"
	"sync"

	"enca/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	ensembles   map[string][]model.EnsembleRecord
	metrics     map[string][]model.EpochMetric
	reports     map[string]model.TaskReport
	summaries   map[string]model.RunSummary
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.ensembles = make(map[string][]model.EnsembleRecord)
	s.metrics = make(map[string][]model.EpochMetric)
	s.reports = make(map[string]model.TaskReport)
	s.summaries = make(map[string]model.RunSummary)
	return nil
}

func (s *MemoryStore) SaveEnsembles(_ context.Context, runID, taskID string, records []model.EnsembleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.ensembles[taskKey(runID, taskID)] = append([]model.EnsembleRecord(nil), records...)
	return nil
}

func (s *MemoryStore) GetEnsembles(_ context.Context, runID, taskID string) ([]model.EnsembleRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.ensembles[taskKey(runID, taskID)]
	if !ok {
		return nil, false, nil
	}
	return append([]model.EnsembleRecord(nil), records...), true, nil
}

func (s *MemoryStore) SaveEpochMetrics(_ context.Context, runID, taskID string, metrics []model.EpochMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.metrics[taskKey(runID, taskID)] = append([]model.EpochMetric(nil), metrics...)
	return nil
}

func (s *MemoryStore) GetEpochMetrics(_ context.Context, runID, taskID string) ([]model.EpochMetric, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics, ok := s.metrics[taskKey(runID, taskID)]
	if !ok {
		return nil, false, nil
	}
	return append([]model.EpochMetric(nil), metrics...), true, nil
}

func (s *MemoryStore) SaveTaskReport(_ context.Context, report model.TaskReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.reports[taskKey(report.RunID, report.TaskID)] = report
	return nil
}

func (s *MemoryStore) GetTaskReport(_ context.Context, runID, taskID string) (model.TaskReport, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[taskKey(runID, taskID)]
	return report, ok, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.summaries[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRunSummaries(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary)
	}
	sortSummaries(out)
	return out, nil
}

var errNotInitialized = errors.New("store is not initialized")
