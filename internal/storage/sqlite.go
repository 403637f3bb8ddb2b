//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"enca/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveEnsembles(ctx context.Context, runID, taskID string, records []model.EnsembleRecord) error {
	payload, err := EncodeEnsembles(records)
	if err != nil {
		return err
	}
	return s.upsertTaskPayload(ctx, "ensembles", runID, taskID, payload)
}

func (s *SQLiteStore) GetEnsembles(ctx context.Context, runID, taskID string) ([]model.EnsembleRecord, bool, error) {
	payload, ok, err := s.taskPayload(ctx, "ensembles", runID, taskID)
	if err != nil || !ok {
		return nil, ok, err
	}
	records, err := DecodeEnsembles(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode ensembles %s: %w", taskKey(runID, taskID), err)
	}
	return records, true, nil
}

func (s *SQLiteStore) SaveEpochMetrics(ctx context.Context, runID, taskID string, metrics []model.EpochMetric) error {
	payload, err := EncodeEpochMetrics(metrics)
	if err != nil {
		return err
	}
	return s.upsertTaskPayload(ctx, "epoch_metrics", runID, taskID, payload)
}

func (s *SQLiteStore) GetEpochMetrics(ctx context.Context, runID, taskID string) ([]model.EpochMetric, bool, error) {
	payload, ok, err := s.taskPayload(ctx, "epoch_metrics", runID, taskID)
	if err != nil || !ok {
		return nil, ok, err
	}
	metrics, err := DecodeEpochMetrics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode epoch metrics %s: %w", taskKey(runID, taskID), err)
	}
	return metrics, true, nil
}

func (s *SQLiteStore) SaveTaskReport(ctx context.Context, report model.TaskReport) error {
	payload, err := EncodeTaskReport(report)
	if err != nil {
		return err
	}
	return s.upsertTaskPayload(ctx, "task_reports", report.RunID, report.TaskID, payload)
}

func (s *SQLiteStore) GetTaskReport(ctx context.Context, runID, taskID string) (model.TaskReport, bool, error) {
	payload, ok, err := s.taskPayload(ctx, "task_reports", runID, taskID)
	if err != nil || !ok {
		return model.TaskReport{}, ok, err
	}
	report, err := DecodeTaskReport(payload)
	if err != nil {
		return model.TaskReport{}, false, fmt.Errorf("decode task report %s: %w", taskKey(runID, taskID), err)
	}
	return report, true, nil
}

func (s *SQLiteStore) SaveRunSummary(ctx context.Context, summary model.RunSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRunSummary(summary)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO run_summaries (run_id, created_at_utc, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at_utc = excluded.created_at_utc,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, summary.RunID, summary.CreatedAtUTC, summary.SchemaVersion, summary.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunSummary{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM run_summaries WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunSummary{}, false, nil
		}
		return model.RunSummary{}, false, err
	}

	summary, err := DecodeRunSummary(payload)
	if err != nil {
		return model.RunSummary{}, false, fmt.Errorf("decode run summary %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) ListRunSummaries(ctx context.Context) ([]model.RunSummary, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id, payload FROM run_summaries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rows.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		summary, err := DecodeRunSummary(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run summary %s: %w", runID, err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSummaries(out)
	return out, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// upsertTaskPayload writes into one of the tables keyed by (run_id, task_id).
// table is never user input.
func (s *SQLiteStore) upsertTaskPayload(ctx context.Context, table, runID, taskID string, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+table+` (run_id, task_id, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, task_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, taskID, payload)
	return err
}

func (s *SQLiteStore) taskPayload(ctx context.Context, table, runID, taskID string) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM `+table+` WHERE run_id = ? AND task_id = ?`, runID, taskID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ensembles (
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, task_id)
		);
		CREATE TABLE IF NOT EXISTS epoch_metrics (
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, task_id)
		);
		CREATE TABLE IF NOT EXISTS task_reports (
			run_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, task_id)
		);
		CREATE TABLE IF NOT EXISTS run_summaries (
			run_id TEXT PRIMARY KEY,
			created_at_utc TEXT NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
