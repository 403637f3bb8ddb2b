//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"enca/internal/model"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "enca.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	records := []model.EnsembleRecord{sampleEnsembleRecord("run-1", "task-a")}
	if err := store.SaveEnsembles(ctx, "run-1", "task-a", records); err != nil {
		t.Fatalf("save ensembles: %v", err)
	}
	records[0].Fitness = 0.125
	if err := store.SaveEnsembles(ctx, "run-1", "task-a", records); err != nil {
		t.Fatalf("upsert ensembles: %v", err)
	}
	loaded, ok, err := store.GetEnsembles(ctx, "run-1", "task-a")
	if err != nil {
		t.Fatalf("get ensembles: %v", err)
	}
	if !ok || len(loaded) != 1 || loaded[0].Fitness != 0.125 {
		t.Fatalf("unexpected ensembles: %+v", loaded)
	}

	metrics := []model.EpochMetric{{Epoch: 1, IndividualID: 2, Fitness: 0.5, MeanAccuracy: 1}}
	if err := store.SaveEpochMetrics(ctx, "run-1", "task-a", metrics); err != nil {
		t.Fatalf("save metrics: %v", err)
	}
	gotMetrics, ok, err := store.GetEpochMetrics(ctx, "run-1", "task-a")
	if err != nil || !ok || len(gotMetrics) != 1 || gotMetrics[0] != metrics[0] {
		t.Fatalf("unexpected metrics: %+v ok=%v err=%v", gotMetrics, ok, err)
	}

	report := model.TaskReport{VersionedRecord: CurrentVersion(), RunID: "run-1", TaskID: "task-a", Epochs: 3}
	if err := store.SaveTaskReport(ctx, report); err != nil {
		t.Fatalf("save report: %v", err)
	}
	if got, ok, err := store.GetTaskReport(ctx, "run-1", "task-a"); err != nil || !ok || got.Epochs != 3 {
		t.Fatalf("unexpected report: %+v ok=%v err=%v", got, ok, err)
	}

	for _, s := range []model.RunSummary{
		{VersionedRecord: CurrentVersion(), RunID: "a", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{VersionedRecord: CurrentVersion(), RunID: "b", CreatedAtUTC: "2026-03-01T00:00:00Z"},
	} {
		if err := store.SaveRunSummary(ctx, s); err != nil {
			t.Fatalf("save summary: %v", err)
		}
	}
	list, err := store.ListRunSummaries(ctx)
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "b" {
		t.Fatalf("unexpected summaries: %+v", list)
	}
	if _, ok, err := store.GetRunSummary(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing summary, ok=%v err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"))
	if _, _, err := store.GetRunSummary(context.Background(), "r"); err == nil {
		t.Fatal("expected not initialized error")
	}
}
