package storage

import (
	"fmt"
	"sort"

	"enca/internal/model"
)

func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}

// taskKey joins run and task ids for single-key maps and tables.
func taskKey(runID, taskID string) string {
	return runID + "/" + taskID
}

func sortSummaries(summaries []model.RunSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].CreatedAtUTC != summaries[j].CreatedAtUTC {
			return summaries[i].CreatedAtUTC > summaries[j].CreatedAtUTC
		}
		return summaries[i].RunID < summaries[j].RunID
	})
}
