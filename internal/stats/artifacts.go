package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"enca/internal/model"
)

const runIndexFile = "run_index.json"

// TaskArtifacts is everything written for one trained task.
type TaskArtifacts struct {
	Report    model.TaskReport       `json:"report"`
	Ensembles []model.EnsembleRecord `json:"ensembles"`
	Metrics   []model.EpochMetric    `json:"metrics"`
}

type RunArtifacts struct {
	Summary model.RunSummary `json:"summary"`
	Config  any              `json:"config"`
	Tasks   []TaskArtifacts  `json:"tasks"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Backend      string  `json:"backend"`
	NTasks       int     `json:"n_tasks"`
	TestAccuracy float64 `json:"test_accuracy"`
	Seed         int64   `json:"seed"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// WriteRunArtifacts lays a run out under baseDir/<run id>:
//
//	summary.json, config.json
//	tasks/<task>.json         task report
//	ensembles/<task>.json     ranked trained ensembles
//	metrics/<task>.csv        epoch,individual,fitness,mean_accuracy
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Summary.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Summary.RunID)
	for _, dir := range []string{runDir, filepath.Join(runDir, "tasks"), filepath.Join(runDir, "ensembles"), filepath.Join(runDir, "metrics")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}

	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	for _, task := range artifacts.Tasks {
		name := sanitizeToken(task.Report.TaskID)
		if err := writeJSON(filepath.Join(runDir, "tasks", name+".json"), task.Report); err != nil {
			return "", err
		}
		if err := writeJSON(filepath.Join(runDir, "ensembles", name+".json"), task.Ensembles); err != nil {
			return "", err
		}
		if err := WriteEpochMetricsCSV(filepath.Join(runDir, "metrics", name+".csv"), task.Metrics); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func ReadRunSummary(baseDir, runID string) (model.RunSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunSummary{}, false, nil
		}
		return model.RunSummary{}, false, err
	}
	var summary model.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.RunSummary{}, false, err
	}
	return summary, true, nil
}

func WriteEpochMetricsCSV(path string, metrics []model.EpochMetric) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"epoch", "individual", "fitness", "mean_accuracy"}); err != nil {
		return err
	}
	for _, m := range metrics {
		if err := writer.Write([]string{
			strconv.Itoa(m.Epoch),
			strconv.Itoa(m.IndividualID),
			strconv.FormatFloat(m.Fitness, 'f', -1, 64),
			strconv.FormatFloat(m.MeanAccuracy, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadEpochMetricsCSV(path string) ([]model.EpochMetric, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.EpochMetric{}, nil
		}
		return nil, err
	}
	if len(header) < 4 {
		return nil, fmt.Errorf("epoch metrics header must have 4 columns")
	}

	var metrics []model.EpochMetric
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var m model.EpochMetric
		if m.Epoch, err = strconv.Atoi(record[0]); err != nil {
			return nil, err
		}
		if m.IndividualID, err = strconv.Atoi(record[1]); err != nil {
			return nil, err
		}
		if m.Fitness, err = strconv.ParseFloat(record[2], 64); err != nil {
			return nil, err
		}
		if m.MeanAccuracy, err = strconv.ParseFloat(record[3], 64); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func sanitizeToken(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	token := strings.Trim(b.String(), "_")
	if token == "" {
		return "unknown"
	}
	return token
}
