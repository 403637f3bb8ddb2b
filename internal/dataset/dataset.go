package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"enca/internal/grid"
)

type Example struct {
	Input  grid.Grid `json:"input"`
	Output grid.Grid `json:"output"`
}

type TestProblem struct {
	Input grid.Grid `json:"input"`
}

type Task struct {
	ID    string        `json:"id"`
	Train []Example     `json:"train"`
	Test  []TestProblem `json:"test"`
}

// PreservesShape reports whether every train input has the shape of its
// output.
func (t Task) PreservesShape() bool {
	for _, ex := range t.Train {
		if !ex.Input.SameShape(ex.Output) {
			return false
		}
	}
	return true
}

// Grids returns train inputs, train outputs and test inputs.
func (t Task) Grids() []grid.Grid {
	out := make([]grid.Grid, 0, 2*len(t.Train)+len(t.Test))
	for _, ex := range t.Train {
		out = append(out, ex.Input)
	}
	for _, ex := range t.Train {
		out = append(out, ex.Output)
	}
	for _, p := range t.Test {
		out = append(out, p.Input)
	}
	return out
}

type Solution struct {
	ID      string      `json:"id"`
	Outputs []grid.Grid `json:"outputs"`
}

type Dataset struct {
	Tasks     []Task
	Solutions []Solution
}

type rawTask struct {
	Train []Example     `json:"train"`
	Test  []TestProblem `json:"test"`
}

// Load reads a challenges file and, when solutionsPath is non-empty, the
// matching solutions file. Tasks and solutions are sorted by id.
func Load(tasksPath, solutionsPath string) (Dataset, error) {
	data, err := os.ReadFile(tasksPath)
	if err != nil {
		return Dataset{}, err
	}
	var byID map[string]rawTask
	if err := json.Unmarshal(data, &byID); err != nil {
		return Dataset{}, fmt.Errorf("decode tasks %s: %w", tasksPath, err)
	}
	ds := Dataset{Tasks: make([]Task, 0, len(byID))}
	for id, raw := range byID {
		ds.Tasks = append(ds.Tasks, Task{ID: id, Train: raw.Train, Test: raw.Test})
	}
	sort.Slice(ds.Tasks, func(i, j int) bool { return ds.Tasks[i].ID < ds.Tasks[j].ID })

	if solutionsPath == "" {
		return ds, nil
	}
	data, err = os.ReadFile(solutionsPath)
	if err != nil {
		return Dataset{}, err
	}
	var sols map[string][]grid.Grid
	if err := json.Unmarshal(data, &sols); err != nil {
		return Dataset{}, fmt.Errorf("decode solutions %s: %w", solutionsPath, err)
	}
	for id, outputs := range sols {
		ds.Solutions = append(ds.Solutions, Solution{ID: id, Outputs: outputs})
	}
	sort.Slice(ds.Solutions, func(i, j int) bool { return ds.Solutions[i].ID < ds.Solutions[j].ID })
	return ds, nil
}

func (d Dataset) Task(id string) (Task, bool) {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

func (d Dataset) Solution(id string) (Solution, bool) {
	for _, s := range d.Solutions {
		if s.ID == id {
			return s, true
		}
	}
	return Solution{}, false
}
