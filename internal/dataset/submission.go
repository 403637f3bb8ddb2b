package dataset

import (
	"encoding/json"
	"os"

	"enca/internal/grid"
)

// Attempts holds the two guesses submitted for one test input.
type Attempts struct {
	Attempt1 grid.Grid `json:"attempt_1"`
	Attempt2 grid.Grid `json:"attempt_2"`
}

// Submission maps task id to one Attempts per test input.
type Submission map[string][]Attempts

func (s Submission) Write(path string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Score returns the fraction of test inputs, over tasks with solutions, for
// which either attempt is exactly right.
func (s Submission) Score(solutions []Solution) float64 {
	total, correct := 0, 0
	for _, sol := range solutions {
		attempts := s[sol.ID]
		for i, want := range sol.Outputs {
			total++
			if i >= len(attempts) {
				continue
			}
			if attempts[i].Attempt1.Equal(want) || attempts[i].Attempt2.Equal(want) {
				correct++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(correct) / float64(total)
}
