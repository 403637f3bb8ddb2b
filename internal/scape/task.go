package scape

import (
	"context"
	"errors"
	"fmt"

	"enca/internal/dataset"
	"enca/internal/nca"
	"enca/internal/substrate"
)

// Score is the result of running one candidate final stage on every
// example of a task.
type Score struct {
	Fitness    float64
	Accuracies []float64
}

func (s Score) MeanAccuracy() float64 {
	if len(s.Accuracies) == 0 {
		return 0
	}
	var sum float64
	for _, a := range s.Accuracies {
		sum += a
	}
	return sum / float64(len(s.Accuracies))
}

// TaskScape scores candidates for the final stage of an ensemble. The
// frozen prefix stages run once at construction; every candidate then
// starts from their cached outputs.
type TaskScape struct {
	eval     Evaluator
	worker   int
	taskID   string
	ensemble nca.Ensemble
	examples []dataset.Example
	// parallel to examples; unusable examples have no seed
	usable     []bool
	seeds      []substrate.Substrate
	targets    []substrate.Substrate
	prefixCost []float64
}

// NewTaskScape prepares scoring of ens.Last() replacements on examples.
// Examples whose output shape differs from the input score an error of 1
// and accuracy 0.
func (e Evaluator) NewTaskScape(ctx context.Context, taskID string, examples []dataset.Example, ens nca.Ensemble, worker int) (*TaskScape, error) {
	if len(examples) == 0 {
		return nil, errors.New("task has no train examples")
	}
	if err := ens.Validate(); err != nil {
		return nil, err
	}
	s := &TaskScape{
		eval:       e,
		worker:     worker,
		taskID:     taskID,
		ensemble:   ens.Clone(),
		examples:   examples,
		usable:     make([]bool, len(examples)),
		seeds:      make([]substrate.Substrate, len(examples)),
		targets:    make([]substrate.Substrate, len(examples)),
		prefixCost: make([]float64, len(examples)),
	}
	prefix := nca.Ensemble{TaskID: taskID, Rules: ens.Rules[:len(ens.Rules)-1], Pipeline: ens.Pipeline}

	for i, ex := range examples {
		if !ex.Input.SameShape(ex.Output) {
			continue
		}
		s.usable[i] = true
		seed := substrate.FromGrid(ens.Pipeline.Apply(ex.Input))
		s.targets[i] = substrate.FromGrid(ens.Pipeline.Apply(ex.Output))
		if len(prefix.Rules) == 0 {
			s.seeds[i] = seed
			continue
		}

		x, err := e.Engine.NewEnsembleExecutorFromSubstrate(prefix, seed, worker)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		if _, err := x.Run(ctx); err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		for _, stage := range x.Stages() {
			s.prefixCost[i] += e.Costs.stageCost(stage.Rule(), nca.Outcome{Reason: stage.Reason(), Oscillation: stage.Oscillation()})
		}
		next := x.Output().Clone()
		next.ClearHidden()
		s.seeds[i] = next
	}
	return s, nil
}

func (s *TaskScape) Name() string { return "task:" + s.taskID }

// Ensemble returns the ensemble whose final stage is being replaced.
func (s *TaskScape) Ensemble() nca.Ensemble { return s.ensemble }

// WithLast returns the scape's ensemble with rule as its final stage.
func (s *TaskScape) WithLast(rule nca.Rule) nca.Ensemble {
	ens := s.ensemble.Clone()
	ens.Rules[len(ens.Rules)-1] = rule
	return ens
}

func (s *TaskScape) Evaluate(ctx context.Context, rule nca.Rule) (Fitness, Trace, error) {
	scores, err := s.ScoreBatch(ctx, []nca.Rule{rule})
	if err != nil {
		return 0, nil, err
	}
	return Fitness(scores[0].Fitness), Trace{
		"task":          s.taskID,
		"accuracies":    scores[0].Accuracies,
		"mean_accuracy": scores[0].MeanAccuracy(),
	}, nil
}

// ScoreBatch runs every candidate on every usable example in one backend
// call. Fitness is the mean over examples of the visible-channel error plus
// the stage costs of the prefix and the candidate.
func (s *TaskScape) ScoreBatch(ctx context.Context, rules []nca.Rule) ([]Score, error) {
	if len(rules) == 0 {
		return nil, nca.ErrEmptyBatch
	}
	idx := make([]int, 0, len(s.examples))
	seeds := make([]substrate.Substrate, 0, len(s.examples))
	for i, ok := range s.usable {
		if ok {
			idx = append(idx, i)
			seeds = append(seeds, s.seeds[i])
		}
	}

	var outcomes [][]nca.Outcome
	if len(seeds) > 0 {
		var err error
		outcomes, err = s.eval.Engine.Runner().RunBatch(ctx, s.worker, rules, seeds)
		if err != nil {
			return nil, err
		}
	}

	n := float64(len(s.examples))
	scores := make([]Score, len(rules))
	for r, rule := range rules {
		accs := make([]float64, len(s.examples))
		total := float64(len(s.examples) - len(idx))
		for j, i := range idx {
			out := outcomes[r][j]
			total += out.Final.VisibleError(s.targets[i]) + s.prefixCost[i] + s.eval.Costs.stageCost(rule, out)
			pred := s.ensemble.Pipeline.Revert(out.Final.ToGrid())
			accs[i] = Accuracy(pred, s.examples[i].Output)
		}
		scores[r] = Score{Fitness: total / n, Accuracies: accs}
	}
	return scores, nil
}
