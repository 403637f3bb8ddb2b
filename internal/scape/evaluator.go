package scape

import (
	"context"
	"fmt"
	"sort"

	"enca/internal/dataset"
	"enca/internal/grid"
	"enca/internal/nca"
)

// Evaluator runs models on grids with one engine.
type Evaluator struct {
	Engine nca.Engine
	Costs  Costs
}

// Accuracy is the fraction of equal cells, or 0 when shapes differ.
func Accuracy(pred, target grid.Grid) float64 {
	if !pred.SameShape(target) || target.Len() == 0 {
		return 0
	}
	correct := 0
	for y := 0; y < target.Height(); y++ {
		for x := 0; x < target.Width(); x++ {
			if pred.At(x, y) == target.At(x, y) {
				correct++
			}
		}
	}
	return float64(correct) / float64(target.Len())
}

// Inference runs every stage of m on input and reverts the transform
// pipeline on the decoded prediction.
func (e Evaluator) Inference(ctx context.Context, input grid.Grid, m nca.Model, worker int) (grid.Grid, error) {
	ens := m.AsEnsemble()
	x, err := e.Engine.NewEnsembleExecutor(ens, input, worker)
	if err != nil {
		return grid.Grid{}, err
	}
	if _, err := x.Run(ctx); err != nil {
		return grid.Grid{}, err
	}
	return ens.Pipeline.Revert(x.Output().ToGrid()), nil
}

func (e Evaluator) Eval(ctx context.Context, input, output grid.Grid, m nca.Model, worker int) (float64, error) {
	pred, err := e.Inference(ctx, input, m, worker)
	if err != nil {
		return 0, err
	}
	return Accuracy(pred, output), nil
}

// TrainAccuracies evaluates m on every example.
func (e Evaluator) TrainAccuracies(ctx context.Context, examples []dataset.Example, m nca.Model, worker int) ([]float64, error) {
	accs := make([]float64, len(examples))
	for i, ex := range examples {
		acc, err := e.Eval(ctx, ex.Input, ex.Output, m, worker)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		accs[i] = acc
	}
	return accs, nil
}

// Vote runs each model on input and groups models by predicted grid,
// ignoring predictions equal to the input. It returns one model per
// prediction, most frequent first with ties in first-seen order, at most k.
// With no usable prediction the first k models are returned unchanged.
func (e Evaluator) Vote(ctx context.Context, input grid.Grid, models []nca.Model, k, worker int) ([]nca.Model, error) {
	type entry struct {
		model nca.Model
		count int
	}
	var order []uint64
	counts := map[uint64]*entry{}
	for _, m := range models {
		pred, err := e.Inference(ctx, input, m, worker)
		if err != nil {
			return nil, err
		}
		h := pred.Hash()
		if h == input.Hash() {
			continue
		}
		if ent, ok := counts[h]; ok {
			ent.count++
			continue
		}
		counts[h] = &entry{model: m, count: 1}
		order = append(order, h)
	}
	if len(order) == 0 {
		return models[:min(k, len(models))], nil
	}

	ranked := make([]*entry, len(order))
	for i, h := range order {
		ranked[i] = counts[h]
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	out := make([]nca.Model, 0, min(k, len(ranked)))
	for _, ent := range ranked[:min(k, len(ranked))] {
		out = append(out, ent.model)
	}
	return out, nil
}
