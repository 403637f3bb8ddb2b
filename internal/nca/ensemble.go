package nca

import (
	"context"
	"fmt"

	"enca/internal/grid"
	"enca/internal/substrate"
)

// EnsembleExecutor runs the stages of an ensemble in order. A stage is
// seeded with the previous stage's output with hidden channels cleared.
type EnsembleExecutor struct {
	engine   Engine
	worker   int
	ensemble Ensemble
	stages   []Executor
	reasons  []Termination
}

// NewEnsembleExecutor transforms input with the ensemble pipeline and seeds
// the first stage with it.
func (e Engine) NewEnsembleExecutor(ens Ensemble, input grid.Grid, worker int) (*EnsembleExecutor, error) {
	return e.NewEnsembleExecutorFromSubstrate(ens, substrate.FromGrid(ens.Pipeline.Apply(input)), worker)
}

// NewEnsembleExecutorFromSubstrate seeds the first stage with seed as is.
func (e Engine) NewEnsembleExecutorFromSubstrate(ens Ensemble, seed substrate.Substrate, worker int) (*EnsembleExecutor, error) {
	if err := ens.Validate(); err != nil {
		return nil, err
	}
	x := &EnsembleExecutor{engine: e, worker: worker, ensemble: ens.Clone()}
	if err := x.activate(0, seed); err != nil {
		return nil, err
	}
	return x, nil
}

func (x *EnsembleExecutor) activate(i int, seed substrate.Substrate) error {
	ex, err := x.engine.NewExecutor(x.ensemble.Rules[i], seed, x.worker)
	if err != nil {
		return fmt.Errorf("stage %d: %w", i, err)
	}
	x.stages = append(x.stages[:i], ex)
	return nil
}

func (x *EnsembleExecutor) Ensemble() Ensemble { return x.ensemble }

// Active is the index of the stage the next Step advances.
func (x *EnsembleExecutor) Active() int { return len(x.reasons) }

func (x *EnsembleExecutor) Done() bool { return len(x.reasons) == len(x.ensemble.Rules) }

// Reasons lists the terminations of finished stages in activation order.
func (x *EnsembleExecutor) Reasons() []Termination {
	return append([]Termination(nil), x.reasons...)
}

// Stages returns the executors activated so far.
func (x *EnsembleExecutor) Stages() []Executor {
	return append([]Executor(nil), x.stages...)
}

// Output is the substrate of the most recently activated stage.
func (x *EnsembleExecutor) Output() substrate.Substrate {
	return x.stages[len(x.stages)-1].Substrate()
}

// Step advances the active stage by one update. Stages without incremental
// stepping run to termination in a single Step.
func (x *EnsembleExecutor) Step(ctx context.Context) (Termination, error) {
	if x.Done() {
		return x.reasons[len(x.reasons)-1], nil
	}
	i := len(x.reasons)
	ex := x.stages[i]

	var r Termination
	if s, ok := ex.(Stepper); ok {
		r = s.Step()
	} else {
		var err error
		if r, err = ex.Run(ctx); err != nil {
			return Termination{}, fmt.Errorf("stage %d: %w", i, err)
		}
	}
	if !r.Terminal() {
		return r, nil
	}

	x.reasons = append(x.reasons, r)
	if i+1 < len(x.ensemble.Rules) {
		if err := x.activate(i+1, nextSeed(ex.Substrate())); err != nil {
			return Termination{}, err
		}
	}
	return r, nil
}

func (x *EnsembleExecutor) Run(ctx context.Context) (Termination, error) {
	for !x.Done() {
		if _, err := x.Step(ctx); err != nil {
			return Termination{}, err
		}
	}
	return x.reasons[len(x.reasons)-1], nil
}

// Upsert replaces stage i, or appends a stage when i equals the stage count.
// A replaced stage that had already been activated restarts from its own
// seed; stages before it keep their outputs and stages after it are
// discarded until reached again.
func (x *EnsembleExecutor) Upsert(rule Rule, i int) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	n := len(x.ensemble.Rules)
	if i < 0 || i > n {
		return fmt.Errorf("stage index %d out of range [0, %d]", i, n)
	}

	if i == n {
		wasDone := x.Done()
		x.ensemble.Rules = append(x.ensemble.Rules, rule.Clone())
		if wasDone {
			return x.activate(n, nextSeed(x.Output()))
		}
		return nil
	}

	x.ensemble.Rules[i] = rule.Clone()
	if i >= len(x.stages) {
		return nil
	}
	seed := x.stages[i].Seed()
	x.reasons = x.reasons[:min(len(x.reasons), i)]
	return x.activate(i, seed)
}

func nextSeed(s substrate.Substrate) substrate.Substrate {
	seed := s.Clone()
	seed.ClearHidden()
	return seed
}
