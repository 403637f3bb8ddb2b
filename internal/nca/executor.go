package nca

import (
	"context"

	"enca/internal/substrate"
)

// Executor runs one rule on one substrate until termination.
type Executor interface {
	Rule() Rule
	// Seed is the substrate the executor started from.
	Seed() substrate.Substrate
	// Substrate is the current state; after termination it is the output.
	Substrate() substrate.Substrate
	Reason() Termination
	// Oscillation is the mean squared change of the last applied update.
	Oscillation() float64
	Run(ctx context.Context) (Termination, error)
}

// Stepper is an Executor that can be advanced one update at a time.
type Stepper interface {
	Executor
	Step() Termination
}

type CPUExecutor struct {
	kernel Kernel
	rule   Rule
	seed   substrate.Substrate
	cur    substrate.Substrate
	prev   substrate.Substrate
	steps  int
	reason Termination
}

func NewCPUExecutor(rule Rule, seed substrate.Substrate, kernel Kernel) (*CPUExecutor, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &CPUExecutor{
		kernel: kernel.orDefault(),
		rule:   rule,
		seed:   seed.Clone(),
		cur:    seed.Clone(),
		prev:   seed.Clone(),
	}, nil
}

func (e *CPUExecutor) Rule() Rule                     { return e.rule }
func (e *CPUExecutor) Seed() substrate.Substrate      { return e.seed }
func (e *CPUExecutor) Substrate() substrate.Substrate { return e.cur }

func (e *CPUExecutor) Reason() Termination {
	if e.reason.Terminal() {
		return e.reason
	}
	return Termination{Kind: Running, Steps: e.steps}
}

func (e *CPUExecutor) Oscillation() float64 {
	return e.cur.MeanSquaredDiff(e.prev)
}

// Step applies one update. A terminated executor returns its stored reason
// and leaves the substrate untouched.
func (e *CPUExecutor) Step() Termination {
	if e.reason.Terminal() {
		return e.reason
	}
	if e.steps >= e.rule.MaxSteps {
		e.reason = Termination{Kind: MaxSteps, Steps: e.steps}
		return e.reason
	}
	e.prev, e.cur = e.cur, e.prev
	delta := e.kernel.update(e.rule.Weights, e.rule.Biases, e.prev, e.cur)
	e.steps++
	if delta < e.kernel.Convergence {
		e.reason = Termination{Kind: Convergence, Steps: e.steps}
		return e.reason
	}
	return Termination{Kind: Running, Steps: e.steps}
}

func (e *CPUExecutor) Run(_ context.Context) (Termination, error) {
	for {
		if r := e.Step(); r.Terminal() {
			return r, nil
		}
	}
}
