package scape

import (
	"context"

	"enca/internal/nca"
)

type Fitness float64

type Trace map[string]any

// Scape scores a candidate rule. Lower fitness is better.
type Scape interface {
	Name() string
	Evaluate(ctx context.Context, rule nca.Rule) (Fitness, Trace, error)
}

// Costs weights the penalty terms added to the reconstruction error.
type Costs struct {
	Oscillation    float64
	NonConvergence float64
	L1             float64
	L2             float64
}

func DefaultCosts() Costs {
	return Costs{
		Oscillation:    1e-5,
		NonConvergence: 1e-5,
		L1:             1e-4,
		L2:             1e-4,
	}
}

// stageCost is the penalty of one finished stage.
func (c Costs) stageCost(rule nca.Rule, out nca.Outcome) float64 {
	cost := c.Oscillation * out.Oscillation
	if out.Reason.Steps == rule.MaxSteps {
		cost += c.NonConvergence
	}
	if len(rule.Weights) > 0 {
		var l1, l2 float64
		for _, w := range rule.Weights {
			v := float64(w)
			l2 += v * v
			if v < 0 {
				v = -v
			}
			l1 += v
		}
		n := float64(len(rule.Weights))
		cost += c.L2*l2/n + c.L1*l1/n
	}
	return cost
}
