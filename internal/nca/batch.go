package nca

import (
	"context"
	"fmt"

	"enca/internal/substrate"
)

// Outcome is the result of running one rule on one seed.
type Outcome struct {
	Final       substrate.Substrate
	Reason      Termination
	Oscillation float64
}

// BatchRunner runs every rule on every seed. The result is indexed
// [rule][seed]. worker selects the device slot where one is used.
type BatchRunner interface {
	RunBatch(ctx context.Context, worker int, rules []Rule, seeds []substrate.Substrate) ([][]Outcome, error)
}

type CPURunner struct {
	Kernel Kernel
}

func (r CPURunner) RunBatch(ctx context.Context, _ int, rules []Rule, seeds []substrate.Substrate) ([][]Outcome, error) {
	if len(rules) == 0 || len(seeds) == 0 {
		return nil, ErrEmptyBatch
	}
	out := make([][]Outcome, len(rules))
	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = make([]Outcome, len(seeds))
		for j, seed := range seeds {
			ex, err := NewCPUExecutor(rule, seed, r.Kernel)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			reason, err := ex.Run(ctx)
			if err != nil {
				return nil, err
			}
			out[i][j] = Outcome{Final: ex.Substrate(), Reason: reason, Oscillation: ex.Oscillation()}
		}
	}
	return out, nil
}
