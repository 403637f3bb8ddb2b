package tuning

import (
	"context"
	"errors"
	"math"
	"math/rand"
)

// HillClimber perturbs a few random coordinates of the best point per
// candidate and keeps a candidate only when it improves by more than
// MinImprovement. Each generation evaluates Candidates points in one batch.
type HillClimber struct {
	Steps             int
	StepSize          float64
	PerturbationRange float64
	AnnealingFactor   float64
	MinImprovement    float64
	Candidates        int
	FunTarget         float64
}

func (h *HillClimber) Name() string {
	return "exoself_hillclimb"
}

func (h *HillClimber) Tune(ctx context.Context, p Problem) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := validateProblem(p); err != nil {
		return Result{}, err
	}
	if h.Steps < 0 {
		return Result{}, errors.New("steps must be >= 0")
	}
	if h.PerturbationRange < 0 {
		return Result{}, errors.New("perturbation range must be >= 0")
	}
	if h.AnnealingFactor < 0 {
		return Result{}, errors.New("annealing factor must be >= 0")
	}
	if h.MinImprovement < 0 {
		return Result{}, errors.New("min improvement must be >= 0")
	}
	steps := h.Steps
	if steps == 0 {
		steps = max(1, int(math.Sqrt(float64(len(p.Mean)))))
	}
	stepSize := h.StepSize
	if stepSize == 0 {
		stepSize = p.Sigma
	}
	perturbationRange := h.PerturbationRange
	if perturbationRange == 0 {
		perturbationRange = 1.0
	}
	annealingFactor := h.AnnealingFactor
	if annealingFactor == 0 {
		annealingFactor = 1.0
	}
	candidates := h.Candidates
	if candidates <= 0 {
		candidates = 4
	}
	budget := p.Budget
	if budget <= 0 {
		budget = DefaultOptions().MaxFunctionEvals
	}
	rng := rand.New(rand.NewSource(p.Seed))

	best := append([]float64(nil), p.Mean...)
	values, err := evaluate(ctx, p.Objective, [][]float64{best})
	if err != nil {
		return Result{}, err
	}
	bestValue := values[0]
	res := Result{Evaluations: 1}
	var history []float64

	for {
		if bestValue <= h.FunTarget {
			res.Reasons = []TerminationReason{ReasonTargetFunctionValue}
			break
		}
		if res.Evaluations+candidates > budget {
			res.Reasons = []TerminationReason{ReasonMaxFunctionEvals}
			break
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		points := make([][]float64, candidates)
		for i := range points {
			points[i] = perturb(rng, best, steps, stepSize*perturbationRange, annealingFactor)
		}
		values, err := evaluate(ctx, p.Objective, points)
		if err != nil {
			return Result{}, err
		}
		res.Evaluations += candidates

		local, localValue := -1, bestValue
		for i, v := range values {
			if v < localValue-h.MinImprovement {
				local, localValue = i, v
			}
		}
		if local >= 0 {
			best, bestValue = points[local], localValue
		}
		history = append(history, bestValue)
	}

	res.Best = best
	res.BestValue = bestValue
	res.History = make([]float64, len(history))
	for i, v := range history {
		res.History[len(history)-1-i] = v
	}
	return res, nil
}

func perturb(rng *rand.Rand, base []float64, steps int, spread, annealing float64) []float64 {
	out := append([]float64(nil), base...)
	for s := 0; s < steps; s++ {
		idx := rng.Intn(len(out))
		delta := (rng.Float64()*2 - 1) * spread * math.Pow(annealing, float64(s))
		out[idx] += delta
	}
	return out
}
