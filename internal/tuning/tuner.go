package tuning

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	ErrEmptyMean     = errors.New("initial mean must be non-empty")
	ErrNonFiniteMean = errors.New("initial mean must be finite")
	ErrInvalidSigma  = errors.New("initial sigma must be finite and > 0")
)

// BatchObjective scores every point of one generation. Lower is better.
// The returned slice must be parallel to points.
type BatchObjective func(ctx context.Context, points [][]float64) ([]float64, error)

// Problem is one optimizer run.
type Problem struct {
	Mean      []float64
	Sigma     float64
	Budget    int
	Seed      int64
	Objective BatchObjective
}

type Tuner interface {
	Name() string
	Tune(ctx context.Context, p Problem) (Result, error)
}

type TerminationReason string

const (
	ReasonTargetFunctionValue TerminationReason = "target_function_value"
	ReasonTolFunHist          TerminationReason = "tol_fun_hist"
	ReasonMaxFunctionEvals    TerminationReason = "max_function_evaluations"
	ReasonMinSigma            TerminationReason = "min_sigma"
	ReasonTimeLimit           TerminationReason = "time_limit"
)

// Result describes a finished run. History holds the best value of each
// generation, most recent first.
type Result struct {
	Best        []float64           `json:"best"`
	BestValue   float64             `json:"best_value"`
	Evaluations int                 `json:"evaluations"`
	Reasons     []TerminationReason `json:"reasons"`
	History     []float64           `json:"history,omitempty"`
}

// Improved reports whether the run found a point strictly better than value.
func (r Result) Improved(value float64) bool {
	return len(r.Best) > 0 && r.BestValue < value
}

func validateProblem(p Problem) error {
	if len(p.Mean) == 0 {
		return ErrEmptyMean
	}
	for _, v := range p.Mean {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFiniteMean
		}
	}
	if math.IsNaN(p.Sigma) || math.IsInf(p.Sigma, 0) || p.Sigma <= 0 {
		return ErrInvalidSigma
	}
	if p.Objective == nil {
		return errors.New("objective function is required")
	}
	return nil
}

func evaluate(ctx context.Context, f BatchObjective, points [][]float64) ([]float64, error) {
	values, err := f(ctx, points)
	if err != nil {
		return nil, err
	}
	if len(values) != len(points) {
		return nil, errors.New("objective returned wrong number of values")
	}
	for i, v := range values {
		if math.IsNaN(v) {
			values[i] = math.Inf(1)
		}
	}
	return values, nil
}

// TunerFromConfig builds the optimizer named by the run configuration.
func TunerFromConfig(name string, opts Options) (Tuner, error) {
	switch name {
	case "", "lmcma":
		return LMCMATuner{Options: opts}, nil
	case "hillclimb", "exoself_hillclimb":
		return &HillClimber{FunTarget: opts.FunTarget}, nil
	default:
		return nil, fmt.Errorf("unsupported optimizer: %s", name)
	}
}
