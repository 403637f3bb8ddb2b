package nca

import (
	"errors"
	"fmt"
	"math/rand"

	"enca/internal/grid"
	"enca/internal/substrate"
)

var (
	ErrParamCount   = errors.New("parameter count mismatch")
	ErrGridTooLarge = errors.New("grid exceeds device cell capacity")
	ErrUnequalSteps = errors.New("batch rules have unequal step budgets")
	ErrEmptyBatch   = errors.New("empty batch")
)

// RandomInitStdDev is the standard deviation of randomly initialized
// parameters.
const RandomInitStdDev = 0.2

// Rule is one cellular automaton: a dense weight matrix indexed by
// substrate.WeightIndex, one bias per output channel, a step budget and the
// transform pipeline applied to inputs.
type Rule struct {
	Weights  []float32     `json:"weights"`
	Biases   []float32     `json:"biases"`
	MaxSteps int           `json:"max_steps"`
	Pipeline grid.Pipeline `json:"transform_pipeline,omitempty"`
}

// NewRule returns a rule with all parameters zero.
func NewRule(maxSteps int) Rule {
	return Rule{
		Weights:  make([]float32, substrate.NWeights),
		Biases:   make([]float32, substrate.NBiases),
		MaxSteps: maxSteps,
	}
}

// Identity copies each read-only channel into the matching read-write channel
// at the centre tap. The decoded output equals the input grid.
func Identity(maxSteps int) Rule {
	r := NewRule(maxSteps)
	for i := 0; i < substrate.VisChs; i++ {
		r.Weights[substrate.WeightIndex(substrate.NhbdCenter, substrate.ROStart+i, i)] = 1
	}
	return r
}

// Hold keeps each read-write channel at its current value, so a stage
// built from it leaves the previous stage's prediction unchanged.
func Hold(maxSteps int) Rule {
	r := NewRule(maxSteps)
	for i := 0; i < substrate.VisChs; i++ {
		r.Weights[substrate.WeightIndex(substrate.NhbdCenter, substrate.RWStart+i, i)] = 1
	}
	return r
}

func Random(maxSteps int, rng *rand.Rand) Rule {
	r := NewRule(maxSteps)
	for i := range r.Weights {
		r.Weights[i] = float32(rng.NormFloat64() * RandomInitStdDev)
	}
	for i := range r.Biases {
		r.Biases[i] = float32(rng.NormFloat64() * RandomInitStdDev)
	}
	return r
}

// FromParams splits a flat parameter vector into weights followed by biases.
func FromParams(params []float32, maxSteps int, pipeline grid.Pipeline) (Rule, error) {
	if len(params) != substrate.NParams {
		return Rule{}, fmt.Errorf("%w: expected %d params, got %d", ErrParamCount, substrate.NParams, len(params))
	}
	r := Rule{
		Weights:  make([]float32, substrate.NWeights),
		Biases:   make([]float32, substrate.NBiases),
		MaxSteps: maxSteps,
		Pipeline: pipeline.Clone(),
	}
	copy(r.Weights, params[:substrate.NWeights])
	copy(r.Biases, params[substrate.NWeights:])
	return r, nil
}

// WithParams returns a copy of r carrying params.
func (r Rule) WithParams(params []float32) (Rule, error) {
	return FromParams(params, r.MaxSteps, r.Pipeline)
}

func (r Rule) Params() []float32 {
	out := make([]float32, 0, len(r.Weights)+len(r.Biases))
	out = append(out, r.Weights...)
	return append(out, r.Biases...)
}

func (r Rule) Validate() error {
	if len(r.Weights) != substrate.NWeights {
		return fmt.Errorf("%w: expected %d weights, got %d", ErrParamCount, substrate.NWeights, len(r.Weights))
	}
	if len(r.Biases) != substrate.NBiases {
		return fmt.Errorf("%w: expected %d biases, got %d", ErrParamCount, substrate.NBiases, len(r.Biases))
	}
	if r.MaxSteps < 0 {
		return fmt.Errorf("max steps must be >= 0")
	}
	return r.Pipeline.Validate()
}

func (r Rule) Clone() Rule {
	out := Rule{MaxSteps: r.MaxSteps, Pipeline: r.Pipeline.Clone()}
	out.Weights = append([]float32(nil), r.Weights...)
	out.Biases = append([]float32(nil), r.Biases...)
	return out
}

func (r Rule) AsEnsemble() Ensemble {
	return Ensemble{Rules: []Rule{r}, Pipeline: r.Pipeline}
}

// Model is anything runnable as an ensemble.
type Model interface {
	AsEnsemble() Ensemble
}

// Ensemble is an ordered chain of rules sharing one transform pipeline.
type Ensemble struct {
	TaskID   string        `json:"task_id"`
	Rules    []Rule        `json:"rules"`
	Pipeline grid.Pipeline `json:"transform_pipeline,omitempty"`
}

func (e Ensemble) AsEnsemble() Ensemble { return e }

func (e Ensemble) Validate() error {
	if len(e.Rules) == 0 {
		return errors.New("ensemble has no stages")
	}
	for i, r := range e.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("stage %d: %w", i, err)
		}
	}
	return e.Pipeline.Validate()
}

func (e Ensemble) Clone() Ensemble {
	out := Ensemble{TaskID: e.TaskID, Pipeline: e.Pipeline.Clone(), Rules: make([]Rule, len(e.Rules))}
	for i, r := range e.Rules {
		out.Rules[i] = r.Clone()
	}
	return out
}

// Last returns the final stage.
func (e Ensemble) Last() Rule {
	return e.Rules[len(e.Rules)-1]
}
