package nca

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"enca/internal/grid"
	"enca/internal/substrate"
)

func TestFromParamsRejectsWrongLength(t *testing.T) {
	if _, err := FromParams(make([]float32, substrate.NParams-1), 10, nil); !errors.Is(err, ErrParamCount) {
		t.Fatalf("expected ErrParamCount, got %v", err)
	}
	bad := NewRule(10)
	bad.Biases = bad.Biases[:2]
	if err := bad.Validate(); !errors.Is(err, ErrParamCount) {
		t.Fatalf("expected ErrParamCount, got %v", err)
	}
}

func TestParamsRoundTrip(t *testing.T) {
	r := Random(7, rand.New(rand.NewSource(3)))
	params := r.Params()
	if len(params) != substrate.NParams {
		t.Fatalf("params length=%d want=%d", len(params), substrate.NParams)
	}
	back, err := r.WithParams(params)
	if err != nil {
		t.Fatalf("with params: %v", err)
	}
	if back.MaxSteps != 7 {
		t.Fatalf("max steps lost: %d", back.MaxSteps)
	}
	for i := range r.Weights {
		if back.Weights[i] != r.Weights[i] {
			t.Fatalf("weight %d differs", i)
		}
	}
	for i := range r.Biases {
		if back.Biases[i] != r.Biases[i] {
			t.Fatalf("bias %d differs", i)
		}
	}
	params[0] = 42
	if r.Weights[0] == 42 || back.Weights[0] == 42 {
		t.Fatal("params must not alias rule storage")
	}
}

func TestIdentityWeights(t *testing.T) {
	r := Identity(10)
	nonZero := 0
	for _, w := range r.Weights {
		if w != 0 {
			nonZero++
		}
	}
	if nonZero != substrate.VisChs {
		t.Fatalf("expected %d non-zero weights, got %d", substrate.VisChs, nonZero)
	}
	if r.Weights[substrate.WeightIndex(substrate.NhbdCenter, 2, 2)] != 1 {
		t.Fatal("expected centre RO channel 2 to feed output 2")
	}
}

func TestEnsembleJSONRoundTrip(t *testing.T) {
	ens := Ensemble{
		TaskID:   "abc",
		Rules:    []Rule{Identity(5), NewRule(3)},
		Pipeline: grid.Pipeline{{Kind: grid.Rotate90CW}},
	}
	data, err := json.Marshal(ens)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Ensemble
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if decoded.TaskID != "abc" || len(decoded.Rules) != 2 || decoded.Rules[1].MaxSteps != 3 {
		t.Fatalf("unexpected decoded ensemble: %+v", decoded)
	}
	if len(decoded.Pipeline) != 1 || decoded.Pipeline[0].Kind != grid.Rotate90CW {
		t.Fatalf("pipeline lost: %+v", decoded.Pipeline)
	}
}

func TestParseBackend(t *testing.T) {
	if b, err := ParseBackend("gpu"); err != nil || b != GPU {
		t.Fatalf("parse gpu: %v %v", b, err)
	}
	if b, err := ParseBackend(""); err != nil || b != CPU {
		t.Fatalf("parse default: %v %v", b, err)
	}
	if _, err := ParseBackend("tpu"); err == nil {
		t.Fatal("expected unsupported backend error")
	}
	if _, err := NewEngine(GPU, DefaultKernel(), nil); err == nil {
		t.Fatal("expected gpu engine without pool to fail")
	}
}
