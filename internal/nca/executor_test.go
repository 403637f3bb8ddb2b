package nca

import (
	"context"
	"math/rand"
	"testing"

	"enca/internal/grid"
	"enca/internal/substrate"
)

func randomGrid(rng *rand.Rand, width, height int) grid.Grid {
	rows := make([][]uint8, height)
	for y := range rows {
		rows[y] = make([]uint8, width)
		for x := range rows[y] {
			rows[y][x] = uint8(rng.Intn(grid.NumColors))
		}
	}
	return grid.MustNew(rows)
}

func TestStepIsIdempotentAfterTermination(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	seed := substrate.FromGrid(randomGrid(rng, 4, 3))
	rules := []Rule{Random(6, rng), Identity(6), NewRule(0)}
	for i, rule := range rules {
		ex, err := NewCPUExecutor(rule, seed, DefaultKernel())
		if err != nil {
			t.Fatalf("rule %d: new executor: %v", i, err)
		}
		reason, err := ex.Run(context.Background())
		if err != nil {
			t.Fatalf("rule %d: run: %v", i, err)
		}
		snapshot := ex.Substrate().Clone()
		for n := 0; n < 3; n++ {
			again := ex.Step()
			if again != reason {
				t.Fatalf("rule %d: step after termination returned %v, want %v", i, again, reason)
			}
		}
		if ex.Substrate().MaxAbsDiff(snapshot) != 0 {
			t.Fatalf("rule %d: substrate mutated after termination", i)
		}
	}
}

func TestZeroStepBudgetTerminatesImmediately(t *testing.T) {
	seed := substrate.FromGrid(grid.MustNew([][]uint8{{1, 2}}))
	ex, err := NewCPUExecutor(Identity(0), seed, DefaultKernel())
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	reason := ex.Step()
	if reason.Kind != MaxSteps || reason.Steps != 0 {
		t.Fatalf("unexpected reason %v", reason)
	}
	if ex.Oscillation() != 0 {
		t.Fatalf("expected zero oscillation, got %v", ex.Oscillation())
	}
}

func TestIdentityConvergesToInput(t *testing.T) {
	g := grid.MustNew([][]uint8{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}})
	ex, err := NewCPUExecutor(Identity(10), substrate.FromGrid(g), DefaultKernel())
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	reason, err := ex.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if reason.Kind != Convergence || reason.Steps != 2 {
		t.Fatalf("expected convergence after 2 steps, got %v", reason)
	}
	if got := ex.Substrate().ToGrid(); got.Hash() != g.Hash() {
		t.Fatalf("identity output differs:\n%s\nwant\n%s", got, g)
	}
}

func TestHoldRuleKeepsReadWriteChannels(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 10; trial++ {
		s := substrate.New(1+rng.Intn(6), 1+rng.Intn(6))
		for i := range s.Data {
			s.Data[i] = float32(rng.Intn(2))
		}
		ex, err := NewCPUExecutor(Hold(1+rng.Intn(8)), s, DefaultKernel())
		if err != nil {
			t.Fatalf("new executor: %v", err)
		}
		if _, err := ex.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		out := ex.Substrate()
		for off := 0; off < len(s.Data); off += substrate.InpChs {
			for ch := substrate.RWStart; ch < substrate.RWEnd; ch++ {
				if out.Data[off+ch] != s.Data[off+ch] {
					t.Fatalf("trial %d: read-write channel %d changed at %d", trial, ch, off/substrate.InpChs)
				}
			}
		}
	}
}

func TestRunKeepsValuesInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	rule := Random(20, rng)
	for i := range rule.Weights {
		rule.Weights[i] *= 10
	}
	ex, err := NewCPUExecutor(rule, substrate.FromGrid(randomGrid(rng, 5, 5)), DefaultKernel())
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	for n := 0; n < 25; n++ {
		ex.Step()
		if !ex.Substrate().InRange() {
			t.Fatalf("values left [0,1] after step %d", n)
		}
	}
}
