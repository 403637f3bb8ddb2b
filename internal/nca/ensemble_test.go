package nca

import (
	"context"
	"math/rand"
	"testing"

	"enca/internal/grid"
	"enca/internal/substrate"
)

func TestEnsembleStagesActivateInOrder(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(4))
	input := randomGrid(rng, 5, 4)
	ens := Ensemble{TaskID: "t", Rules: []Rule{Identity(6), Random(4, rng), Identity(3)}}

	pool := newTestPool()
	for _, backend := range []Backend{CPU, GPU} {
		engine, err := NewEngine(backend, DefaultKernel(), pool)
		if err != nil {
			t.Fatalf("%s: engine: %v", backend, err)
		}
		x, err := engine.NewEnsembleExecutor(ens, input, 0)
		if err != nil {
			t.Fatalf("%s: ensemble executor: %v", backend, err)
		}

		lastActive := 0
		for !x.Done() {
			if x.Active() < lastActive {
				t.Fatalf("%s: active stage moved backwards", backend)
			}
			lastActive = x.Active()
			if _, err := x.Step(ctx); err != nil {
				t.Fatalf("%s: step: %v", backend, err)
			}
		}
		if got := len(x.Reasons()); got != len(ens.Rules) {
			t.Fatalf("%s: recorded %d terminations, want %d", backend, got, len(ens.Rules))
		}
		if len(x.Stages()) != len(ens.Rules) {
			t.Fatalf("%s: activated %d stages, want %d", backend, len(x.Stages()), len(ens.Rules))
		}
		final, err := x.Step(ctx)
		if err != nil {
			t.Fatalf("%s: step after done: %v", backend, err)
		}
		if final != x.Reasons()[len(ens.Rules)-1] {
			t.Fatalf("%s: expected last reason after completion", backend)
		}
	}
}

func TestEnsembleBackendsAgree(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(9))
	input := randomGrid(rng, 6, 6)
	ens := Ensemble{Rules: []Rule{Random(8, rng), Random(8, rng)}, Pipeline: grid.Pipeline{{Kind: grid.FlipVertical}}}

	pool := newTestPool()
	var hashes []uint64
	for _, backend := range []Backend{CPU, GPU} {
		engine, err := NewEngine(backend, DefaultKernel(), pool)
		if err != nil {
			t.Fatalf("%s: engine: %v", backend, err)
		}
		x, err := engine.NewEnsembleExecutor(ens, input, 0)
		if err != nil {
			t.Fatalf("%s: ensemble executor: %v", backend, err)
		}
		if _, err := x.Run(ctx); err != nil {
			t.Fatalf("%s: run: %v", backend, err)
		}
		hashes = append(hashes, x.Output().ToGrid().Hash())
	}
	if hashes[0] != hashes[1] {
		t.Fatal("cpu and gpu ensemble outputs differ")
	}
}

func TestEnsembleSeedsNextStageWithoutHidden(t *testing.T) {
	ctx := context.Background()
	first := NewRule(1)
	first.Biases[4] = 1
	first.Biases[5] = 1
	ens := Ensemble{Rules: []Rule{first, Identity(2)}}

	engine, err := NewEngine(CPU, DefaultKernel(), nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	x, err := engine.NewEnsembleExecutor(ens, grid.MustNew([][]uint8{{1, 2}}), 0)
	if err != nil {
		t.Fatalf("ensemble executor: %v", err)
	}
	if _, err := x.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	stages := x.Stages()
	if stages[0].Substrate().Cell(0, 0)[substrate.HidStart] != 1 {
		t.Fatal("expected first stage to set hidden channels")
	}
	seed := stages[1].Seed()
	for off := 0; off < len(seed.Data); off += substrate.InpChs {
		for ch := substrate.HidStart; ch < substrate.HidEnd; ch++ {
			if seed.Data[off+ch] != 0 {
				t.Fatal("second stage seed kept hidden channels")
			}
		}
	}
}

func TestEnsembleUpsert(t *testing.T) {
	ctx := context.Background()
	input := grid.MustNew([][]uint8{{1, 2, 3}, {4, 5, 6}})
	engine, err := NewEngine(CPU, DefaultKernel(), nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	x, err := engine.NewEnsembleExecutor(Ensemble{Rules: []Rule{Identity(5)}}, input, 0)
	if err != nil {
		t.Fatalf("ensemble executor: %v", err)
	}
	if _, err := x.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	firstOutput := x.Output().Clone()

	// Appending after completion seeds the new stage from the final output.
	if err := x.Upsert(NewRule(4), 1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if x.Done() || x.Active() != 1 {
		t.Fatalf("expected appended stage to be active, active=%d", x.Active())
	}
	if x.Stages()[1].Seed().MaxAbsDiff(firstOutput) != 0 {
		t.Fatal("appended stage not seeded from previous output")
	}
	if _, err := x.Run(ctx); err != nil {
		t.Fatalf("run appended: %v", err)
	}
	if got := x.Output().ToGrid(); got.Hash() == input.Hash() {
		t.Fatal("zero rule stage should have erased the read-write channels")
	}

	// Replacing the last stage restarts it from its preserved seed.
	if err := x.Upsert(Identity(5), 1); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if len(x.Reasons()) != 1 {
		t.Fatalf("expected first stage termination preserved, got %d reasons", len(x.Reasons()))
	}
	if x.Stages()[0].Substrate().MaxAbsDiff(firstOutput) != 0 {
		t.Fatal("earlier stage output changed")
	}
	reason, err := x.Run(ctx)
	if err != nil {
		t.Fatalf("run replaced: %v", err)
	}
	if reason.Kind != Convergence || reason.Steps != 1 {
		t.Fatalf("replaced stage should converge at once from its seed, got %v", reason)
	}
	if got := x.Output().ToGrid(); got.Hash() != input.Hash() {
		t.Fatalf("output after replace:\n%s\nwant\n%s", got, input)
	}

	if err := x.Upsert(Identity(5), 5); err == nil {
		t.Fatal("expected out-of-range upsert error")
	}
}
