package nca

import (
	"testing"

	"enca/internal/substrate"
)

func TestCellOutputsSkipsDeadNeighbours(t *testing.T) {
	k := DefaultKernel()
	s := substrate.New(1, 1)
	s.Cell(0, 0)[0] = 0.4
	s.Cell(0, 0)[1] = 0.5

	r := NewRule(1)
	r.Weights[substrate.WeightIndex(substrate.NhbdCenter, 0, 0)] = 1
	r.Weights[substrate.WeightIndex(substrate.NhbdCenter, 1, 1)] = 1
	r.Biases[3] = 0.125

	var out [substrate.OutChs]float32
	k.cellOutputs(r.Weights, r.Biases, s.Data, 1, 1, 0, 0, &out)
	if out[0] != 0 {
		t.Fatalf("value below alive threshold contributed: %v", out[0])
	}
	if out[1] != 0.5 {
		t.Fatalf("alive value at threshold should contribute, got %v", out[1])
	}
	if out[3] != 0.125 {
		t.Fatalf("bias not applied: %v", out[3])
	}
}

func TestCellOutputsSkipsOutOfBounds(t *testing.T) {
	k := DefaultKernel()
	s := substrate.New(2, 1)
	s.Cell(1, 0)[0] = 1

	r := NewRule(1)
	// tap 3 is (1, 0): the right neighbour.
	r.Weights[substrate.WeightIndex(3, 0, 0)] = 0.75
	// tap 1 is (-1, 0): the left neighbour.
	r.Weights[substrate.WeightIndex(1, 0, 1)] = 0.5

	var out [substrate.OutChs]float32
	k.cellOutputs(r.Weights, r.Biases, s.Data, 2, 1, 0, 0, &out)
	if out[0] != 0.75 {
		t.Fatalf("right neighbour contribution=%v want 0.75", out[0])
	}
	k.cellOutputs(r.Weights, r.Biases, s.Data, 2, 1, 1, 0, &out)
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("out-of-bounds or dead taps contributed: %v", out)
	}
}

func TestCommitClampsAndLeavesReadOnly(t *testing.T) {
	cell := make([]float32, substrate.InpChs)
	cell[substrate.ROStart] = 1
	out := [substrate.OutChs]float32{2, -1, 0.5, 0, 0.25, 7}
	delta := commitCell(cell, &out)
	if cell[substrate.ROStart] != 1 {
		t.Fatal("read-only channel was written")
	}
	want := []float32{1, 0, 0.5, 0, 0.25, 1}
	for i, w := range want {
		if cell[substrate.RWStart+i] != w {
			t.Fatalf("channel %d=%v want %v", substrate.RWStart+i, cell[substrate.RWStart+i], w)
		}
	}
	if delta != 1 {
		t.Fatalf("delta=%v want 1", delta)
	}
}
