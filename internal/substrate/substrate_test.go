package substrate

import (
	"testing"

	"enca/internal/grid"
)

func TestLayoutConstants(t *testing.T) {
	if InpChs != 10 || OutChs != 6 || InpDim != 50 {
		t.Fatalf("unexpected channel layout: inp=%d out=%d dim=%d", InpChs, OutChs, InpDim)
	}
	if NParams != 306 {
		t.Fatalf("expected 306 parameters, got %d", NParams)
	}
	if Neighbourhood[NhbdCenter] != [2]int{0, 0} {
		t.Fatalf("centre tap is %v", Neighbourhood[NhbdCenter])
	}
	if WeightIndex(NhbdLen-1, InpChs-1, OutChs-1) != NWeights-1 {
		t.Fatal("last weight index out of place")
	}
}

func TestDecodeColor(t *testing.T) {
	cases := []struct {
		v    []float32
		want uint8
	}{
		{[]float32{0, 0, 0, 0}, 0},
		{[]float32{0.9, 0, 0, 0}, 1},
		{[]float32{0.5, 0, 0, 0}, 0},
		{[]float32{0, 1, 0, 1}, 8},
		// every two-hot prototype scores 2; the lowest index wins
		{[]float32{1, 1, 1, 1}, 5},
		{[]float32{1, 1, 0, 0}, 1},
	}
	for _, tc := range cases {
		if got := DecodeColor(tc.v); got != tc.want {
			t.Fatalf("DecodeColor(%v)=%d want %d", tc.v, got, tc.want)
		}
	}
	for c := range Embedding {
		if got := DecodeColor(Embedding[c][:]); got != uint8(c) {
			t.Fatalf("embedding %d decodes to %d", c, got)
		}
	}
}

func TestFromGridWritesReadOnlyOnly(t *testing.T) {
	g := grid.MustNew([][]uint8{{0, 5}, {9, 3}})
	s := FromGrid(g)
	if s.Width != 2 || s.Height != 2 || len(s.Data) != 4*InpChs {
		t.Fatalf("unexpected shape %dx%d len=%d", s.Height, s.Width, len(s.Data))
	}
	cell := s.Cell(1, 0)
	for i := 0; i < VisChs; i++ {
		if cell[ROStart+i] != Embedding[5][i] {
			t.Fatalf("RO channel %d=%v", i, cell[ROStart+i])
		}
	}
	for ch := RWStart; ch < InpChs; ch++ {
		if cell[ch] != 0 {
			t.Fatalf("channel %d should start at zero", ch)
		}
	}
	if got := s.ToGrid(); got.Hash() == g.Hash() {
		t.Fatal("empty read-write channels should not decode to the input")
	}
}

func TestToGridReadsReadWrite(t *testing.T) {
	g := grid.MustNew([][]uint8{{1, 2, 3}, {7, 8, 9}})
	s := FromGrid(g)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			c := s.Cell(x, y)
			copy(c[RWStart:RWEnd], c[ROStart:ROEnd])
		}
	}
	if got := s.ToGrid(); !got.Equal(g) {
		t.Fatalf("decoded:\n%s\nwant\n%s", got, g)
	}
}

func TestClearHiddenAndErrors(t *testing.T) {
	g := grid.MustNew([][]uint8{{4}})
	s := FromGrid(g)
	c := s.Cell(0, 0)
	c[HidStart] = 1
	c[HidEnd-1] = 0.5
	clone := s.Clone()
	s.ClearHidden()
	if c[HidStart] != 0 || c[HidEnd-1] != 0 {
		t.Fatal("hidden channels not cleared")
	}
	if clone.Cell(0, 0)[HidStart] != 1 {
		t.Fatal("clone aliases original data")
	}
	if d := clone.MaxAbsDiff(s); d != 1 {
		t.Fatalf("max abs diff=%v want 1", d)
	}

	target := FromGrid(g)
	if e := s.VisibleError(target); e != 0.25 {
		t.Fatalf("visible error=%v want 0.25", e)
	}
	copy(c[RWStart:RWEnd], Embedding[4][:])
	if e := s.VisibleError(target); e != 0 {
		t.Fatalf("visible error=%v want 0", e)
	}
	if e := s.VisibleError(New(2, 1)); e != 1 {
		t.Fatalf("shape mismatch error=%v want 1", e)
	}
}
