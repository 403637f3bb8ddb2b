package substrate

import (
	"fmt"
	"math"

	"enca/internal/grid"
)

// Substrate is the per-cell channel state, stored row-major as (y, x, ch).
type Substrate struct {
	Data   []float32
	Width  int
	Height int
}

func New(width, height int) Substrate {
	return Substrate{
		Data:   make([]float32, width*height*InpChs),
		Width:  width,
		Height: height,
	}
}

// FromGrid writes each colour's embedding into the read-only channels. All
// other channels start at zero.
func FromGrid(g grid.Grid) Substrate {
	s := New(g.Width(), g.Height())
	for y := 0; y < g.Height(); y++ {
		for x := 0; x < g.Width(); x++ {
			copy(s.Cell(x, y)[ROStart:ROEnd], Embedding[g.At(x, y)][:])
		}
	}
	return s
}

// ToGrid decodes the read-write channels of every cell.
func (s Substrate) ToGrid() grid.Grid {
	rows := make([][]uint8, s.Height)
	for y := range rows {
		rows[y] = make([]uint8, s.Width)
		for x := range rows[y] {
			rows[y][x] = DecodeColor(s.Cell(x, y)[RWStart:RWEnd])
		}
	}
	g, err := grid.New(rows)
	if err != nil {
		// decoded colours are always in range and the shape is rectangular
		panic(fmt.Sprintf("decode substrate: %v", err))
	}
	return g
}

func (s Substrate) Cells() int { return s.Width * s.Height }

// Cell returns the channel slice of cell (x, y), aliasing s.Data.
func (s Substrate) Cell(x, y int) []float32 {
	off := (y*s.Width + x) * InpChs
	return s.Data[off : off+InpChs]
}

func (s Substrate) Clone() Substrate {
	data := make([]float32, len(s.Data))
	copy(data, s.Data)
	return Substrate{Data: data, Width: s.Width, Height: s.Height}
}

// CopyFrom overwrites s with src. Shapes must match.
func (s Substrate) CopyFrom(src Substrate) {
	copy(s.Data, src.Data)
}

func (s Substrate) SameShape(other Substrate) bool {
	return s.Width == other.Width && s.Height == other.Height
}

// ClearHidden zeroes the hidden channels of every cell.
func (s Substrate) ClearHidden() {
	for i := 0; i < len(s.Data); i += InpChs {
		for ch := HidStart; ch < HidEnd; ch++ {
			s.Data[i+ch] = 0
		}
	}
}

// MaxAbsDiff returns the largest per-channel absolute difference.
func (s Substrate) MaxAbsDiff(other Substrate) float32 {
	var m float32
	for i, v := range s.Data {
		d := v - other.Data[i]
		if d < 0 {
			d = -d
		}
		if d > m {
			m = d
		}
	}
	return m
}

// MeanSquaredDiff is the mean over all channels of the squared difference.
func (s Substrate) MeanSquaredDiff(other Substrate) float64 {
	if len(s.Data) == 0 {
		return 0
	}
	var sum float64
	for i, v := range s.Data {
		d := float64(v - other.Data[i])
		sum += d * d
	}
	return sum / float64(len(s.Data))
}

// VisibleError is the mean squared error between the read-write channels of s
// and the read-only channels of target, which holds the expected colours.
func (s Substrate) VisibleError(target Substrate) float64 {
	if !s.SameShape(target) {
		return 1
	}
	var sum float64
	for off := 0; off < len(s.Data); off += InpChs {
		for i := 0; i < VisChs; i++ {
			d := float64(s.Data[off+RWStart+i] - target.Data[off+ROStart+i])
			sum += d * d
		}
	}
	n := s.Cells() * VisChs
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// InRange reports whether every value lies in [0, 1].
func (s Substrate) InRange() bool {
	for _, v := range s.Data {
		if math.IsNaN(float64(v)) || v < 0 || v > 1 {
			return false
		}
	}
	return true
}
