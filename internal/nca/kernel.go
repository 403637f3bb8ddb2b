package nca

import (
	"math"

	"enca/internal/substrate"
)

const (
	DefaultAlive       = 0.5
	DefaultConvergence = 0.25
)

// Kernel holds the thresholds of the update rule. A neighbour channel below
// Alive does not contribute; a step whose largest change is below
// Convergence terminates the run.
type Kernel struct {
	Alive       float32
	Convergence float32
}

func DefaultKernel() Kernel {
	return Kernel{Alive: DefaultAlive, Convergence: DefaultConvergence}
}

func (k Kernel) orDefault() Kernel {
	if k.Alive == 0 && k.Convergence == 0 {
		return DefaultKernel()
	}
	return k
}

// fma32 is the single multiply-add used by every backend so that rounding
// matches bit for bit.
func fma32(a, b, c float32) float32 {
	return float32(math.FMA(float64(a), float64(b), float64(c)))
}

// clamp01 maps NaN to zero.
func clamp01(v float32) float32 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cellOutputs accumulates the outputs of cell (x, y) of field into out.
// Taps are visited in neighbourhood order and channels in ascending order.
func (k Kernel) cellOutputs(weights, biases, field []float32, width, height, x, y int, out *[substrate.OutChs]float32) {
	copy(out[:], biases)
	for tap, off := range substrate.Neighbourhood {
		nx, ny := x+off[0], y+off[1]
		if nx < 0 || nx >= width || ny < 0 || ny >= height {
			continue
		}
		cell := field[(ny*width+nx)*substrate.InpChs:][:substrate.InpChs]
		for ch, v := range cell {
			if v < k.Alive {
				continue
			}
			row := weights[(tap*substrate.InpChs+ch)*substrate.OutChs:][:substrate.OutChs]
			for o := range out {
				out[o] = fma32(v, row[o], out[o])
			}
		}
	}
}

// commitCell overwrites the read-write and hidden channels of cell and
// returns the largest absolute change.
func commitCell(cell []float32, out *[substrate.OutChs]float32) float32 {
	var delta float32
	for o, v := range out {
		ch := substrate.RWStart + o
		nv := clamp01(v)
		d := nv - cell[ch]
		if d < 0 {
			d = -d
		}
		if d > delta {
			delta = d
		}
		cell[ch] = nv
	}
	return delta
}

// update computes one step from src into dst and returns the largest
// absolute change of any channel.
func (k Kernel) update(weights, biases []float32, src, dst substrate.Substrate) float32 {
	var out [substrate.OutChs]float32
	var delta float32
	w, h := src.Width, src.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k.cellOutputs(weights, biases, src.Data, w, h, x, y, &out)
			cell := dst.Cell(x, y)
			copy(cell, src.Cell(x, y))
			if d := commitCell(cell, &out); d > delta {
				delta = d
			}
		}
	}
	return delta
}
