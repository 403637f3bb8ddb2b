package tuning

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
)

// Subspace exposes the coordinates Indices of a full vector Base as a
// smaller search space. Coordinates outside Indices stay fixed.
type Subspace struct {
	Base    []float64
	Indices []int
}

// RandomSubspace picks size distinct sorted indices of base. A size of zero
// or at least len(base) selects every coordinate.
func RandomSubspace(base []float64, size int, rng *rand.Rand) Subspace {
	n := len(base)
	var idx []int
	if size <= 0 || size >= n {
		idx = make([]int, n)
		for i := range idx {
			idx[i] = i
		}
	} else {
		idx = rng.Perm(n)[:size]
		sort.Ints(idx)
	}
	return Subspace{Base: append([]float64(nil), base...), Indices: idx}
}

func (s Subspace) Dim() int { return len(s.Indices) }

// Project returns the sub-vector of full at the subspace indices.
func (s Subspace) Project(full []float64) []float64 {
	out := make([]float64, len(s.Indices))
	for i, j := range s.Indices {
		out[i] = full[j]
	}
	return out
}

// Lift writes sub into a copy of Base.
func (s Subspace) Lift(sub []float64) ([]float64, error) {
	if len(sub) != len(s.Indices) {
		return nil, fmt.Errorf("subspace vector has %d components, want %d", len(sub), len(s.Indices))
	}
	full := append([]float64(nil), s.Base...)
	for i, j := range s.Indices {
		full[j] = sub[i]
	}
	return full, nil
}

// Objective adapts a full-space objective to the subspace.
func (s Subspace) Objective(f BatchObjective) BatchObjective {
	return func(ctx context.Context, points [][]float64) ([]float64, error) {
		full := make([][]float64, len(points))
		for i, p := range points {
			x, err := s.Lift(p)
			if err != nil {
				return nil, err
			}
			full[i] = x
		}
		return f(ctx, full)
	}
}
