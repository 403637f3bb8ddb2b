package substrate

import "enca/internal/grid"

// Embedding maps each colour to its visible channel prototype.
var Embedding = [grid.NumColors][VisChs]float32{
	{0, 0, 0, 0},
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
	{0, 0, 0, 1},
	{1, 0, 1, 0},
	{1, 0, 0, 1},
	{0, 1, 1, 0},
	{0, 1, 0, 1},
	{0, 0, 1, 1},
}

// DecodeColor thresholds v at 0.5 and returns the prototype with the largest
// dot product. Ties resolve to the lowest colour index.
func DecodeColor(v []float32) uint8 {
	var bits [VisChs]float32
	for i := 0; i < VisChs && i < len(v); i++ {
		if v[i] > 0.5 {
			bits[i] = 1
		}
	}
	best := uint8(0)
	bestDot := float32(-1)
	for c, proto := range Embedding {
		var dot float32
		for i := range proto {
			dot += proto[i] * bits[i]
		}
		if dot > bestDot {
			bestDot = dot
			best = uint8(c)
		}
	}
	return best
}
