package grid

import (
	"fmt"
)

type TransformKind string

const (
	Identity       TransformKind = "identity"
	Rotate90CW     TransformKind = "rot90cw"
	Rotate180      TransformKind = "rot180"
	Rotate270CW    TransformKind = "rot270cw"
	FlipHorizontal TransformKind = "flip_h"
	FlipVertical   TransformKind = "flip_v"
	ReflectMain    TransformKind = "reflect_main"
	ReflectAnti    TransformKind = "reflect_anti"
	RemapColors    TransformKind = "remap_colors"
)

// Transform is a reversible grid transformation. ColMap is only used by
// RemapColors and maps original colour to mapped colour.
type Transform struct {
	Kind   TransformKind `json:"kind"`
	ColMap []int         `json:"col_map,omitempty"`
}

// NewRemap validates that colMap is a permutation of the colour alphabet.
func NewRemap(colMap []int) (Transform, error) {
	if len(colMap) != NumColors {
		return Transform{}, fmt.Errorf("colour map must have %d entries, got %d", NumColors, len(colMap))
	}
	var seen [NumColors]bool
	for i, c := range colMap {
		if c < 0 || c >= NumColors {
			return Transform{}, fmt.Errorf("colour map entry %d out of range: %d", i, c)
		}
		if seen[c] {
			return Transform{}, fmt.Errorf("colour map is not a permutation: %d repeated", c)
		}
		seen[c] = true
	}
	m := make([]int, NumColors)
	copy(m, colMap)
	return Transform{Kind: RemapColors, ColMap: m}, nil
}

func (t Transform) Validate() error {
	switch t.Kind {
	case Identity, Rotate90CW, Rotate180, Rotate270CW, FlipHorizontal, FlipVertical, ReflectMain, ReflectAnti:
		return nil
	case RemapColors:
		_, err := NewRemap(t.ColMap)
		return err
	default:
		return fmt.Errorf("unsupported transform: %q", t.Kind)
	}
}

func (t Transform) Apply(g Grid) Grid {
	w, h := g.width, g.height
	switch t.Kind {
	case Rotate90CW:
		return remap(h, w, func(x, y int) uint8 { return g.At(y, h-1-x) })
	case Rotate180:
		return remap(w, h, func(x, y int) uint8 { return g.At(w-1-x, h-1-y) })
	case Rotate270CW:
		return rotateCCW(g)
	case FlipHorizontal:
		return remap(w, h, func(x, y int) uint8 { return g.At(w-1-x, y) })
	case FlipVertical:
		return remap(w, h, func(x, y int) uint8 { return g.At(x, h-1-y) })
	case ReflectMain:
		return remap(h, w, func(x, y int) uint8 { return g.At(y, x) })
	case ReflectAnti:
		return remap(h, w, func(x, y int) uint8 { return g.At(w-1-y, h-1-x) })
	case RemapColors:
		return recolor(g, t.ColMap)
	default:
		return g
	}
}

func (t Transform) Revert(g Grid) Grid {
	switch t.Kind {
	case Rotate90CW:
		return rotateCCW(g)
	case Rotate270CW:
		return Transform{Kind: Rotate90CW}.Apply(g)
	case RemapColors:
		rev := make([]int, NumColors)
		for orig, mapped := range t.ColMap {
			rev[mapped] = orig
		}
		return recolor(g, rev)
	default:
		// the remaining geometric transforms are involutions
		return t.Apply(g)
	}
}

func rotateCCW(g Grid) Grid {
	w, h := g.width, g.height
	return remap(h, w, func(x, y int) uint8 { return g.At(w-1-y, x) })
}

func recolor(g Grid, colMap []int) Grid {
	if len(colMap) != NumColors {
		return g
	}
	return remap(g.width, g.height, func(x, y int) uint8 { return uint8(colMap[g.At(x, y)]) })
}

// Pipeline applies transforms in order and reverts them in reverse order.
type Pipeline []Transform

func (p Pipeline) Apply(g Grid) Grid {
	for _, t := range p {
		g = t.Apply(g)
	}
	return g
}

func (p Pipeline) Revert(g Grid) Grid {
	for i := len(p) - 1; i >= 0; i-- {
		g = p[i].Revert(g)
	}
	return g
}

func (p Pipeline) Validate() error {
	for i, t := range p {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("transform %d: %w", i, err)
		}
	}
	return nil
}

func (p Pipeline) Clone() Pipeline {
	if p == nil {
		return nil
	}
	out := make(Pipeline, len(p))
	for i, t := range p {
		out[i] = Transform{Kind: t.Kind}
		if t.ColMap != nil {
			out[i].ColMap = append([]int(nil), t.ColMap...)
		}
	}
	return out
}
