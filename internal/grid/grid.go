package grid

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
)

// NumColors is the size of the colour alphabet.
const NumColors = 10

var ErrInvalidGrid = errors.New("invalid grid")

// Grid is an immutable H×W matrix of colours in [0, NumColors).
type Grid struct {
	width  int
	height int
	cells  []uint8
	hash   uint64
}

// New builds a grid from rows. Rows must be non-empty, rectangular and hold
// only valid colours.
func New(rows [][]uint8) (Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return Grid{}, fmt.Errorf("%w: empty", ErrInvalidGrid)
	}
	width := len(rows[0])
	cells := make([]uint8, 0, width*len(rows))
	for y, row := range rows {
		if len(row) != width {
			return Grid{}, fmt.Errorf("%w: row %d has width %d, want %d", ErrInvalidGrid, y, len(row), width)
		}
		for x, c := range row {
			if c >= NumColors {
				return Grid{}, fmt.Errorf("%w: colour %d at (%d,%d)", ErrInvalidGrid, c, x, y)
			}
		}
		cells = append(cells, row...)
	}
	return fromCells(width, len(rows), cells), nil
}

// MustNew is New for literals in tests and fixtures.
func MustNew(rows [][]uint8) Grid {
	g, err := New(rows)
	if err != nil {
		panic(err)
	}
	return g
}

// Filled returns a width×height grid with every cell set to color.
func Filled(width, height int, color uint8) (Grid, error) {
	if width <= 0 || height <= 0 {
		return Grid{}, fmt.Errorf("%w: shape %dx%d", ErrInvalidGrid, height, width)
	}
	if color >= NumColors {
		return Grid{}, fmt.Errorf("%w: colour %d", ErrInvalidGrid, color)
	}
	cells := make([]uint8, width*height)
	for i := range cells {
		cells[i] = color
	}
	return fromCells(width, height, cells), nil
}

func fromCells(width, height int, cells []uint8) Grid {
	h := fnv.New64a()
	var dims [8]byte
	binary.LittleEndian.PutUint32(dims[:4], uint32(height))
	binary.LittleEndian.PutUint32(dims[4:], uint32(width))
	_, _ = h.Write(dims[:])
	_, _ = h.Write(cells)
	return Grid{width: width, height: height, cells: cells, hash: h.Sum64()}
}

func (g Grid) Width() int  { return g.width }
func (g Grid) Height() int { return g.height }

// Shape returns (height, width).
func (g Grid) Shape() (int, int) { return g.height, g.width }

func (g Grid) Len() int { return len(g.cells) }

// At returns the colour at column x, row y.
func (g Grid) At(x, y int) uint8 { return g.cells[y*g.width+x] }

// Hash is a content hash over shape and cells.
func (g Grid) Hash() uint64 { return g.hash }

func (g Grid) Equal(other Grid) bool {
	if g.width != other.width || g.height != other.height || g.hash != other.hash {
		return false
	}
	for i := range g.cells {
		if g.cells[i] != other.cells[i] {
			return false
		}
	}
	return true
}

// SameShape reports whether both grids have identical dimensions.
func (g Grid) SameShape(other Grid) bool {
	return g.width == other.width && g.height == other.height
}

// Colors returns the distinct colours present, ascending.
func (g Grid) Colors() []uint8 {
	var seen [NumColors]bool
	for _, c := range g.cells {
		seen[c] = true
	}
	out := make([]uint8, 0, NumColors)
	for c, ok := range seen {
		if ok {
			out = append(out, uint8(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Rows returns a copy of the cells as row slices.
func (g Grid) Rows() [][]uint8 {
	rows := make([][]uint8, g.height)
	for y := range rows {
		row := make([]uint8, g.width)
		copy(row, g.cells[y*g.width:(y+1)*g.width])
		rows[y] = row
	}
	return rows
}

func (g Grid) MarshalJSON() ([]byte, error) {
	rows := make([][]int, g.height)
	for y := range rows {
		rows[y] = make([]int, g.width)
		for x := range rows[y] {
			rows[y][x] = int(g.At(x, y))
		}
	}
	return json.Marshal(rows)
}

func (g *Grid) UnmarshalJSON(data []byte) error {
	var raw [][]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rows := make([][]uint8, len(raw))
	for y, r := range raw {
		rows[y] = make([]uint8, len(r))
		for x, v := range r {
			if v < 0 || v >= NumColors {
				return fmt.Errorf("%w: colour %d at (%d,%d)", ErrInvalidGrid, v, x, y)
			}
			rows[y][x] = uint8(v)
		}
	}
	parsed, err := New(rows)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

func (g Grid) String() string {
	buf := make([]byte, 0, (g.width+1)*g.height)
	for y := 0; y < g.height; y++ {
		for x := 0; x < g.width; x++ {
			buf = append(buf, '0'+g.At(x, y))
		}
		if y < g.height-1 {
			buf = append(buf, '\n')
		}
	}
	return string(buf)
}

// remap builds a new grid of the given shape where cell (x, y) of the output
// takes its colour from src(x, y).
func remap(width, height int, src func(x, y int) uint8) Grid {
	cells := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			cells[y*width+x] = src(x, y)
		}
	}
	return fromCells(width, height, cells)
}
