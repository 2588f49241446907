package layout

import (
	"encoding/json"
	"strings"
)

const (
	// Empty marks a cell no word uses.
	Empty rune = 0
	// Block marks a dead cell. Nothing writes one yet; a block cell rejects
	// every letter.
	Block rune = '#'
)

// Grid is a square matrix of cells stored row-major. Each cell also records
// whether an across and/or a down word runs through it, which is what makes
// a filled cell a legal crossing.
type Grid struct {
	size  int
	cells []rune
	// across[i]/down[i] report the orientation of the word(s) using cell i.
	across []bool
	down   []bool
}

// NewGrid returns an empty size×size grid.
func NewGrid(size int) *Grid {
	n := size * size
	return &Grid{
		size:   size,
		cells:  make([]rune, n),
		across: make([]bool, n),
		down:   make([]bool, n),
	}
}

// Size returns the grid's side length.
func (g *Grid) Size() int { return g.size }

func (g *Grid) index(row, col int) int { return row*g.size + col }

// InBounds reports whether (row, col) lies on the grid.
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.size && col >= 0 && col < g.size
}

// At returns the cell at (row, col), or Empty when off-grid.
func (g *Grid) At(row, col int) rune {
	if !g.InBounds(row, col) {
		return Empty
	}
	return g.cells[g.index(row, col)]
}

func (g *Grid) occupied(row, col int, horizontal bool) bool {
	i := g.index(row, col)
	if horizontal {
		return g.across[i]
	}
	return g.down[i]
}

func (g *Grid) write(p PlacedWord) {
	for k, r := range p.letters() {
		row, col := p.cell(k)
		i := g.index(row, col)
		g.cells[i] = r
		if p.Horizontal {
			g.across[i] = true
		} else {
			g.down[i] = true
		}
	}
}

// erase removes p's letters, keeping cells still used by a crossing word.
func (g *Grid) erase(p PlacedWord) {
	for k := range p.letters() {
		row, col := p.cell(k)
		i := g.index(row, col)
		if p.Horizontal {
			g.across[i] = false
		} else {
			g.down[i] = false
		}
		if !g.across[i] && !g.down[i] {
			g.cells[i] = Empty
		}
	}
}

// Filled counts cells holding a letter or placeholder.
func (g *Grid) Filled() int {
	n := 0
	for _, c := range g.cells {
		if c != Empty && c != Block {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (g *Grid) Clone() *Grid {
	cp := NewGrid(g.size)
	copy(cp.cells, g.cells)
	copy(cp.across, g.across)
	copy(cp.down, g.down)
	return cp
}

// Rows renders each row as a string, with '.' for empty cells.
func (g *Grid) Rows() []string {
	rows := make([]string, g.size)
	var b strings.Builder
	for r := 0; r < g.size; r++ {
		b.Reset()
		for c := 0; c < g.size; c++ {
			ch := g.At(r, c)
			if ch == Empty {
				ch = '.'
			}
			b.WriteRune(ch)
		}
		rows[r] = b.String()
	}
	return rows
}

func (g *Grid) String() string {
	return strings.Join(g.Rows(), "\n")
}

// MarshalJSON encodes the grid as its rows.
func (g *Grid) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Rows())
}

// UnmarshalJSON rebuilds cell letters from rows. Orientation flags are not
// part of the encoding; use Restore to rebuild them from placements.
func (g *Grid) UnmarshalJSON(data []byte) error {
	var rows []string
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	*g = *NewGrid(len(rows))
	for r, row := range rows {
		for c, ch := range []rune(row) {
			if c >= g.size {
				break
			}
			if ch == '.' {
				ch = Empty
			}
			g.cells[g.index(r, c)] = ch
		}
	}
	return nil
}

// Restore rebuilds a grid from its placements.
func Restore(size int, placed []PlacedWord) *Grid {
	g := NewGrid(size)
	for _, p := range placed {
		g.write(p)
	}
	return g
}
