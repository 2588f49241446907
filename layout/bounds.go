package layout

import "math"

// Bounds is an inclusive rectangle of grid cells.
type Bounds struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// Rows returns the rectangle's height in cells.
func (b Bounds) Rows() int { return b.Bottom - b.Top + 1 }

// Cols returns the rectangle's width in cells.
func (b Bounds) Cols() int { return b.Right - b.Left + 1 }

func (b *Bounds) extend(row, col int) {
	b.Top = min(b.Top, row)
	b.Bottom = max(b.Bottom, row)
	b.Left = min(b.Left, col)
	b.Right = max(b.Right, col)
}

// FindBounds returns the smallest rectangle covering every placed word and
// every non-empty grid cell. grid may be nil. ok is false when there is
// nothing to cover.
func FindBounds(placed []PlacedWord, grid *Grid) (b Bounds, ok bool) {
	b = Bounds{Top: math.MaxInt, Left: math.MaxInt, Bottom: -1, Right: -1}
	for _, p := range placed {
		for _, rc := range p.Cells() {
			b.extend(rc[0], rc[1])
			ok = true
		}
	}
	if grid != nil {
		for r := 0; r < grid.Size(); r++ {
			for c := 0; c < grid.Size(); c++ {
				if grid.At(r, c) != Empty {
					b.extend(r, c)
					ok = true
				}
			}
		}
	}
	if !ok {
		return Bounds{}, false
	}
	return b, true
}
