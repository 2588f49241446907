// Package layout places crossword answers onto a square grid so that every
// word connects to the others through shared letters.
package layout

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"unicode/utf8"
)

var (
	ErrNoWords     = errors.New("layout: no words to place")
	ErrEmptyWord   = errors.New("layout: empty word")
	ErrInvalidSize = errors.New("layout: grid size must be positive")
	// ErrNoLayout means no arrangement holds every word. Callers should ask
	// for different words or a larger grid.
	ErrNoLayout = errors.New("layout: no arrangement fits every word")
	// ErrBudgetExhausted is returned when backtracking hits MaxBacktracks.
	ErrBudgetExhausted = fmt.Errorf("%w: backtracking budget exhausted", ErrNoLayout)
)

const (
	DefaultSize          = 20
	NarrowMaxSize        = 20
	MaxSize              = 30
	DefaultMaxBacktracks = 10000
)

// Rand is the randomness the generator draws on. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// Generator lays out word lists on a Size×Size grid.
type Generator struct {
	Size int
	Rand Rand
	// MaxBacktracks caps the number of removals tried across one Generate
	// call. Zero means DefaultMaxBacktracks, negative means no cap.
	MaxBacktracks int
}

// New returns a Generator. A nil rng gets a randomly seeded PCG source.
func New(size int, rng Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{Size: size, Rand: rng}
}

// Result is a finished layout.
type Result struct {
	Grid     *Grid        `json:"grid"`
	Placed   []PlacedWord `json:"placed"`
	Warnings []string     `json:"warnings"`
}

// ClampSize picks the grid size for a request: DefaultSize when unset, never
// above MaxSize, and never above NarrowMaxSize on narrow screens.
func ClampSize(requested int, narrow bool) int {
	size := requested
	if size <= 0 {
		size = DefaultSize
	}
	size = min(size, MaxSize)
	if narrow {
		size = min(size, NarrowMaxSize)
	}
	return size
}

// Generate places every entry or fails with ErrNoLayout. Longer words go
// first; words of equal length are placed in random order.
func (g *Generator) Generate(entries []Entry) (*Result, error) {
	if g.Size <= 0 {
		return nil, ErrInvalidSize
	}
	if len(entries) == 0 {
		return nil, ErrNoWords
	}
	for _, e := range entries {
		if e.Word == "" {
			return nil, fmt.Errorf("%w (clue %q)", ErrEmptyWord, e.Clue)
		}
	}

	rng := g.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	budget := g.MaxBacktracks
	if budget == 0 {
		budget = DefaultMaxBacktracks
	}

	r := &run{grid: NewGrid(g.Size), rng: rng, budget: budget}
	for _, e := range orderEntries(entries, rng) {
		if r.tryPlace(e) {
			continue
		}
		ok, err := r.backtrack(e)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: could not place %q", ErrNoLayout, e.Word)
		}
	}

	for i := range r.placed {
		r.placed[i].Number = i + 1
	}
	res := &Result{Grid: r.grid.Clone(), Placed: r.placed}
	res.Warnings = Validate(entries, res.Placed, res.Grid)
	return res, nil
}

func orderEntries(entries []Entry, rng Rand) []Entry {
	out := slices.Clone(entries)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	slices.SortStableFunc(out, func(a, b Entry) int {
		return utf8.RuneCountInString(b.Word) - utf8.RuneCountInString(a.Word)
	})
	return out
}

// run is the state of a single Generate call.
type run struct {
	grid   *Grid
	placed []PlacedWord
	rng    Rand
	budget int
}

func (r *run) tryPlace(e Entry) bool {
	p, ok := r.findPosition(e)
	if !ok {
		return false
	}
	r.grid.write(p)
	r.placed = append(r.placed, p)
	return true
}

// findPosition scans the central half of the grid first, then all of it.
func (r *run) findPosition(e Entry) (PlacedWord, bool) {
	n := r.grid.size
	orient := [2]bool{true, false}
	if r.rng.IntN(2) == 1 {
		orient = [2]bool{false, true}
	}
	if p, ok := r.scan(e, n/4, min(3*n/4, n-1), orient); ok {
		return p, true
	}
	return r.scan(e, 0, n-1, orient)
}

func (r *run) scan(e Entry, lo, hi int, orient [2]bool) (PlacedWord, bool) {
	for row := lo; row <= hi; row++ {
		for col := lo; col <= hi; col++ {
			for _, h := range orient {
				p := PlacedWord{Entry: e, Row: row, Col: col, Horizontal: h}
				if r.canPlace(p) {
					return p, true
				}
			}
		}
	}
	return PlacedWord{}, false
}

func (r *run) canPlace(p PlacedWord) bool {
	g := r.grid
	letters := p.letters()
	if len(letters) == 0 {
		return false
	}
	endRow, endCol := p.cell(len(letters) - 1)
	if !g.InBounds(p.Row, p.Col) || !g.InBounds(endRow, endCol) {
		return false
	}

	// dr/dc step along the word; (dc, dr) steps across it.
	dr, dc := 1, 0
	if p.Horizontal {
		dr, dc = 0, 1
	}
	if g.At(p.Row-dr, p.Col-dc) != Empty || g.At(endRow+dr, endCol+dc) != Empty {
		return false
	}

	crossings := 0
	for k, ch := range letters {
		row, col := p.cell(k)
		switch cur := g.At(row, col); {
		case cur == Empty:
			if g.At(row-dc, col-dr) != Empty || g.At(row+dc, col+dr) != Empty {
				return false
			}
		case cur == ch && !g.occupied(row, col, p.Horizontal):
			crossings++
		default:
			return false
		}
	}
	return crossings > 0 || len(r.placed) == 0
}

// backtrack lifts placed words one at a time, newest first, and retries e in
// the gap. A lifted word must go back exactly where it was.
func (r *run) backtrack(e Entry) (bool, error) {
	for j := len(r.placed) - 1; j >= 0; j-- {
		if r.budget == 0 {
			return false, ErrBudgetExhausted
		}
		if r.budget > 0 {
			r.budget--
		}

		saved := r.placed
		removed := saved[j]
		r.grid.erase(removed)
		r.placed = slices.Delete(slices.Clone(saved), j, j+1)

		if p, ok := r.findPosition(e); ok {
			r.grid.write(p)
			r.placed = append(r.placed, p)
			if r.canPlace(removed) {
				r.grid.write(removed)
				r.placed = slices.Insert(r.placed, j, removed)
				return true, nil
			}
			r.grid.erase(p)
		}

		r.placed = saved
		r.grid.write(removed)
	}
	return false, nil
}
