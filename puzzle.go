package main

import (
	"time"

	"github.com/bodul/crossword-shop/layout"
)

// Upload records where the print provider stored a puzzle image.
type Upload struct {
	ID         string    `json:"id"`
	PreviewURL string    `json:"preview_url,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Puzzle is a generated crossword as served to the storefront.
type Puzzle struct {
	ID        string              `json:"id"`
	Size      int                 `json:"size"`
	Grid      *layout.Grid        `json:"grid"`
	Placed    []layout.PlacedWord `json:"placed"`
	Clues     layout.Clues        `json:"clues"`
	Bounds    layout.Bounds       `json:"bounds"`
	Warnings  []string            `json:"warnings"`
	Upload    *Upload             `json:"upload,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

func newPuzzle(res *layout.Result) *Puzzle {
	bounds, _ := layout.FindBounds(res.Placed, res.Grid)
	return &Puzzle{
		Size:     res.Grid.Size(),
		Grid:     res.Grid,
		Placed:   res.Placed,
		Clues:    layout.GroupClues(res.Placed),
		Bounds:   bounds,
		Warnings: res.Warnings,
	}
}

// restore rebuilds the grid's crossing flags after the puzzle was decoded
// from storage.
func (p *Puzzle) restore() {
	p.Grid = layout.Restore(p.Size, p.Placed)
}
