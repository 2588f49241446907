// Package render draws a finished crossword layout as a raster image,
// cropped to the cells the puzzle actually uses.
package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bodul/crossword-shop/layout"
)

const (
	defaultCellSize = 32
	defaultMargin   = 16
)

var (
	paper       = color.RGBA{0xff, 0xff, 0xff, 0xff}
	ink         = color.RGBA{0x11, 0x11, 0x11, 0xff}
	placeholder = color.RGBA{0xbb, 0xbb, 0xbb, 0xff}
	numberInk   = color.RGBA{0x44, 0x44, 0x44, 0xff}
)

// Options controls the drawing.
type Options struct {
	CellSize int // pixels per cell side
	// Margin is the blank border around the crop in pixels. Zero picks the
	// default; negative means none.
	Margin int
	// Solution draws the answers in their cells. Otherwise the cells are
	// left blank for solving.
	Solution bool
}

func (o Options) withDefaults() Options {
	if o.CellSize <= 0 {
		o.CellSize = defaultCellSize
	}
	if o.Margin < 0 {
		o.Margin = 0
	} else if o.Margin == 0 {
		o.Margin = defaultMargin
	}
	return o
}

// Render draws the part of grid covered by placed words. An empty layout
// yields a blank image of margin size.
func Render(grid *layout.Grid, placed []layout.PlacedWord, opts Options) *image.RGBA {
	opts = opts.withDefaults()
	b, ok := layout.FindBounds(placed, grid)
	if !ok {
		side := max(2*opts.Margin, 1)
		img := image.NewRGBA(image.Rect(0, 0, side, side))
		draw.Draw(img, img.Bounds(), image.NewUniform(paper), image.Point{}, draw.Src)
		return img
	}

	cs := opts.CellSize
	w := b.Cols()*cs + 2*opts.Margin
	h := b.Rows()*cs + 2*opts.Margin
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(paper), image.Point{}, draw.Src)

	origin := func(row, col int) image.Point {
		return image.Pt(opts.Margin+(col-b.Left)*cs, opts.Margin+(row-b.Top)*cs)
	}

	for r := b.Top; r <= b.Bottom; r++ {
		for c := b.Left; c <= b.Right; c++ {
			ch := grid.At(r, c)
			if ch == layout.Empty {
				continue
			}
			cell := image.Rectangle{Min: origin(r, c), Max: origin(r, c).Add(image.Pt(cs, cs))}
			fill := paper
			if ch == layout.Placeholder || ch == layout.Block {
				fill = placeholder
			}
			draw.Draw(img, cell, image.NewUniform(fill), image.Point{}, draw.Src)
			outline(img, cell, ink)
			if opts.Solution && ch != layout.Placeholder && ch != layout.Block {
				centered(img, cell, string(ch), ink)
			}
		}
	}

	// Lower numbers win when two words start in the same cell.
	numbered := map[[2]int]bool{}
	for _, p := range placed {
		key := [2]int{p.Row, p.Col}
		if numbered[key] {
			continue
		}
		numbered[key] = true
		pt := origin(p.Row, p.Col)
		text(img, pt.X+2, pt.Y+11, strconv.Itoa(p.Number), numberInk)
	}
	return img
}

func outline(img *image.RGBA, r image.Rectangle, c color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, c)
		img.Set(r.Max.X-1, y, c)
	}
}

func centered(img *image.RGBA, cell image.Rectangle, s string, c color.Color) {
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: basicfont.Face7x13}
	width := d.MeasureString(s).Ceil()
	x := cell.Min.X + (cell.Dx()-width)/2
	y := cell.Min.Y + (cell.Dy()+basicfont.Face7x13.Ascent)/2 + 2
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}

func text(img *image.RGBA, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// DataURI encodes img as a base64 PNG data URI.
func DataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
