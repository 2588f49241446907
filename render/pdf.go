package render

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/go-pdf/fpdf"

	"github.com/bodul/crossword-shop/layout"
)

const (
	pdfMargin     = 15.0 // mm
	pdfMaxGridW   = 150.0
	pdfMMPerPixel = 0.26
)

// PDF lays out a printable puzzle on A4: title, the blank grid, then the
// across and down clue panels.
func PDF(grid *layout.Grid, placed []layout.PlacedWord, title string) ([]byte, error) {
	var img bytes.Buffer
	rendered := Render(grid, placed, Options{})
	if err := EncodePNG(&img, rendered); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.RegisterImageOptionsReader("grid", fpdf.ImageOptions{ImageType: "PNG"}, &img)
	w := min(pdfMaxGridW, float64(rendered.Bounds().Dx())*pdfMMPerPixel)
	pdf.ImageOptions("grid", pdfMargin, pdf.GetY(), w, 0, true, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	pdf.Ln(6)

	clues := layout.GroupClues(placed)
	for _, panel := range []struct {
		name  string
		clues []layout.Clue
	}{{"Across", clues.Across}, {"Down", clues.Down}} {
		if len(panel.clues) == 0 {
			continue
		}
		pdf.SetFont("Helvetica", "B", 13)
		pdf.CellFormat(0, 8, panel.name, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		for _, c := range panel.clues {
			line := strconv.Itoa(c.Number) + ". " + c.Text + " (" + c.Enumeration + ")"
			pdf.MultiCell(0, 6, tr(line), "", "L", false)
		}
		pdf.Ln(3)
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return out.Bytes(), nil
}
