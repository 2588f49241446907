package layout

import (
	"fmt"
	"unicode/utf8"
)

// minFillPercent is the fill ratio below which a puzzle reads as empty.
const minFillPercent = 20

// Validate returns advisory warnings for a finished layout. Warnings never
// invalidate the result.
func Validate(entries []Entry, placed []PlacedWord, grid *Grid) []string {
	warnings := []string{}
	if len(placed) < len(entries) {
		warnings = append(warnings, fmt.Sprintf("Only fit %d of %d words.", len(placed), len(entries)))
	}

	if grid != nil {
		total := grid.Size() * grid.Size()
		filled := grid.Filled()
		if total > 0 && filled*100 < total*minFillPercent {
			warnings = append(warnings, fmt.Sprintf(
				"The puzzle looks empty: only %d%% of the grid is filled. Add more words or choose a smaller grid.",
				filled*100/total))
		}

		longest := ""
		for _, e := range entries {
			if utf8.RuneCountInString(e.Word) > utf8.RuneCountInString(longest) {
				longest = e.Word
			}
		}
		if n := utf8.RuneCountInString(longest); n > grid.Size()-2 {
			warnings = append(warnings, fmt.Sprintf(
				"%s is %d letters long, which is too long for a %dx%d grid.",
				longest, n, grid.Size(), grid.Size()))
		}
	}
	return warnings
}
