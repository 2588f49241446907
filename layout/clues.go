package layout

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Clue is one numbered line of a clue panel.
type Clue struct {
	Number int    `json:"number"`
	Text   string `json:"clue"`
	Answer string `json:"answer"`
	// Enumeration lists the word lengths of the answer, e.g. "3,4".
	Enumeration string `json:"enumeration"`
}

// Clues holds the across and down panels.
type Clues struct {
	Across []Clue `json:"across"`
	Down   []Clue `json:"down"`
}

// GroupClues splits placed words into across and down panels, keeping
// placement order within each.
func GroupClues(placed []PlacedWord) Clues {
	clues := Clues{Across: []Clue{}, Down: []Clue{}}
	for _, p := range placed {
		c := Clue{
			Number:      p.Number,
			Text:        p.Clue,
			Answer:      strings.ReplaceAll(p.Word, string(Placeholder), " "),
			Enumeration: enumeration(p.Word),
		}
		if p.Horizontal {
			clues.Across = append(clues.Across, c)
		} else {
			clues.Down = append(clues.Down, c)
		}
	}
	return clues
}

func enumeration(word string) string {
	parts := strings.Split(word, string(Placeholder))
	lens := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		lens = append(lens, strconv.Itoa(utf8.RuneCountInString(part)))
	}
	return strings.Join(lens, ",")
}
