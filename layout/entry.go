package layout

import (
	"strings"
	"unicode"
)

// Placeholder stands in for a space inside a multi-word answer so the answer
// is placed as one contiguous token.
const Placeholder = '_'

// Entry is a word and its clue, as typed by the buyer.
type Entry struct {
	Word string `json:"word"`
	Clue string `json:"clue"`
}

// NewEntry normalizes word and trims the clue. The word keeps only letters,
// uppercased, with whitespace runs between them turned into Placeholder.
// Anything else (digits, punctuation, '#', '.') is dropped so it cannot be
// mistaken for a grid marker.
func NewEntry(word, clue string) Entry {
	return Entry{Word: normalizeWord(word), Clue: strings.TrimSpace(clue)}
}

func normalizeWord(word string) string {
	var parts []string
	for _, f := range strings.FieldsFunc(word, unicode.IsSpace) {
		kept := strings.Map(keepWordRune, f)
		if kept = strings.Trim(kept, string(Placeholder)); kept != "" {
			parts = append(parts, kept)
		}
	}
	return strings.ToUpper(strings.Join(parts, string(Placeholder)))
}

func keepWordRune(r rune) rune {
	if unicode.IsLetter(r) || r == Placeholder {
		return r
	}
	return -1
}

// ParseWordList reads one "WORD - clue" entry per line. A colon is accepted
// when the line has no " - " separator. Lines without a clue or with an empty
// word are dropped.
func ParseWordList(text string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(text, "\n") {
		word, clue, ok := strings.Cut(line, " - ")
		if !ok {
			word, clue, ok = strings.Cut(line, ":")
		}
		if !ok {
			continue
		}
		e := NewEntry(word, clue)
		if e.Word == "" || e.Clue == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func (e Entry) letters() []rune {
	return []rune(e.Word)
}
