package layout

// PlacedWord is an entry fixed to a grid position.
type PlacedWord struct {
	Entry
	Row        int  `json:"row"`
	Col        int  `json:"col"`
	Horizontal bool `json:"horizontal"`
	Number     int  `json:"number"`
}

// Len returns the word's length in cells.
func (p PlacedWord) Len() int { return len(p.letters()) }

// cell returns the coordinates of the k-th letter.
func (p PlacedWord) cell(k int) (row, col int) {
	if p.Horizontal {
		return p.Row, p.Col + k
	}
	return p.Row + k, p.Col
}

// Cells lists the coordinates the word covers, in reading order.
func (p PlacedWord) Cells() [][2]int {
	n := p.Len()
	out := make([][2]int, n)
	for k := range n {
		r, c := p.cell(k)
		out[k] = [2]int{r, c}
	}
	return out
}

// Direction returns "across" or "down".
func (p PlacedWord) Direction() string {
	if p.Horizontal {
		return "across"
	}
	return "down"
}
