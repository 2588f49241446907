package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/bodul/crossword-shop/layout"
)

const maxClueWords = 40

const cluePrompt = `You write clues for a personalised crossword that will be printed as a gift.

For each answer below, write one short, friendly crossword clue (at most 12 words).
Never include the answer itself in its clue. Keep the answers exactly as given.

Answer with JSON only, no markdown:
[{"word": "<answer>", "clue": "<clue>"}, ...]

Answers:
%s`

// SuggestClues asks Gemini for a clue per word. Words are normalized the same
// way the layout engine normalizes them; words Gemini skips are left out.
func (g *GeminiClient) SuggestClues(ctx context.Context, words []string) ([]layout.Entry, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("no words")
	}
	if len(words) > maxClueWords {
		return nil, fmt.Errorf("too many words: %d (max %d)", len(words), maxClueWords)
	}

	want := make(map[string]bool, len(words))
	lines := make([]string, 0, len(words))
	for _, w := range words {
		e := layout.NewEntry(w, "")
		if e.Word == "" || want[e.Word] {
			continue
		}
		want[e.Word] = true
		lines = append(lines, "- "+e.Word)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: fmt.Sprintf(cluePrompt, strings.Join(lines, "\n"))}},
		}},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0.7)),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty gemini response")
	}
	return parseClueSuggestions(text, want)
}

func parseClueSuggestions(text string, want map[string]bool) ([]layout.Entry, error) {
	var raw []struct {
		Word string `json:"word"`
		Clue string `json:"clue"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse clue JSON: %w\nraw response: %s", err, text)
	}

	entries := make([]layout.Entry, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		e := layout.NewEntry(r.Word, r.Clue)
		if !want[e.Word] || seen[e.Word] || e.Clue == "" {
			continue
		}
		seen[e.Word] = true
		entries = append(entries, e)
	}
	return entries, nil
}
