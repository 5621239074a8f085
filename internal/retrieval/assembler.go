package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxContextLength = 4000

	contextPreamble = "Based on the following documents:\n\n"
	untitled        = "Untitled"
)

// ContextAssembler packs ranked hits into a character budget.
type ContextAssembler struct{}

// Assemble folds hits into the context in rank order, stopping at the first
// entry that would overflow maxContextLength. Lengths are counted in runes.
func (ContextAssembler) Assemble(hits []SearchHit, maxContextLength int) AssembledContext {
	sources := []Source{}

	var b strings.Builder
	b.WriteString(contextPreamble)
	length := utf8.RuneCountInString(contextPreamble)

	for _, hit := range hits {
		title := hit.Title
		if title == "" {
			title = untitled
		}
		entry := fmt.Sprintf("Document: %s\nContent: %s\n\n", title, hit.Snippet)
		n := utf8.RuneCountInString(entry)
		if length+n > maxContextLength {
			break
		}
		b.WriteString(entry)
		length += n
		sources = append(sources, Source{
			DocumentID: hit.DocumentID,
			Title:      title,
			Snippet:    hit.Snippet,
			Score:      hit.Score,
		})
	}

	if len(sources) == 0 {
		return AssembledContext{Text: "", Sources: sources}
	}
	return AssembledContext{Text: strings.TrimSpace(b.String()), Sources: sources}
}
