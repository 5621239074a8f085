package retrieval

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	minTermLength     = 3
	minSentenceLength = 20
)

// A sentence runs up to and including its terminating [.!?]+ run.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)

// KeywordScorer ranks whole documents by the share of query terms found in
// their best matching sentence.
type KeywordScorer struct{}

// Tokenize lowercases the query, splits it on whitespace and drops terms of
// two characters or fewer.
func Tokenize(query string) []string {
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(f) >= minTermLength {
			terms = append(terms, f)
		}
	}
	return terms
}

// SplitSentences returns the trimmed sentences of content whose body, without
// the terminating punctuation, is at least minSentenceLength characters long.
// Returned sentences keep their punctuation.
func SplitSentences(content string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(content, -1) {
		s = strings.TrimSpace(s)
		body := strings.TrimSpace(strings.TrimRight(s, ".!?"))
		if utf8.RuneCountInString(body) >= minSentenceLength {
			out = append(out, s)
		}
	}
	return out
}

// BestSentence returns the first sentence with the highest number of
// contained terms, and that number.
func (KeywordScorer) BestSentence(content string, terms []string) (string, int) {
	best, bestCount := "", 0
	for _, sentence := range SplitSentences(content) {
		lower := strings.ToLower(sentence)
		count := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = sentence, count
		}
	}
	return best, bestCount
}

// Score produces a keyword hit for doc, or false when no term matches.
func (k KeywordScorer) Score(doc Document, terms []string) (SearchHit, bool) {
	if len(terms) == 0 {
		return SearchHit{}, false
	}
	snippet, count := k.BestSentence(doc.Content, terms)
	if count == 0 {
		return SearchHit{}, false
	}
	return SearchHit{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Score:      float64(count) / float64(len(terms)),
		Snippet:    snippet,
		Match:      KeywordMatch{MatchCount: count, TermCount: len(terms)},
	}, true
}

// ScoreAll scores every document in input order.
func (k KeywordScorer) ScoreAll(docs []Document, terms []string) []SearchHit {
	var hits []SearchHit
	for _, doc := range docs {
		if hit, ok := k.Score(doc, terms); ok {
			hits = append(hits, hit)
		}
	}
	return hits
}
