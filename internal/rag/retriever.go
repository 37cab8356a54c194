package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// candidateMultiple controls how many SQL prefilter rows are fetched per
// requested result before ranking.
const candidateMultiple = 10

// stopwords are dropped from queries before matching.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "is": true, "are": true,
	"it": true, "this": true, "that": true, "with": true, "when": true,
	"not": true, "does": true, "how": true, "why": true, "can": true,
	"i": true, "we": true, "you": true, "my": true,
}

// Retriever ranks stored chunks against a free-text query. It satisfies the
// pipeline's Retriever contract: errors stay inside Search's caller, and an
// empty result is an empty slice.
type Retriever struct {
	store *Store
}

// NewRetriever wraps a chunk store.
func NewRetriever(store *Store) *Retriever {
	return &Retriever{store: store}
}

// Search returns up to limit chunk contents ordered by term overlap with
// the query, best first.
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return []string{}, nil
	}

	candidates, err := r.store.CandidateChunks(ctx, terms, limit*candidateMultiple)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	type scored struct {
		chunk Chunk
		score int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, chunk := range candidates {
		if s := overlapScore(chunk.Content, terms); s > 0 {
			ranked = append(ranked, scored{chunk: chunk, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	results := make([]string, len(ranked))
	for i, sc := range ranked {
		results[i] = fmt.Sprintf("[%s]\n%s", sc.chunk.Path, sc.chunk.Content)
	}
	return results, nil
}

// Tokenize lowercases a query and splits it into distinct searchable terms,
// dropping stopwords and single characters.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

// overlapScore counts how many distinct query terms appear in the content.
func overlapScore(content string, terms []string) int {
	lower := strings.ToLower(content)
	score := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			score++
		}
	}
	return score
}
