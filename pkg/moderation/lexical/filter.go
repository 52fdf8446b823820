package lexical

import (
	"slices"
	"strings"
)

// Filter matches whole words and phrases from a fixed banned-term list.
// It is read-only after construction.
type Filter struct {
	words   map[string]string
	phrases []phrase
	size    int
}

type phrase struct {
	tokens []string
	term   string
}

// NewFilter builds a filter from terms. Terms are tokenized the same way as the
// text they are checked against; terms that tokenize to nothing are dropped.
func NewFilter(terms []string) *Filter {
	f := &Filter{words: make(map[string]string)}
	seen := make(map[string]struct{}, len(terms))

	for _, term := range terms {
		tokens := Tokenize(term)
		if len(tokens) == 0 {
			continue
		}

		key := strings.Join(tokens, " ")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		f.size++

		if len(tokens) == 1 {
			f.words[tokens[0]] = strings.TrimSpace(term)
			continue
		}
		f.phrases = append(f.phrases, phrase{tokens: tokens, term: strings.TrimSpace(term)})
	}

	return f
}

// Len reports how many distinct terms the filter holds.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return f.size
}

// Check reports whether text contains a banned term as a whole word or as a
// contiguous run of whole words, and returns the first term found.
func (f *Filter) Check(text string) (bool, string) {
	if f == nil || f.size == 0 {
		return false, ""
	}

	tokens := Tokenize(text)
	for i, tok := range tokens {
		if term, ok := f.words[tok]; ok {
			return true, term
		}
		for _, p := range f.phrases {
			if i+len(p.tokens) <= len(tokens) && slices.Equal(tokens[i:i+len(p.tokens)], p.tokens) {
				return true, p.term
			}
		}
	}

	return false, ""
}
