package lexical

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed default_words.json
var defaultWordsJSON []byte

// DefaultTerms returns the built-in banned-word list.
func DefaultTerms() ([]string, error) {
	var terms []string
	if err := json.Unmarshal(defaultWordsJSON, &terms); err != nil {
		return nil, fmt.Errorf("decode embedded word list: %w", err)
	}
	return terms, nil
}

// LoadTermsFile reads a term list from path. The file is either a JSON array of
// strings or plain text with one term per line; blank lines and lines starting
// with # are skipped.
func LoadTermsFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read banned words file: %w", err)
	}

	trimmed := strings.TrimSpace(string(content))
	if strings.HasPrefix(trimmed, "[") {
		var terms []string
		if err := json.Unmarshal([]byte(trimmed), &terms); err != nil {
			return nil, fmt.Errorf("parse banned words file %s: %w", path, err)
		}
		return terms, nil
	}

	var terms []string
	for line := range strings.Lines(trimmed) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	return terms, nil
}

// Sources lists where the banned-term list is assembled from.
type Sources struct {
	SkipDefaults bool
	Terms        []string
	File         string
}

// Load assembles a Filter from the embedded defaults, inline terms and an
// optional file.
func Load(src Sources) (*Filter, error) {
	var terms []string
	if !src.SkipDefaults {
		defaults, err := DefaultTerms()
		if err != nil {
			return nil, err
		}
		terms = append(terms, defaults...)
	}

	terms = append(terms, src.Terms...)

	if path := strings.TrimSpace(src.File); path != "" {
		fromFile, err := LoadTermsFile(path)
		if err != nil {
			return nil, err
		}
		terms = append(terms, fromFile...)
	}

	return NewFilter(terms), nil
}
