package lexical

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\pM\s]+`)

// Tokenize lower-cases text, strips combining marks, replaces punctuation with
// whitespace and splits the result into words. Marks are stripped before
// punctuation so precomposed and decomposed input tokenize the same.
func Tokenize(text string) []string {
	// transform.Chain keeps state, so each call builds its own.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lower := strings.ToLower(text)
	folded, _, err := transform.String(fold, lower)
	if err != nil {
		slog.Warn("unicode normalization error", "component", "moderation.lexical", "error", err)
		folded = lower
	}
	return strings.Fields(nonTokenChars.ReplaceAllString(folded, " "))
}
