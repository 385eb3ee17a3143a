package token

import (
	"sort"
	"strings"
)

// DefaultStopWords are excluded from tokenization: common English function
// words plus organisational suffixes and web-address fragments that carry no
// distinguishing signal in merchant/vendor text.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "or", "that",
	"the", "to", "was", "were", "will", "with", "this", "but", "they",
	"have", "had", "what", "when", "where", "who", "which", "why", "how",
	"all", "each", "every", "both", "few", "more", "most", "other",
	"some", "such", "no", "nor", "not", "only", "own", "same", "so",
	"than", "too", "very", "just", "can", "should", "now", "inc", "llc",
	"corp", "ltd", "co", "www", "com", "net", "org",
}

// DefaultMinTokenLength is the minimum character length for a valid token.
const DefaultMinTokenLength = 2

// Tokenizer normalizes free text into a deduplicated set of matching tokens.
// The default stop word set is always active; callers may extend it but
// cannot disable it.
type Tokenizer struct {
	minLength int
	stopWords map[string]struct{}
}

// NewTokenizer creates a tokenizer with the default stop words plus any
// extra words supplied by the caller. A minLength below 1 falls back to the
// default.
func NewTokenizer(minLength int, extraStopWords []string) *Tokenizer {
	if minLength < 1 {
		minLength = DefaultMinTokenLength
	}

	stop := make(map[string]struct{}, len(DefaultStopWords)+len(extraStopWords))
	for _, w := range DefaultStopWords {
		stop[w] = struct{}{}
	}
	for _, w := range extraStopWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			stop[w] = struct{}{}
		}
	}

	return &Tokenizer{
		minLength: minLength,
		stopWords: stop,
	}
}

// Tokenize returns the sorted, deduplicated set of valid tokens in text.
// Empty or all-stop-word input yields an empty set, never an error.
func (t *Tokenizer) Tokenize(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if len(tok) < t.minLength {
			continue
		}
		if _, stopped := t.stopWords[tok]; stopped {
			continue
		}
		seen[tok] = struct{}{}
	}

	if len(seen) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(seen))
	for tok := range seen {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

// IsStopWord reports whether word is in the active stop word set.
func (t *Tokenizer) IsStopWord(word string) bool {
	_, ok := t.stopWords[strings.ToLower(word)]
	return ok
}

// MinLength returns the configured minimum token length.
func (t *Tokenizer) MinLength() int {
	return t.minLength
}

// Normalize lowercases text, replaces every character outside [a-z0-9] with
// a space and collapses whitespace runs.
func Normalize(text string) string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
