package index

import "sort"

// Index is the blocking index: the token <-> record membership table used to
// avoid all-pairs comparison. Each (token, record) membership is unique.
type Index struct {
	postings map[string][]int64 // token -> sorted record ids containing it
	tokens   map[int64][]string // record id -> sorted token set
}

// Entry is one blocking-index row.
type Entry struct {
	Token    string
	RecordID int64
}

// Build creates an index from per-record token sets. Records with empty
// token sets are tracked but contribute no postings, so they never
// participate in candidate pairs.
func Build(tokensByRecord map[int64][]string) *Index {
	ix := &Index{
		postings: make(map[string][]int64),
		tokens:   make(map[int64][]string, len(tokensByRecord)),
	}

	for id, toks := range tokensByRecord {
		ix.Add(id, toks)
	}
	return ix
}

// New returns an empty index.
func New() *Index {
	return &Index{
		postings: make(map[string][]int64),
		tokens:   make(map[int64][]string),
	}
}

// Add registers a record's token set. Adding the same record twice replaces
// nothing; callers are expected to add each record once.
func (ix *Index) Add(id int64, tokens []string) {
	set := make([]string, len(tokens))
	copy(set, tokens)
	sort.Strings(set)
	ix.tokens[id] = set

	for _, tok := range set {
		ix.postings[tok] = append(ix.postings[tok], id)
	}
}

// Entries returns every (token, record) row, ordered by token then record
// id. Used when persisting the index.
func (ix *Index) Entries() []Entry {
	var entries []Entry
	for tok, ids := range ix.postings {
		for _, id := range ids {
			entries = append(entries, Entry{Token: tok, RecordID: id})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Token != entries[j].Token {
			return entries[i].Token < entries[j].Token
		}
		return entries[i].RecordID < entries[j].RecordID
	})
	return entries
}

// RecordCount returns the number of records that produced at least one
// token. This is the population size N used for weighting.
func (ix *Index) RecordCount() int {
	n := 0
	for _, toks := range ix.tokens {
		if len(toks) > 0 {
			n++
		}
	}
	return n
}

// EntryCount returns the total number of (token, record) memberships.
func (ix *Index) EntryCount() int {
	n := 0
	for _, ids := range ix.postings {
		n += len(ids)
	}
	return n
}

// Postings returns the sorted record ids containing token.
func (ix *Index) Postings(token string) []int64 {
	ids := ix.postings[token]
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}

// Tokens returns the sorted token set of a record, nil if the record is
// unknown or produced no tokens.
func (ix *Index) Tokens(id int64) []string {
	return ix.tokens[id]
}

// TokenFrequency returns, per distinct token, the number of records that
// contain it.
func (ix *Index) TokenFrequency() map[string]int {
	freq := make(map[string]int, len(ix.postings))
	for tok, ids := range ix.postings {
		freq[tok] = len(ids)
	}
	return freq
}

// DistinctTokens returns the sorted list of distinct tokens in the index.
func (ix *Index) DistinctTokens() []string {
	tokens := make([]string, 0, len(ix.postings))
	for tok := range ix.postings {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}
