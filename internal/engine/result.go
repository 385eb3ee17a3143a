package engine

// Status tags the outcome of matching one record or text value.
type Status string

const (
	// StatusMatched means the best candidate met the threshold.
	StatusMatched Status = "MATCHED"
	// StatusUnmatched means no candidate met the threshold in batch
	// inference (covers both "no candidates" and "all below threshold").
	StatusUnmatched Status = "UNMATCHED"
	// StatusNoTokens means the input produced zero valid tokens.
	StatusNoTokens Status = "NO_TOKENS"
	// StatusBelowThreshold is the single-text variant of a best candidate
	// under the threshold; candidates are still reported.
	StatusBelowThreshold Status = "BELOW_THRESHOLD"
	// StatusNoMatches is the single-text variant of an empty candidate set.
	StatusNoMatches Status = "NO_MATCHES"
)

// MatchResult is the outcome of matching one incoming record against the
// prime table. Matched fields are nil unless Status is MATCHED.
type MatchResult struct {
	QueryID     int64
	QueryText   string
	Status      Status
	MatchedID   *int64
	MatchedText *string
	ClusterID   *int64
	Score       *float64
}

// Candidate is one scored reference record from a single-text query.
type Candidate struct {
	RecordID  int64
	ClusterID int64
	Text      string
	Score     float64
}

// TextMatch is the result of matching one free-text value against the prime
// table, with the top-N candidate list.
type TextMatch struct {
	Status     Status
	Tokens     []string
	Best       *Candidate
	Candidates []Candidate
}
