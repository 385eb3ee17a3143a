package engine

import "math"

// InferSummary aggregates a batch of match results.
type InferSummary struct {
	Total         int
	Matched       int
	Unmatched     int
	NoTokens      int
	MatchRatePct  float64
	AvgSimilarity float64
}

// SummarizeMatches computes batch inference statistics. The average
// similarity covers matched results only.
func SummarizeMatches(results []MatchResult) InferSummary {
	s := InferSummary{Total: len(results)}

	var scoreSum float64
	for _, r := range results {
		switch r.Status {
		case StatusMatched:
			s.Matched++
			if r.Score != nil {
				scoreSum += *r.Score
			}
		case StatusNoTokens:
			s.NoTokens++
			s.Unmatched++
		default:
			s.Unmatched++
		}
	}

	if s.Total > 0 {
		s.MatchRatePct = round2(float64(s.Matched) * 100 / float64(s.Total))
	}
	if s.Matched > 0 {
		s.AvgSimilarity = round4(scoreSum / float64(s.Matched))
	}
	return s
}

// Unmatched filters the records whose results did not match, preserving
// input order. This is the pool Recluster consumes.
func Unmatched(records []Record, results []MatchResult) []Record {
	matched := make(map[int64]bool, len(results))
	for _, r := range results {
		if r.Status == StatusMatched {
			matched[r.QueryID] = true
		}
	}

	var pool []Record
	for _, rec := range records {
		if !matched[rec.ID] {
			pool = append(pool, rec)
		}
	}
	return pool
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
