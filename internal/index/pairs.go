package index

import "sort"

// Pair is a symmetric within-table candidate: ID1 < ID2 always holds, both
// to avoid duplicate/reflexive pairs and to keep the join canonical.
type Pair struct {
	ID1   int64
	ID2   int64
	Score float64
}

// CrossPair is a directional cross-table candidate: a query record scored
// against one reference record.
type CrossPair struct {
	QueryID int64
	RefID   int64
	Score   float64
}

type pairKey struct {
	a, b int64
}

// SelfJoin produces within-table candidate pairs: records sharing at least
// one token, scored by the sum of the shared tokens' weights. Cost is
// proportional to the sum over tokens of postings², so adequate stop-word
// coverage matters more than the weights themselves for runtime.
func SelfJoin(ix *Index, w Weights) []Pair {
	scores := make(map[pairKey]float64)

	for tok, ids := range ix.postings {
		weight, ok := w[tok]
		if !ok {
			continue
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if a > b {
					a, b = b, a
				}
				scores[pairKey{a, b}] += weight
			}
		}
	}

	pairs := make([]Pair, 0, len(scores))
	for k, s := range scores {
		pairs = append(pairs, Pair{ID1: k.a, ID2: k.b, Score: s})
	}
	sortPairs(pairs)
	return pairs
}

// CrossJoin scores every query record against every reference record sharing
// at least one token. Weights always come from the reference population;
// recomputing them from the query side would shift every score and break
// comparability with the reference clustering.
func CrossJoin(ref *Index, w Weights, query *Index) []CrossPair {
	scores := make(map[pairKey]float64)

	for tok, queryIDs := range query.postings {
		weight, ok := w[tok]
		if !ok {
			continue
		}
		refIDs := ref.postings[tok]
		if len(refIDs) == 0 {
			continue
		}
		for _, qid := range queryIDs {
			for _, rid := range refIDs {
				scores[pairKey{qid, rid}] += weight
			}
		}
	}

	pairs := make([]CrossPair, 0, len(scores))
	for k, s := range scores {
		pairs = append(pairs, CrossPair{QueryID: k.a, RefID: k.b, Score: s})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].QueryID != pairs[j].QueryID {
			return pairs[i].QueryID < pairs[j].QueryID
		}
		return pairs[i].RefID < pairs[j].RefID
	})
	return pairs
}

// FilterPairs keeps only pairs with score >= threshold.
func FilterPairs(pairs []Pair, threshold float64) []Pair {
	kept := make([]Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.Score >= threshold {
			kept = append(kept, p)
		}
	}
	return kept
}

func sortPairs(pairs []Pair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ID1 != pairs[j].ID1 {
			return pairs[i].ID1 < pairs[j].ID1
		}
		return pairs[i].ID2 < pairs[j].ID2
	})
}
