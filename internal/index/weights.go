package index

import "math"

// Weights maps each distinct token to a score in [0,1], monotonically
// decreasing in the token's document frequency.
//
// This is a distinctiveness score, not a true IDF: it weights by how common
// a token is across the record population, never by term frequency within a
// record, because each record owns a token *set* rather than a multiset.
type Weights map[string]float64

// ComputeWeights derives weights from a blocking index over one fixed record
// population. Weights from one population must not be reused against a
// differently-scoped index without explicit intent, since every downstream
// score depends on them.
//
// For each token: rawFreq = freq/N, weight = avg(rawFreq)/rawFreq, then the
// natural log of that is min-max normalized into [0,1] and rounded to four
// decimal places. If every token has the same log-weight the normalization
// denominator is zero and all weights are defined as 0.5.
func ComputeWeights(ix *Index) Weights {
	n := ix.RecordCount()
	freq := ix.TokenFrequency()
	if n == 0 || len(freq) == 0 {
		return Weights{}
	}

	rawFreq := make(map[string]float64, len(freq))
	var sum float64
	for tok, f := range freq {
		rf := float64(f) / float64(n)
		rawFreq[tok] = rf
		sum += rf
	}
	avg := sum / float64(len(rawFreq))

	logWeights := make(map[string]float64, len(rawFreq))
	minLW := math.Inf(1)
	maxLW := math.Inf(-1)
	for tok, rf := range rawFreq {
		lw := math.Log(avg / rf)
		logWeights[tok] = lw
		if lw < minLW {
			minLW = lw
		}
		if lw > maxLW {
			maxLW = lw
		}
	}

	weights := make(Weights, len(logWeights))
	spread := maxLW - minLW
	for tok, lw := range logWeights {
		var w float64
		if spread == 0 {
			// All tokens equally frequent: no basis for ranking them.
			w = 0.5
		} else {
			w = (lw - minLW) / spread
		}
		weights[tok] = round4(w)
	}
	return weights
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
