// Package qa builds quality reports over a clustered prime table: score
// distributions, cluster size buckets, token weight extremes, coverage of
// high-frequency tokens, near-threshold pairs, and a consistency check
// flagging clusters whose member texts look too diverse.
package qa

import (
	"math"
	"sort"
	"strings"

	"github.com/specific-affinity/affinity/internal/engine"
	"github.com/specific-affinity/affinity/internal/index"
	"github.com/specific-affinity/affinity/internal/token"
)

// Options configure report building. Zero values fall back to defaults.
type Options struct {
	// Threshold is the similarity threshold the pairs were filtered with;
	// pairs scoring within NearMargin above it are reported as borderline.
	Threshold float64
	// NearMargin is the width of the borderline band (default 0.1).
	NearMargin float64
	// Tokenizer re-tokenizes member texts that are absent from the
	// blocking index (records merged after the founding clustering).
	Tokenizer *token.Tokenizer
	// TokenExtremes is how many top/bottom weighted and highest-frequency
	// tokens to include (default 10).
	TokenExtremes int
	// SampleSize bounds the near-threshold and unclustered samples
	// (default 10).
	SampleSize int
}

func (o Options) withDefaults() Options {
	if o.NearMargin <= 0 {
		o.NearMargin = 0.1
	}
	if o.TokenExtremes <= 0 {
		o.TokenExtremes = 10
	}
	if o.SampleSize <= 0 {
		o.SampleSize = 10
	}
	return o
}

// ScoreStats describes the distribution of pair similarity scores.
type ScoreStats struct {
	Count  int
	Min    float64
	Max    float64
	Avg    float64
	StdDev float64
	Q1     float64
	Median float64
	Q3     float64
	P95    float64
}

// HistogramBucket is one 0.1-wide score bucket.
type HistogramBucket struct {
	Low   float64
	High  float64
	Count int
}

// SizeBucket groups clusters by member count.
type SizeBucket struct {
	Label    string
	Clusters int
	Records  int
}

// TokenWeight pairs a token with its computed weight.
type TokenWeight struct {
	Token  string
	Weight float64
}

// TokenCoverage reports how much of the record population a
// high-frequency token touches.
type TokenCoverage struct {
	Token   string
	Records int
	Pct     float64
}

// NearPair is a surviving pair that only just cleared the threshold; these
// are the links most worth a manual look.
type NearPair struct {
	ID1   int64
	ID2   int64
	Score float64
	Text1 string
	Text2 string
}

// Inconsistency flags a cluster whose members share too few tokens
// relative to their size.
type Inconsistency struct {
	ClusterID    int64
	Members      int
	SharedTokens int
	Sample       []string
}

// Report is the full QA output for one prime table.
type Report struct {
	Records           int
	Clusters          int
	ClusteredRatio    float64
	Scores            ScoreStats
	Histogram         []HistogramBucket
	SizeBuckets       []SizeBucket
	TopTokens         []TokenWeight
	BottomTokens      []TokenWeight
	TokenCoverage     []TokenCoverage
	NearThreshold     []NearPair
	UnclusteredSample []string
	Inconsistencies   []Inconsistency
}

var sizeBucketDefs = []struct {
	label string
	min   int
	max   int
}{
	{"Singleton", 1, 1},
	{"Pair", 2, 2},
	{"Small (3-5)", 3, 5},
	{"Medium (6-10)", 6, 10},
	{"Large (11-50)", 11, 50},
	{"Very Large (50+)", 51, math.MaxInt},
}

// Build assembles a report from the prime table's pairs, assignments and
// weights.
func Build(pt *engine.PrimeTable, opts Options) Report {
	opts = opts.withDefaults()

	r := Report{Records: len(pt.Records)}

	members := clusterMembers(pt)
	r.Clusters = len(members)
	if r.Records > 0 {
		var clustered int
		for _, ids := range members {
			clustered += len(ids)
		}
		r.ClusteredRatio = round4(float64(clustered) / float64(r.Records))
	}

	r.Scores = scoreStats(pt.Pairs)
	r.Histogram = histogram(pt.Pairs)
	r.SizeBuckets = sizeBuckets(members)
	r.TopTokens, r.BottomTokens = tokenWeightExtremes(pt.Weights, opts.TokenExtremes)
	r.TokenCoverage = tokenCoverage(pt.Index, opts.TokenExtremes)
	r.NearThreshold = nearThreshold(pt, opts)
	r.UnclusteredSample = unclusteredSample(pt, opts.SampleSize)
	r.Inconsistencies = findInconsistencies(pt, members, opts.Tokenizer)
	return r
}

func clusterMembers(pt *engine.PrimeTable) map[int64][]int64 {
	members := make(map[int64][]int64)
	for id, cid := range pt.Assignments {
		members[cid] = append(members[cid], id)
	}
	for _, ids := range members {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return members
}

func scoreStats(pairs []index.Pair) ScoreStats {
	if len(pairs) == 0 {
		return ScoreStats{}
	}
	scores := make([]float64, len(pairs))
	for i, p := range pairs {
		scores[i] = p.Score
	}
	sort.Float64s(scores)

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var sq float64
	for _, s := range scores {
		d := s - mean
		sq += d * d
	}
	var stddev float64
	if len(scores) > 1 {
		stddev = math.Sqrt(sq / float64(len(scores)-1))
	}

	return ScoreStats{
		Count:  len(scores),
		Min:    round4(scores[0]),
		Max:    round4(scores[len(scores)-1]),
		Avg:    round4(mean),
		StdDev: round4(stddev),
		Q1:     round4(quantile(scores, 0.25)),
		Median: round4(quantile(scores, 0.5)),
		Q3:     round4(quantile(scores, 0.75)),
		P95:    round4(quantile(scores, 0.95)),
	}
}

// quantile interpolates linearly between order statistics; scores must be
// sorted ascending.
func quantile(scores []float64, q float64) float64 {
	if len(scores) == 1 {
		return scores[0]
	}
	pos := q * float64(len(scores)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return scores[lo]
	}
	frac := pos - float64(lo)
	return scores[lo]*(1-frac) + scores[hi]*frac
}

func histogram(pairs []index.Pair) []HistogramBucket {
	if len(pairs) == 0 {
		return nil
	}
	var maxScore float64
	for _, p := range pairs {
		if p.Score > maxScore {
			maxScore = p.Score
		}
	}
	buckets := int(math.Floor(maxScore/0.1)) + 1
	hist := make([]HistogramBucket, buckets)
	for i := range hist {
		hist[i].Low = round4(float64(i) * 0.1)
		hist[i].High = round4(float64(i+1) * 0.1)
	}
	for _, p := range pairs {
		b := int(math.Floor(p.Score / 0.1))
		if b >= buckets {
			b = buckets - 1
		}
		hist[b].Count++
	}
	return hist
}

func sizeBuckets(members map[int64][]int64) []SizeBucket {
	out := make([]SizeBucket, len(sizeBucketDefs))
	for i, def := range sizeBucketDefs {
		out[i].Label = def.label
	}
	for _, ids := range members {
		n := len(ids)
		for i, def := range sizeBucketDefs {
			if n >= def.min && n <= def.max {
				out[i].Clusters++
				out[i].Records += n
				break
			}
		}
	}
	return out
}

func tokenWeightExtremes(w index.Weights, n int) (top, bottom []TokenWeight) {
	all := make([]TokenWeight, 0, len(w))
	for token, weight := range w {
		all = append(all, TokenWeight{Token: token, Weight: weight})
	}
	// Weight descending, token ascending for stable output.
	sort.Slice(all, func(i, j int) bool {
		if all[i].Weight != all[j].Weight {
			return all[i].Weight > all[j].Weight
		}
		return all[i].Token < all[j].Token
	})
	if len(all) <= n {
		top = all
	} else {
		top = all[:n]
	}
	if len(all) <= n {
		bottom = reversed(all)
	} else {
		bottom = reversed(all[len(all)-n:])
	}
	return top, bottom
}

func reversed(in []TokenWeight) []TokenWeight {
	out := make([]TokenWeight, len(in))
	for i, tw := range in {
		out[len(in)-1-i] = tw
	}
	return out
}

// tokenCoverage reports the n most frequent tokens and the share of indexed
// records containing each; tokens covering a large share are stop-word
// candidates.
func tokenCoverage(ix *index.Index, n int) []TokenCoverage {
	if ix == nil {
		return nil
	}
	total := ix.RecordCount()
	if total == 0 {
		return nil
	}

	freq := ix.TokenFrequency()
	all := make([]TokenCoverage, 0, len(freq))
	for tok, count := range freq {
		all = append(all, TokenCoverage{
			Token:   tok,
			Records: count,
			Pct:     round4(float64(count) * 100 / float64(total)),
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Records != all[j].Records {
			return all[i].Records > all[j].Records
		}
		return all[i].Token < all[j].Token
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// nearThreshold returns the lowest-scoring surviving pairs inside the
// borderline band [threshold, threshold+margin). Requires a positive
// threshold; without one the band is undefined.
func nearThreshold(pt *engine.PrimeTable, opts Options) []NearPair {
	if opts.Threshold <= 0 {
		return nil
	}

	var near []NearPair
	for _, p := range pt.Pairs {
		if p.Score >= opts.Threshold+opts.NearMargin {
			continue
		}
		near = append(near, NearPair{
			ID1:   p.ID1,
			ID2:   p.ID2,
			Score: p.Score,
			Text1: pt.Records[p.ID1].Text,
			Text2: pt.Records[p.ID2].Text,
		})
	}
	sort.Slice(near, func(i, j int) bool {
		if near[i].Score != near[j].Score {
			return near[i].Score < near[j].Score
		}
		if near[i].ID1 != near[j].ID1 {
			return near[i].ID1 < near[j].ID1
		}
		return near[i].ID2 < near[j].ID2
	})
	if len(near) > opts.SampleSize {
		near = near[:opts.SampleSize]
	}
	return near
}

// unclusteredSample returns the texts of the lowest-id records without a
// cluster assignment.
func unclusteredSample(pt *engine.PrimeTable, n int) []string {
	var sample []string
	for _, id := range pt.RecordIDs() {
		if len(sample) == n {
			break
		}
		if _, assigned := pt.Assignments[id]; assigned {
			continue
		}
		sample = append(sample, strings.TrimSpace(pt.Records[id].Text))
	}
	return sample
}

// findInconsistencies flags multi-member clusters whose members have no
// token common to every member. These are usually chains formed through
// transitive links and worth a manual look.
func findInconsistencies(pt *engine.PrimeTable, members map[int64][]int64, tok *token.Tokenizer) []Inconsistency {
	var out []Inconsistency
	cids := make([]int64, 0, len(members))
	for cid := range members {
		cids = append(cids, cid)
	}
	sort.Slice(cids, func(i, j int) bool { return cids[i] < cids[j] })

	for _, cid := range cids {
		ids := members[cid]
		if len(ids) < 3 {
			continue
		}
		shared, ok := sharedTokenCount(pt, ids, tok)
		if !ok || shared > 0 {
			continue
		}
		inc := Inconsistency{ClusterID: cid, Members: len(ids), SharedTokens: shared}
		for _, id := range ids {
			if len(inc.Sample) == 3 {
				break
			}
			if rec, recOK := pt.Records[id]; recOK {
				inc.Sample = append(inc.Sample, strings.TrimSpace(rec.Text))
			}
		}
		out = append(out, inc)
	}
	return out
}

// sharedTokenCount counts the tokens present in every member of the
// cluster. Returns ok=false when any member's tokens cannot be determined,
// so the caller skips the cluster instead of flagging it.
func sharedTokenCount(pt *engine.PrimeTable, ids []int64, tok *token.Tokenizer) (int, bool) {
	if len(ids) == 0 {
		return 0, false
	}

	first, ok := memberTokens(pt, ids[0], tok)
	if !ok {
		return 0, false
	}
	common := make(map[string]int, len(first))
	for _, t := range first {
		common[t] = 1
	}
	for _, id := range ids[1:] {
		tokens, ok := memberTokens(pt, id, tok)
		if !ok {
			return 0, false
		}
		for _, t := range tokens {
			if common[t] >= 1 {
				common[t]++
			}
		}
	}

	count := 0
	for _, seen := range common {
		if seen == len(ids) {
			count++
		}
	}
	return count, true
}

// memberTokens resolves a record's token set: from the blocking index when
// the record was part of the founding population, otherwise by tokenizing
// its text. Records merged by a recluster pass never join the index, so the
// fallback is what keeps their clusters assessable.
func memberTokens(pt *engine.PrimeTable, id int64, tok *token.Tokenizer) ([]string, bool) {
	if pt.Index != nil {
		if tokens := pt.Index.Tokens(id); len(tokens) > 0 {
			return tokens, true
		}
	}
	if tok == nil {
		return nil, false
	}
	rec, ok := pt.Records[id]
	if !ok {
		return nil, false
	}
	tokens := tok.Tokenize(rec.Text)
	return tokens, len(tokens) > 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
