// Package engine orchestrates the entity resolution pipeline: building the
// prime table from a batch of records, matching new records against it, and
// reclustering the leftovers into fresh non-colliding clusters.
package engine

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/specific-affinity/affinity/internal/cluster"
	"github.com/specific-affinity/affinity/internal/index"
	"github.com/specific-affinity/affinity/internal/token"
)

// DefaultThreshold is the minimum similarity score for a match.
const DefaultThreshold = 0.5

// Options configure the engine. Zero values fall back to defaults.
type Options struct {
	MinTokenLength int
	ExtraStopWords []string
	Threshold      float64
	// Workers bounds the tokenization worker pool; defaults to NumCPU.
	Workers int
}

// Engine runs the matching pipeline with one fixed tokenizer configuration.
// The same configuration must be used for building a prime table and for
// every later inference against it.
type Engine struct {
	opts Options
	tok  *token.Tokenizer
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Engine{
		opts: opts,
		tok:  token.NewTokenizer(opts.MinTokenLength, opts.ExtraStopWords),
	}
}

// Tokenizer exposes the engine's tokenizer configuration.
func (e *Engine) Tokenizer() *token.Tokenizer { return e.tok }

// Threshold returns the active similarity threshold.
func (e *Engine) Threshold() float64 { return e.opts.Threshold }

// BuildPrime clusters a batch of records into the initial prime table:
// tokenize, weight, self-join on shared tokens, filter by threshold, and
// resolve connected components. Records that land in no surviving pair stay
// unassigned.
func (e *Engine) BuildPrime(records []Record) (*PrimeTable, error) {
	if err := validateRecords(records, nil); err != nil {
		return nil, fmt.Errorf("build prime: %w", err)
	}

	tokensByRecord := e.tokenizeAll(records)
	ix := index.Build(tokensByRecord)
	weights := index.ComputeWeights(ix)

	pairs := index.FilterPairs(index.SelfJoin(ix, weights), e.opts.Threshold)
	res := cluster.Components(pairs)
	if !res.Converged {
		return nil, fmt.Errorf("build prime: clustering did not converge within %d passes", cluster.MaxPasses)
	}

	pt := NewPrimeTable(records, res.Assignments, ix, weights)
	pt.Pairs = pairs
	return pt, nil
}

// Infer matches a batch of new records against the prime table. Only
// reference records that already carry a cluster assignment are valid match
// targets. The prime table is not modified; feed the unmatched results to
// Recluster to extend it.
func (e *Engine) Infer(pt *PrimeTable, newRecords []Record) ([]MatchResult, error) {
	if err := validateRecords(newRecords, pt.Records); err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}

	tokensByRecord := e.tokenizeAll(newRecords)
	queryIx := index.Build(tokensByRecord)

	// best candidate per query: highest score, ties to the smallest
	// reference record id.
	best := make(map[int64]index.CrossPair)
	for _, cp := range index.CrossJoin(pt.Index, pt.Weights, queryIx) {
		if _, clustered := pt.Assignments[cp.RefID]; !clustered {
			continue
		}
		cur, ok := best[cp.QueryID]
		if !ok || cp.Score > cur.Score || (cp.Score == cur.Score && cp.RefID < cur.RefID) {
			best[cp.QueryID] = cp
		}
	}

	results := make([]MatchResult, 0, len(newRecords))
	for _, rec := range newRecords {
		r := MatchResult{QueryID: rec.ID, QueryText: rec.Text}

		if len(tokensByRecord[rec.ID]) == 0 {
			r.Status = StatusNoTokens
			results = append(results, r)
			continue
		}

		cp, ok := best[rec.ID]
		if !ok || cp.Score < e.opts.Threshold {
			r.Status = StatusUnmatched
			results = append(results, r)
			continue
		}

		matched := pt.Records[cp.RefID]
		cid := pt.Assignments[cp.RefID]
		score := cp.Score
		r.Status = StatusMatched
		r.MatchedID = &cp.RefID
		r.MatchedText = &matched.Text
		r.ClusterID = &cid
		r.Score = &score
		results = append(results, r)
	}
	return results, nil
}

// ReclusterSummary reports what a Recluster pass did.
type ReclusterSummary struct {
	TotalUnassigned    int
	NewlyClustered     int
	NewClusters        int
	StillUnassigned    int
	MaxClusterIDBefore int64
}

// Recluster runs the full pipeline scoped to the pool of records left
// unmatched by Infer, then merges any new clusters into the prime table
// under fresh ids (existing max cluster id + rank of the local cluster id).
// The scoped index and weights are derived from the pool alone and discarded
// afterwards; previously assigned records are never revisited. All pool
// records are added to the prime table, clustered or not.
func (e *Engine) Recluster(pt *PrimeTable, pool []Record) (ReclusterSummary, error) {
	if err := validateRecords(pool, pt.Records); err != nil {
		return ReclusterSummary{}, fmt.Errorf("recluster: %w", err)
	}

	summary := ReclusterSummary{
		TotalUnassigned:    len(pool),
		MaxClusterIDBefore: pt.MaxClusterID(),
	}

	tokensByRecord := e.tokenizeAll(pool)
	scopedIx := index.Build(tokensByRecord)
	scopedWeights := index.ComputeWeights(scopedIx)

	pairs := index.FilterPairs(index.SelfJoin(scopedIx, scopedWeights), e.opts.Threshold)
	res := cluster.Components(pairs)
	if !res.Converged {
		return summary, fmt.Errorf("recluster: clustering did not converge within %d passes", cluster.MaxPasses)
	}

	// Remap local cluster ids (min member id within the pool) to fresh ids
	// above everything already in the prime table.
	localIDs := make([]int64, 0, res.Clusters)
	seen := make(map[int64]struct{})
	for _, cid := range res.Assignments {
		if _, ok := seen[cid]; !ok {
			seen[cid] = struct{}{}
			localIDs = append(localIDs, cid)
		}
	}
	sort.Slice(localIDs, func(i, j int) bool { return localIDs[i] < localIDs[j] })

	remap := make(map[int64]int64, len(localIDs))
	for rank, local := range localIDs {
		remap[local] = summary.MaxClusterIDBefore + int64(rank) + 1
	}

	// Single atomic merge: no caller observes a partially remapped state.
	for _, rec := range pool {
		pt.Records[rec.ID] = rec
	}
	for id, local := range res.Assignments {
		pt.Assignments[id] = remap[local]
	}

	summary.NewlyClustered = len(res.Assignments)
	summary.NewClusters = len(localIDs)
	summary.StillUnassigned = summary.TotalUnassigned - summary.NewlyClustered
	return summary, nil
}

// MatchText matches one free-text value against the prime table and returns
// the top-limit candidates (default 5).
func (e *Engine) MatchText(pt *PrimeTable, text string, limit int) TextMatch {
	if limit <= 0 {
		limit = 5
	}

	tokens := e.tok.Tokenize(text)
	if len(tokens) == 0 {
		return TextMatch{Status: StatusNoTokens}
	}

	scores := make(map[int64]float64)
	for _, tok := range tokens {
		w, ok := pt.Weights[tok]
		if !ok {
			continue
		}
		for _, refID := range pt.Index.Postings(tok) {
			if _, clustered := pt.Assignments[refID]; !clustered {
				continue
			}
			scores[refID] += w
		}
	}

	if len(scores) == 0 {
		return TextMatch{Status: StatusNoMatches, Tokens: tokens}
	}

	candidates := make([]Candidate, 0, len(scores))
	for refID, score := range scores {
		candidates = append(candidates, Candidate{
			RecordID:  refID,
			ClusterID: pt.Assignments[refID],
			Text:      pt.Records[refID].Text,
			Score:     score,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].RecordID < candidates[j].RecordID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	m := TextMatch{Tokens: tokens, Candidates: candidates, Best: &candidates[0]}
	if candidates[0].Score >= e.opts.Threshold {
		m.Status = StatusMatched
	} else {
		m.Status = StatusBelowThreshold
	}
	return m
}

// tokenizeAll tokenizes records on a bounded worker pool. Tokenization is
// embarrassingly parallel; results are keyed by record id so worker
// scheduling cannot affect the outcome.
func (e *Engine) tokenizeAll(records []Record) map[int64][]string {
	out := make(map[int64][]string, len(records))

	if len(records) < e.opts.Workers*4 {
		for _, r := range records {
			out[r.ID] = e.tok.Tokenize(r.Text)
		}
		return out
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan Record)

	for w := 0; w < e.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				tokens := e.tok.Tokenize(rec.Text)
				mu.Lock()
				out[rec.ID] = tokens
				mu.Unlock()
			}
		}()
	}

	for _, r := range records {
		jobs <- r
	}
	close(jobs)
	wg.Wait()
	return out
}
