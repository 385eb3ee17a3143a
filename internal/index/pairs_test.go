package index

import (
	"math"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9
}

func TestSelfJoinSharedTokenSum(t *testing.T) {
	ix := Build(map[int64][]string{
		1: {"netflix", "payment"},
		2: {"netflix", "subscription"},
		3: {"spotify"},
	})
	w := Weights{"netflix": 0.8, "payment": 0.6, "subscription": 0.7, "spotify": 0.9}

	pairs := SelfJoin(ix, w)

	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d: %v", len(pairs), pairs)
	}
	p := pairs[0]
	if p.ID1 != 1 || p.ID2 != 2 {
		t.Errorf("pair = (%d,%d), want (1,2)", p.ID1, p.ID2)
	}
	if !approxEqual(p.Score, 0.8) {
		t.Errorf("score = %v, want 0.8 (only shared token weight)", p.Score)
	}
}

func TestSelfJoinCanonicalOrder(t *testing.T) {
	ix := Build(map[int64][]string{
		9: {"acme"},
		2: {"acme"},
		5: {"acme"},
	})
	w := Weights{"acme": 1.0}

	pairs := SelfJoin(ix, w)
	if len(pairs) != 3 {
		t.Fatalf("expected 3 pairs, got %d", len(pairs))
	}
	for _, p := range pairs {
		if p.ID1 >= p.ID2 {
			t.Errorf("pair (%d,%d) violates ID1 < ID2", p.ID1, p.ID2)
		}
	}
}

func TestSelfJoinSymmetricScore(t *testing.T) {
	// score(A,B) == score(B,A): the canonical pair must carry the same
	// score regardless of which record was added first.
	a := Build(map[int64][]string{
		1: {"acme", "widgets"},
		2: {"acme", "supply"},
	})
	b := Build(map[int64][]string{
		2: {"acme", "supply"},
		1: {"acme", "widgets"},
	})
	w := Weights{"acme": 0.4, "widgets": 0.9, "supply": 0.8}

	pa := SelfJoin(a, w)
	pb := SelfJoin(b, w)
	if len(pa) != 1 || len(pb) != 1 {
		t.Fatalf("expected single pair from both orderings, got %d and %d", len(pa), len(pb))
	}
	if pa[0] != pb[0] {
		t.Errorf("insertion order changed the pair: %v vs %v", pa[0], pb[0])
	}
}

func TestSelfJoinZeroTokenRecord(t *testing.T) {
	ix := Build(map[int64][]string{
		1: {"netflix"},
		2: {"netflix"},
		3: nil, // produced no tokens
	})
	w := Weights{"netflix": 1.0}

	pairs := SelfJoin(ix, w)
	for _, p := range pairs {
		if p.ID1 == 3 || p.ID2 == 3 {
			t.Errorf("zero-token record appeared in pair %v", p)
		}
	}
}

func TestCrossJoinUsesReferenceWeights(t *testing.T) {
	ref := Build(map[int64][]string{
		10: {"netflix", "payment"},
		11: {"spotify"},
	})
	refWeights := Weights{"netflix": 0.9, "payment": 0.2, "spotify": 0.7}

	query := Build(map[int64][]string{
		1: {"netflix", "payment", "monthly"},
	})

	pairs := CrossJoin(ref, refWeights, query)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 cross pair, got %d: %v", len(pairs), pairs)
	}
	p := pairs[0]
	if p.QueryID != 1 || p.RefID != 10 {
		t.Errorf("pair = (q=%d, r=%d), want (q=1, r=10)", p.QueryID, p.RefID)
	}
	// "monthly" is absent from the reference weights and must not score.
	if !approxEqual(p.Score, 1.1) {
		t.Errorf("score = %v, want 1.1", p.Score)
	}
}

func TestFilterPairs(t *testing.T) {
	pairs := []Pair{
		{ID1: 1, ID2: 2, Score: 0.8},
		{ID1: 1, ID2: 3, Score: 0.4},
		{ID1: 2, ID2: 3, Score: 0.5},
	}

	kept := FilterPairs(pairs, 0.5)
	if len(kept) != 2 {
		t.Fatalf("expected 2 surviving pairs, got %d", len(kept))
	}
	for _, p := range kept {
		if p.Score < 0.5 {
			t.Errorf("pair %v survived below threshold", p)
		}
	}
}

func TestIndexEntries(t *testing.T) {
	ix := Build(map[int64][]string{
		2: {"beta", "alpha"},
		1: {"alpha"},
	})

	entries := ix.Entries()
	want := []Entry{
		{Token: "alpha", RecordID: 1},
		{Token: "alpha", RecordID: 2},
		{Token: "beta", RecordID: 2},
	}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry[%d] = %v, want %v", i, entries[i], want[i])
		}
	}
}
