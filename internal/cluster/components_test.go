package cluster

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/specific-affinity/affinity/internal/index"
)

func TestComponentsTransitivity(t *testing.T) {
	// A-B and B-C survive; A-C was never scored. All three must share one
	// cluster labelled by the minimum id.
	pairs := []index.Pair{
		{ID1: 1, ID2: 2, Score: 0.9},
		{ID1: 2, ID2: 3, Score: 0.8},
	}

	res := Components(pairs)
	if !res.Converged {
		t.Fatal("expected convergence")
	}
	if res.Clusters != 1 {
		t.Fatalf("expected 1 cluster, got %d", res.Clusters)
	}
	for _, id := range []int64{1, 2, 3} {
		if res.Assignments[id] != 1 {
			t.Errorf("record %d assigned to %d, want 1", id, res.Assignments[id])
		}
	}
}

func TestComponentsMinIDLabel(t *testing.T) {
	pairs := []index.Pair{
		{ID1: 7, ID2: 9, Score: 1},
		{ID1: 3, ID2: 9, Score: 1},
		{ID1: 20, ID2: 21, Score: 1},
	}

	res := Components(pairs)
	if res.Clusters != 2 {
		t.Fatalf("expected 2 clusters, got %d", res.Clusters)
	}
	for _, id := range []int64{3, 7, 9} {
		if res.Assignments[id] != 3 {
			t.Errorf("record %d assigned to %d, want 3", id, res.Assignments[id])
		}
	}
	for _, id := range []int64{20, 21} {
		if res.Assignments[id] != 20 {
			t.Errorf("record %d assigned to %d, want 20", id, res.Assignments[id])
		}
	}
}

func TestComponentsOrderIndependent(t *testing.T) {
	base := []index.Pair{
		{ID1: 1, ID2: 2}, {ID1: 2, ID2: 3}, {ID1: 3, ID2: 4},
		{ID1: 10, ID2: 11}, {ID1: 11, ID2: 12},
		{ID1: 4, ID2: 20}, {ID1: 50, ID2: 51},
	}

	want := Components(base).Assignments

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		shuffled := make([]index.Pair, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got := Components(shuffled).Assignments
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("trial %d: shuffled pair order changed assignments:\ngot  %v\nwant %v", trial, got, want)
		}
	}
}

func TestComponentsEmpty(t *testing.T) {
	res := Components(nil)
	if len(res.Assignments) != 0 || res.Clusters != 0 {
		t.Errorf("empty pair set produced %d assignments, %d clusters", len(res.Assignments), res.Clusters)
	}
	if !res.Converged {
		t.Error("empty pair set must converge trivially")
	}
}

func TestComponentsCycle(t *testing.T) {
	pairs := []index.Pair{
		{ID1: 1, ID2: 2}, {ID1: 2, ID2: 3}, {ID1: 1, ID2: 3},
	}
	res := Components(pairs)
	if res.Clusters != 1 {
		t.Fatalf("cycle should collapse into 1 cluster, got %d", res.Clusters)
	}
}

// TestComponentsMatchesPropagation verifies the union-find output against a
// naive bounded min-label propagation over the same pair graph.
func TestComponentsMatchesPropagation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var pairs []index.Pair
	for i := 0; i < 200; i++ {
		a := rng.Int63n(60)
		b := rng.Int63n(60)
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		pairs = append(pairs, index.Pair{ID1: a, ID2: b})
	}

	got := Components(pairs).Assignments
	want := propagate(pairs)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("union-find and label propagation disagree:\ngot  %v\nwant %v", got, want)
	}
}

// propagate is the reference label-propagation formulation: every record
// starts labelled with its own id, and each pass pulls the smaller label
// across every edge until a fixed point.
func propagate(pairs []index.Pair) map[int64]int64 {
	labels := make(map[int64]int64)
	for _, p := range pairs {
		labels[p.ID1] = p.ID1
		labels[p.ID2] = p.ID2
	}

	for pass := 0; pass < MaxPasses; pass++ {
		changed := false
		for _, p := range pairs {
			l1, l2 := labels[p.ID1], labels[p.ID2]
			if l1 == l2 {
				continue
			}
			minLabel := l1
			if l2 < minLabel {
				minLabel = l2
			}
			// Relabel everything carrying either label.
			for id, l := range labels {
				if l == l1 || l == l2 {
					if labels[id] != minLabel {
						labels[id] = minLabel
						changed = true
					}
				}
			}
		}
		if !changed {
			break
		}
	}
	return labels
}
