// Package cluster groups records transitively connected by above-threshold
// similarity into clusters (connected components).
package cluster

import "github.com/specific-affinity/affinity/internal/index"

// MaxPasses bounds the label-propagation formulation of component finding.
// The union-find implementation below converges in a single sweep by
// construction, so the bound exists for alternative implementations and for
// the propagation oracle used in tests.
const MaxPasses = 100

// Result holds cluster assignments for every record that appeared in at
// least one surviving pair. Records in no pair are absent from Assignments,
// which is distinct from being a singleton cluster.
type Result struct {
	// Assignments maps record id -> cluster id, where the cluster id is
	// the minimum record id in the connected component.
	Assignments map[int64]int64
	// Converged is false only when an implementation hit its pass ceiling
	// before reaching a fixed point; such a result must not be treated as
	// final.
	Converged bool
	// Clusters is the number of distinct cluster ids assigned.
	Clusters int
}

// Components partitions the records of the given pairs into connected
// components using union-find with path compression and union by rank. The
// result is deterministic and independent of pair order: the final cluster
// id is always the minimum record id of the component.
//
// Pairs are expected to be pre-filtered to score >= threshold; scores are
// not re-examined here. An empty pair set yields zero clusters.
func Components(pairs []index.Pair) Result {
	uf := newUnionFind()
	for _, p := range pairs {
		uf.union(p.ID1, p.ID2)
	}

	assignments := make(map[int64]int64, len(uf.parent))
	clusterIDs := make(map[int64]struct{})
	for id := range uf.parent {
		cid := uf.min[uf.find(id)]
		assignments[id] = cid
		clusterIDs[cid] = struct{}{}
	}

	return Result{
		Assignments: assignments,
		Converged:   true,
		Clusters:    len(clusterIDs),
	}
}

type unionFind struct {
	parent map[int64]int64
	rank   map[int64]int
	min    map[int64]int64 // root -> minimum member id
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[int64]int64),
		rank:   make(map[int64]int),
		min:    make(map[int64]int64),
	}
}

func (uf *unionFind) add(id int64) {
	if _, ok := uf.parent[id]; !ok {
		uf.parent[id] = id
		uf.rank[id] = 0
		uf.min[id] = id
	}
}

func (uf *unionFind) find(id int64) int64 {
	root := id
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	// Path compression.
	for uf.parent[id] != root {
		id, uf.parent[id] = uf.parent[id], root
	}
	return root
}

func (uf *unionFind) union(a, b int64) {
	uf.add(a)
	uf.add(b)

	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}

	// Union by rank; the surviving root inherits the smaller minimum.
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
	if uf.min[rb] < uf.min[ra] {
		uf.min[ra] = uf.min[rb]
	}
}
