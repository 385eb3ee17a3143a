package engine

import (
	"sort"

	"github.com/specific-affinity/affinity/internal/index"
)

// PrimeTable is the durable reference state: every known record, its
// nullable cluster assignment, and the blocking index and token weights the
// clustering was derived from. It is created once from a batch and then only
// extended; the index and weights stay fixed to the founding population so
// inference scores remain comparable across invocations.
type PrimeTable struct {
	Records     map[int64]Record
	Assignments map[int64]int64 // record id -> cluster id; absent = unassigned
	Index       *index.Index
	Weights     index.Weights
	// Pairs are the surviving (score >= threshold) candidate pairs from
	// the founding clustering, kept for diagnostics.
	Pairs []index.Pair
}

// NewPrimeTable reassembles a prime table from persisted parts.
func NewPrimeTable(records []Record, assignments map[int64]int64, ix *index.Index, w index.Weights) *PrimeTable {
	byID := make(map[int64]Record, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	if assignments == nil {
		assignments = make(map[int64]int64)
	}
	return &PrimeTable{
		Records:     byID,
		Assignments: assignments,
		Index:       ix,
		Weights:     w,
	}
}

// MaxClusterID returns the largest cluster id in use, 0 when nothing is
// clustered. New cluster ids minted during reclustering start above it.
func (pt *PrimeTable) MaxClusterID() int64 {
	var max int64
	for _, cid := range pt.Assignments {
		if cid > max {
			max = cid
		}
	}
	return max
}

// ClusterMembers returns the records assigned to clusterID, sorted by id.
func (pt *PrimeTable) ClusterMembers(clusterID int64) []Record {
	var members []Record
	for id, cid := range pt.Assignments {
		if cid == clusterID {
			members = append(members, pt.Records[id])
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// RecordIDs returns every record id in the table, sorted.
func (pt *PrimeTable) RecordIDs() []int64 {
	ids := make([]int64, 0, len(pt.Records))
	for id := range pt.Records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Summary holds the prime table's headline statistics.
type Summary struct {
	TotalRecords       int
	ClusteredRecords   int
	UnclusteredRecords int
	Clusters           int
	LargestCluster     int
	AvgClusterSize     float64
}

// Summarize computes the prime table's summary statistics.
func (pt *PrimeTable) Summarize() Summary {
	s := Summary{TotalRecords: len(pt.Records)}

	sizes := make(map[int64]int)
	for _, cid := range pt.Assignments {
		sizes[cid]++
	}
	s.Clusters = len(sizes)
	s.ClusteredRecords = len(pt.Assignments)
	s.UnclusteredRecords = s.TotalRecords - s.ClusteredRecords
	for _, size := range sizes {
		if size > s.LargestCluster {
			s.LargestCluster = size
		}
	}

	if s.Clusters > 0 {
		s.AvgClusterSize = float64(s.ClusteredRecords) / float64(s.Clusters)
	}
	return s
}
