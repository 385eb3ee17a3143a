package store

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/specific-affinity/affinity/internal/engine"
	"github.com/specific-affinity/affinity/internal/qa"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "affinity.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	records := []engine.Record{
		{ID: 1, Text: "NETFLIX.COM", Attrs: map[string]string{"amount": "15.99"}},
		{ID: 2, Text: "SPOTIFY USA"},
	}
	if err := s.SaveRecords("source", records); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}

	got, err := s.LoadRecords("source")
	if err != nil {
		t.Fatalf("LoadRecords: %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, records)
	}

	other, err := s.LoadRecords("incoming")
	if err != nil {
		t.Fatalf("LoadRecords(incoming): %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no incoming records, got %d", len(other))
	}
}

func TestPrimeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	e := engine.New(engine.Options{Threshold: 0.3})
	records := []engine.Record{
		{ID: 1, Text: "NETFLIX INC PAYMENT"},
		{ID: 2, Text: "NETFLIX SUBSCRIPTION PAYMENT"},
		{ID: 3, Text: "SPOTIFY TECHNOLOGY PAYMENT"},
		{ID: 4, Text: "SPOTIFY TECHNOLOGY SA PAYMENT"},
	}
	pt, err := e.BuildPrime(records)
	if err != nil {
		t.Fatalf("BuildPrime: %v", err)
	}

	if err := s.SaveRecords("source", records); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	if err := s.SavePrime(pt); err != nil {
		t.Fatalf("SavePrime: %v", err)
	}

	loaded, err := s.LoadPrime()
	if err != nil {
		t.Fatalf("LoadPrime: %v", err)
	}

	if !reflect.DeepEqual(loaded.Assignments, pt.Assignments) {
		t.Errorf("assignments mismatch:\ngot  %v\nwant %v", loaded.Assignments, pt.Assignments)
	}
	if !reflect.DeepEqual(loaded.Weights, pt.Weights) {
		t.Errorf("weights mismatch:\ngot  %v\nwant %v", loaded.Weights, pt.Weights)
	}
	if !reflect.DeepEqual(loaded.Index.Entries(), pt.Index.Entries()) {
		t.Error("blocking index mismatch after round trip")
	}
	if len(loaded.Pairs) == 0 {
		t.Fatal("no surviving pairs after round trip")
	}
	if !reflect.DeepEqual(loaded.Pairs, pt.Pairs) {
		t.Errorf("pairs mismatch:\ngot  %v\nwant %v", loaded.Pairs, pt.Pairs)
	}

	// Quality reporting runs off the reloaded table, so its score
	// distribution must match the freshly built one.
	fresh := qa.Build(pt, qa.Options{Threshold: 0.3})
	reloaded := qa.Build(loaded, qa.Options{Threshold: 0.3})
	if reloaded.Scores.Count != fresh.Scores.Count {
		t.Errorf("reloaded score count = %d, want %d", reloaded.Scores.Count, fresh.Scores.Count)
	}
	if !reflect.DeepEqual(reloaded.Scores, fresh.Scores) {
		t.Errorf("score stats differ after round trip:\ngot  %+v\nwant %+v", reloaded.Scores, fresh.Scores)
	}

	// A loaded prime table must answer inference identically.
	q := []engine.Record{{ID: 100, Text: "NETFLIX PAYMENT"}}
	want, err := e.Infer(pt, q)
	if err != nil {
		t.Fatalf("Infer (original): %v", err)
	}
	got, err := e.Infer(loaded, q)
	if err != nil {
		t.Fatalf("Infer (loaded): %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("inference differs after round trip:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestMergeClustersAndMaxClusterID(t *testing.T) {
	s := openTestStore(t)

	e := engine.New(engine.Options{Threshold: 0.3})
	records := []engine.Record{
		{ID: 5, Text: "NETFLIX PAYMENT"},
		{ID: 6, Text: "NETFLIX PLAN PAYMENT"},
		{ID: 7, Text: "SPOTIFY PAYMENT"},
		{ID: 8, Text: "HBO PAYMENT"},
	}
	pt, err := e.BuildPrime(records)
	if err != nil {
		t.Fatalf("BuildPrime: %v", err)
	}
	if err := s.SaveRecords("source", records); err != nil {
		t.Fatalf("SaveRecords: %v", err)
	}
	if err := s.SavePrime(pt); err != nil {
		t.Fatalf("SavePrime: %v", err)
	}

	max, err := s.MaxClusterID()
	if err != nil {
		t.Fatalf("MaxClusterID: %v", err)
	}
	if max != 5 {
		t.Fatalf("max cluster id = %d, want 5", max)
	}

	pool := []engine.Record{
		{ID: 20, Text: "HULU STREAMING PAYMENT"},
		{ID: 21, Text: "HULU STREAMING SVC PAYMENT"},
	}
	if err := s.SaveRecords("incoming", pool); err != nil {
		t.Fatalf("SaveRecords(pool): %v", err)
	}
	if err := s.MergeClusters(pool, map[int64]int64{20: 6, 21: 6}); err != nil {
		t.Fatalf("MergeClusters: %v", err)
	}

	max, err = s.MaxClusterID()
	if err != nil {
		t.Fatalf("MaxClusterID: %v", err)
	}
	if max != 6 {
		t.Errorf("max cluster id after merge = %d, want 6", max)
	}

	loaded, err := s.LoadPrime()
	if err != nil {
		t.Fatalf("LoadPrime: %v", err)
	}
	if loaded.Assignments[20] != 6 || loaded.Assignments[21] != 6 {
		t.Errorf("merged assignments = %v", loaded.Assignments)
	}
	if _, ok := loaded.Records[20]; !ok {
		t.Error("merged record 20 missing from loaded prime table")
	}
}

func TestRunLifecycleAndMatchResults(t *testing.T) {
	s := openTestStore(t)

	runID, err := s.BeginRun("infer")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if runID == "" {
		t.Fatal("empty run id")
	}

	matched := int64(1)
	cluster := int64(1)
	score := 0.5
	results := []engine.MatchResult{
		{QueryID: 100, Status: engine.StatusMatched, MatchedID: &matched, ClusterID: &cluster, Score: &score},
		{QueryID: 101, Status: engine.StatusNoTokens},
	}
	if err := s.SaveMatchResults(runID, results); err != nil {
		t.Fatalf("SaveMatchResults: %v", err)
	}
	if err := s.FinishRun(runID, engine.SummarizeMatches(results)); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	var count int
	if err := s.DB().QueryRow(
		`SELECT COUNT(*) FROM match_results WHERE run_id = ?`, runID).Scan(&count); err != nil {
		t.Fatalf("count match results: %v", err)
	}
	if count != 2 {
		t.Errorf("match result count = %d, want 2", count)
	}

	var finished bool
	if err := s.DB().QueryRow(
		`SELECT finished_at IS NOT NULL FROM runs WHERE run_id = ?`, runID).Scan(&finished); err != nil {
		t.Fatalf("read run: %v", err)
	}
	if !finished {
		t.Error("run not marked finished")
	}
}
