// Package store persists the prime table, its blocking index and token
// weights, match results and pipeline run history in an embedded SQLite
// database, so inference runs can reuse the reference state without
// rebuilding it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/specific-affinity/affinity/internal/engine"
	"github.com/specific-affinity/affinity/internal/index"
)

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent statements.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw connection for read-only diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS records (
			record_id INTEGER PRIMARY KEY,
			text      TEXT NOT NULL,
			attrs     TEXT,
			batch     TEXT NOT NULL DEFAULT 'source'
		)`,
		`CREATE TABLE IF NOT EXISTS prime (
			record_id  INTEGER PRIMARY KEY,
			cluster_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS blocking_keys (
			token     TEXT NOT NULL,
			record_id INTEGER NOT NULL,
			PRIMARY KEY (token, record_id)
		)`,
		`CREATE TABLE IF NOT EXISTS token_weights (
			token  TEXT PRIMARY KEY,
			weight REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pairs (
			record_id_1 INTEGER NOT NULL,
			record_id_2 INTEGER NOT NULL,
			score       REAL NOT NULL,
			PRIMARY KEY (record_id_1, record_id_2)
		)`,
		`CREATE TABLE IF NOT EXISTS match_results (
			query_id          INTEGER NOT NULL,
			run_id            TEXT NOT NULL,
			status            TEXT NOT NULL,
			matched_record_id INTEGER,
			cluster_id        INTEGER,
			score             REAL,
			PRIMARY KEY (query_id, run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			step        TEXT NOT NULL,
			started_at  TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			stats       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prime_cluster ON prime (cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_blocking_token ON blocking_keys (token)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveRecords stores a batch of records under the given batch tag.
func (s *Store) SaveRecords(batch string, records []engine.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO records (record_id, text, attrs, batch)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		attrs, err := marshalAttrs(r.Attrs)
		if err != nil {
			return fmt.Errorf("failed to encode attrs for record %d: %w", r.ID, err)
		}
		if _, err := stmt.Exec(r.ID, r.Text, attrs, batch); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// LoadRecords loads every record with the given batch tag, ordered by id.
// An empty batch loads all records.
func (s *Store) LoadRecords(batch string) ([]engine.Record, error) {
	query := `SELECT record_id, text, attrs FROM records`
	args := []any{}
	if batch != "" {
		query += ` WHERE batch = ?`
		args = append(args, batch)
	}
	query += ` ORDER BY record_id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	defer rows.Close()

	var records []engine.Record
	for rows.Next() {
		var r engine.Record
		var attrs sql.NullString
		if err := rows.Scan(&r.ID, &r.Text, &attrs); err != nil {
			return nil, err
		}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &r.Attrs); err != nil {
				return nil, fmt.Errorf("failed to decode attrs for record %d: %w", r.ID, err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SavePrime replaces the persisted prime table state: cluster assignments,
// blocking index, token weights and the surviving candidate pairs, all in
// one transaction.
func (s *Store) SavePrime(pt *engine.PrimeTable) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"prime", "blocking_keys", "token_weights", "pairs"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	primeStmt, err := tx.Prepare(`INSERT INTO prime (record_id, cluster_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer primeStmt.Close()

	for _, id := range pt.RecordIDs() {
		var cid any
		if c, ok := pt.Assignments[id]; ok {
			cid = c
		}
		if _, err := primeStmt.Exec(id, cid); err != nil {
			return fmt.Errorf("failed to insert prime row %d: %w", id, err)
		}
	}

	keyStmt, err := tx.Prepare(`INSERT INTO blocking_keys (token, record_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer keyStmt.Close()

	for _, e := range pt.Index.Entries() {
		if _, err := keyStmt.Exec(e.Token, e.RecordID); err != nil {
			return fmt.Errorf("failed to insert blocking key (%s, %d): %w", e.Token, e.RecordID, err)
		}
	}

	weightStmt, err := tx.Prepare(`INSERT INTO token_weights (token, weight) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer weightStmt.Close()

	for tok, w := range pt.Weights {
		if _, err := weightStmt.Exec(tok, w); err != nil {
			return fmt.Errorf("failed to insert weight for %q: %w", tok, err)
		}
	}

	pairStmt, err := tx.Prepare(`INSERT INTO pairs (record_id_1, record_id_2, score) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer pairStmt.Close()

	for _, p := range pt.Pairs {
		if _, err := pairStmt.Exec(p.ID1, p.ID2, p.Score); err != nil {
			return fmt.Errorf("failed to insert pair (%d, %d): %w", p.ID1, p.ID2, err)
		}
	}

	return tx.Commit()
}

// LoadPrime reassembles the prime table from persisted state.
func (s *Store) LoadPrime() (*engine.PrimeTable, error) {
	records, err := s.LoadRecords("")
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT record_id, cluster_id FROM prime`)
	if err != nil {
		return nil, fmt.Errorf("failed to load prime assignments: %w", err)
	}
	defer rows.Close()

	known := make(map[int64]struct{})
	assignments := make(map[int64]int64)
	for rows.Next() {
		var id int64
		var cid sql.NullInt64
		if err := rows.Scan(&id, &cid); err != nil {
			return nil, err
		}
		known[id] = struct{}{}
		if cid.Valid {
			assignments[id] = cid.Int64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ix, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	weights, err := s.loadWeights()
	if err != nil {
		return nil, err
	}
	pairs, err := s.loadPairs()
	if err != nil {
		return nil, err
	}

	// Only records that are part of the prime table belong in it; staged
	// incoming batches that were never merged are excluded.
	var primeRecords []engine.Record
	for _, r := range records {
		if _, ok := known[r.ID]; ok {
			primeRecords = append(primeRecords, r)
		}
	}

	pt := engine.NewPrimeTable(primeRecords, assignments, ix, weights)
	pt.Pairs = pairs
	return pt, nil
}

func (s *Store) loadIndex() (*index.Index, error) {
	rows, err := s.db.Query(`SELECT token, record_id FROM blocking_keys ORDER BY record_id, token`)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocking keys: %w", err)
	}
	defer rows.Close()

	tokensByRecord := make(map[int64][]string)
	for rows.Next() {
		var tok string
		var id int64
		if err := rows.Scan(&tok, &id); err != nil {
			return nil, err
		}
		tokensByRecord[id] = append(tokensByRecord[id], tok)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return index.Build(tokensByRecord), nil
}

func (s *Store) loadWeights() (index.Weights, error) {
	rows, err := s.db.Query(`SELECT token, weight FROM token_weights`)
	if err != nil {
		return nil, fmt.Errorf("failed to load token weights: %w", err)
	}
	defer rows.Close()

	weights := make(index.Weights)
	for rows.Next() {
		var tok string
		var w float64
		if err := rows.Scan(&tok, &w); err != nil {
			return nil, err
		}
		weights[tok] = w
	}
	return weights, rows.Err()
}

func (s *Store) loadPairs() ([]index.Pair, error) {
	rows, err := s.db.Query(`SELECT record_id_1, record_id_2, score FROM pairs ORDER BY record_id_1, record_id_2`)
	if err != nil {
		return nil, fmt.Errorf("failed to load pairs: %w", err)
	}
	defer rows.Close()

	var pairs []index.Pair
	for rows.Next() {
		var p index.Pair
		if err := rows.Scan(&p.ID1, &p.ID2, &p.Score); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// MergeClusters applies a recluster pass atomically: the pool records join
// the prime table and the new assignments land in one transaction, so no
// reader observes a partially remapped cluster id set.
func (s *Store) MergeClusters(pool []engine.Record, assignments map[int64]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO prime (record_id, cluster_id) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range pool {
		var cid any
		if c, ok := assignments[r.ID]; ok {
			cid = c
		}
		if _, err := stmt.Exec(r.ID, cid); err != nil {
			return fmt.Errorf("failed to merge record %d: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// SaveMatchResults stores a batch of inference results under one run id.
func (s *Store) SaveMatchResults(runID string, results []engine.MatchResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO match_results
			(query_id, run_id, status, matched_record_id, cluster_id, score)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.Exec(r.QueryID, runID, string(r.Status),
			nullableInt(r.MatchedID), nullableInt(r.ClusterID), nullableFloat(r.Score)); err != nil {
			return fmt.Errorf("failed to insert match result for query %d: %w", r.QueryID, err)
		}
	}
	return tx.Commit()
}

// MaxClusterID returns the largest persisted cluster id, 0 when none.
func (s *Store) MaxClusterID() (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(cluster_id) FROM prime`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max cluster id: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// BeginRun records the start of a pipeline step and returns its run id.
func (s *Store) BeginRun(step string) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO runs (run_id, step, started_at) VALUES (?, ?, ?)`,
		runID, step, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to record run start: %w", err)
	}
	return runID, nil
}

// FinishRun marks a run finished and attaches its summary statistics.
func (s *Store) FinishRun(runID string, stats any) error {
	blob, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode run stats: %w", err)
	}
	_, err = s.db.Exec(`UPDATE runs SET finished_at = ?, stats = ? WHERE run_id = ?`,
		time.Now().UTC(), string(blob), runID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

func marshalAttrs(attrs map[string]string) (any, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	blob, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return string(blob), nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
