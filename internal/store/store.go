// Package store implements the durable, size-bounded, compressed
// per-tile event log described in spec §4.3: a single SQLite file
// indexed on (z, tx, ty, t), with the tie-break on insertion order
// carried by SQLite's own rowid (aliased here as seq).
package store

import (
	"database/sql"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"tilestroke/internal/model"
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS tile_rows (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	z       INTEGER NOT NULL,
	tx      INTEGER NOT NULL,
	ty      INTEGER NOT NULL,
	t       INTEGER NOT NULL,
	id      TEXT NOT NULL,
	payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tile_rows_tile ON tile_rows (z, tx, ty, t, seq);
CREATE INDEX IF NOT EXISTS idx_tile_rows_t ON tile_rows (t, seq);
`

// Store is a single-writer handle onto the tile log.
// Every mutating call (InsertMany, EvictOldest, Compact) is serialized
// by writeMu; reads take no write lock. The handle holds a single
// SQLite connection, so reads do not run concurrently with each other
// or with a write: each waits until that connection is free.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex

	insertStmt     *sql.Stmt
	scanStmt       *sql.Stmt
	scanSinceStmt  *sql.Stmt
	rowCountStmt   *sql.Stmt
	payloadSumStmt *sql.Stmt
}

// Stats is the (total_bytes, row_count) pair from spec §4.3.
type Stats struct {
	TotalBytes int64
	RowCount   int64
}

// Open creates or reuses the store file under dataDir and prepares the
// statements the store will reuse for the life of the process.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "tiles.sqlite3")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single sqlite3 connection; writer discipline lives above it

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{db: db}
	if err := s.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepare() error {
	var err error
	if s.insertStmt, err = s.db.Prepare(
		`INSERT INTO tile_rows (z, tx, ty, t, id, payload) VALUES (?, ?, ?, ?, ?, ?)`,
	); err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	if s.scanStmt, err = s.db.Prepare(
		`SELECT t, id, payload FROM tile_rows WHERE z = ? AND tx = ? AND ty = ? ORDER BY t ASC, seq ASC`,
	); err != nil {
		return fmt.Errorf("prepare scan: %w", err)
	}
	if s.scanSinceStmt, err = s.db.Prepare(
		`SELECT t, id, payload FROM tile_rows WHERE z = ? AND tx = ? AND ty = ? AND t > ? ORDER BY t ASC, seq ASC`,
	); err != nil {
		return fmt.Errorf("prepare scan_since: %w", err)
	}
	if s.rowCountStmt, err = s.db.Prepare(`SELECT COUNT(*) FROM tile_rows`); err != nil {
		return fmt.Errorf("prepare row count: %w", err)
	}
	if s.payloadSumStmt, err = s.db.Prepare(`SELECT COALESCE(SUM(LENGTH(payload) + 32), 0) FROM tile_rows`); err != nil {
		return fmt.Errorf("prepare payload sum: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMany appends rows transactionally: all or nothing (spec I4).
// It takes writeMu, so every caller (the ingest coordinator, tests)
// gets the same single-writer guarantee.
func (s *Store) InsertMany(rows []model.TileRow) error {
	if len(rows) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}

	stmt := tx.Stmt(s.insertStmt)
	for _, row := range rows {
		if _, err := stmt.Exec(row.Z, row.TX, row.TY, row.T, row.ID, row.Payload); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert tx: %w", err)
	}
	return nil
}

// Scan returns every row for one tile, ordered by t ascending with
// insertion order as the tiebreak (spec I3/P3).
func (s *Store) Scan(z, tx, ty int) ([]model.TileRow, error) {
	return s.scanRows(s.scanStmt, z, tx, ty)
}

// ScanSince returns rows with t > since for one tile, in the same
// order as Scan (spec P3: equals Scan filtered to t > since).
func (s *Store) ScanSince(z, tx, ty int, since int64) ([]model.TileRow, error) {
	return s.scanRows(s.scanSinceStmt, z, tx, ty, since)
}

func (s *Store) scanRows(stmt *sql.Stmt, args ...any) ([]model.TileRow, error) {
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer rows.Close()

	var out []model.TileRow
	for rows.Next() {
		var r model.TileRow
		if err := rows.Scan(&r.T, &r.ID, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats reports (total_bytes, row_count). total_bytes approximates the
// on-disk footprint as payload bytes plus a fixed per-row overhead,
// cheap enough to call before every ingest per the size policy.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	if err := s.rowCountStmt.QueryRow().Scan(&st.RowCount); err != nil {
		return Stats{}, fmt.Errorf("row count: %w", err)
	}
	if err := s.payloadSumStmt.QueryRow().Scan(&st.TotalBytes); err != nil {
		return Stats{}, fmt.Errorf("payload sum: %w", err)
	}
	return st, nil
}

// EvictOldest deletes the n rows of globally smallest (t, seq), per
// spec §4.3's global oldest-first policy (preserves temporal ordering
// across the whole store, not per-tile fairness).
func (s *Store) EvictOldest(n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM tile_rows WHERE seq IN (
			SELECT seq FROM tile_rows ORDER BY t ASC, seq ASC LIMIT ?
		)`, n,
	)
	if err != nil {
		return 0, fmt.Errorf("evict oldest: %w", err)
	}
	return res.RowsAffected()
}

// Compact reclaims space freed by eviction. SQLite's VACUUM rewrites
// the whole file, so this is deliberately rare (called only after an
// eviction pass, not on every ingest).
func (s *Store) Compact() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// MaybeEvict applies the size policy from spec §4.3: if total_bytes
// reached the ceiling, evict ceil(0.1 * row_count) rows and compact.
// Called by the ingest coordinator before every accepted stroke.
func (s *Store) MaybeEvict(maxBytes int64) error {
	st, err := s.Stats()
	if err != nil {
		return err
	}
	if st.TotalBytes < maxBytes || st.RowCount == 0 {
		return nil
	}

	n := int64(math.Ceil(0.1 * float64(st.RowCount)))
	evicted, err := s.EvictOldest(n)
	if err != nil {
		return err
	}
	log.Printf("[store] evicted %d/%d rows (total_bytes=%d >= max=%d)", evicted, st.RowCount, st.TotalBytes, maxBytes)

	return s.Compact()
}
