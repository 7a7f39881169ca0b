// Package indexdb is a SQLite slot store that also keeps a history of every save written
// and the digests of the catalogs the saves were produced with.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"idleempire.io/internal/persistence/kv"
	"idleempire.io/internal/sim/catalogs"
	"idleempire.io/internal/sim/tuning"
)

// DefaultHistoryLimit is how many history rows are kept per slot.
const DefaultHistoryLimit = 200

type SQLiteStore struct {
	db           *sqlx.DB
	historyLimit int
	now          func() time.Time
}

var _ kv.Store = (*SQLiteStore)(nil)

// SaveRow summarizes one write to a slot.
type SaveRow struct {
	ID        int64   `db:"id"`
	Slot      string  `db:"slot"`
	SavedAtMs int64   `db:"saved_at_ms"`
	Version   int     `db:"version"`
	SimTimeMs int64   `db:"sim_time_ms"`
	Cash      float64 `db:"cash"`
	Bytes     int     `db:"bytes"`
	Digest    string  `db:"digest"`
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db, historyLimit: DefaultHistoryLimit, now: time.Now}, nil
}

func initPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS slots (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS saves (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slot TEXT NOT NULL,
		saved_at_ms INTEGER NOT NULL,
		version INTEGER NOT NULL,
		sim_time_ms INTEGER NOT NULL,
		cash REAL NOT NULL,
		bytes INTEGER NOT NULL,
		digest TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_saves_slot_id ON saves(slot, id);

	CREATE TABLE IF NOT EXISTS catalogs (
		name TEXT PRIMARY KEY,
		digest TEXT NOT NULL,
		json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SetHistoryLimit changes how many rows per slot survive pruning; n <= 0 keeps everything.
func (s *SQLiteStore) SetHistoryLimit(n int) { s.historyLimit = n }

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := s.db.GetContext(ctx, &val, `SELECT value FROM slots WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

// saveSummary is the handful of GameState fields the history table indexes.
type saveSummary struct {
	Version   int     `json:"version"`
	SimTimeMs int64   `json:"simTimeMs"`
	Cash      float64 `json:"cash"`
}

// Put replaces the slot and appends a history row in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, key string, val []byte) error {
	var sum saveSummary
	_ = json.Unmarshal(val, &sum)
	h := sha256.Sum256(val)
	nowMs := s.now().UnixMilli()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO slots(key, value, updated_at_ms) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms`,
		key, val, nowMs); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	row := SaveRow{
		Slot:      key,
		SavedAtMs: nowMs,
		Version:   sum.Version,
		SimTimeMs: sum.SimTimeMs,
		Cash:      sum.Cash,
		Bytes:     len(val),
		Digest:    hex.EncodeToString(h[:]),
	}
	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO saves(slot, saved_at_ms, version, sim_time_ms, cash, bytes, digest)
		 VALUES(:slot, :saved_at_ms, :version, :sim_time_ms, :cash, :bytes, :digest)`, row); err != nil {
		return fmt.Errorf("history %s: %w", key, err)
	}
	if s.historyLimit > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM saves WHERE slot = ? AND id NOT IN (
				SELECT id FROM saves WHERE slot = ? ORDER BY id DESC LIMIT ?)`,
			key, key, s.historyLimit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History lists the newest writes to slot first.
func (s *SQLiteStore) History(ctx context.Context, slot string, limit int) ([]SaveRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []SaveRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, slot, saved_at_ms, version, sim_time_ms, cash, bytes, digest
		 FROM saves WHERE slot = ? ORDER BY id DESC LIMIT ?`, slot, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertCatalogs records what the running build was configured with, so a history row can
// be traced back to the curves that produced it.
func (s *SQLiteStore) UpsertCatalogs(ctx context.Context, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	now := s.now().UTC().Format(time.RFC3339Nano)
	type row struct {
		name   string
		digest string
		body   any
	}
	rows := []row{
		{"divisions", cats.Divisions.Digest, cats.Divisions.ByID},
		{"automation", cats.Automation.Digest, cats.Automation},
		{"bottlenecks", cats.Bottlenecks.Digest, cats.Bottlenecks.Defs},
		{"research", cats.Research.Digest, cats.Research.ByID},
		{"upgrades", cats.Upgrades.Digest, cats.Upgrades.ByID},
		{"milestones", cats.Milestones.Digest, cats.Milestones},
		{"contracts", cats.Contracts.Digest, cats.Contracts.Templates},
		{"instruments", cats.Instruments.Digest, cats.Instruments.ByID},
		{"buffs", cats.Buffs.Digest, cats.Buffs.ByID},
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, row{"tuning", hex.EncodeToString(sum[:]), tune})
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key, value) VALUES('schema_version', '1')`); err != nil {
		return err
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO catalogs(name, digest, json, updated_at) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		b, err := json.Marshal(r.body)
		if err != nil || r.digest == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, r.name, r.digest, string(b), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CatalogDigest returns the recorded digest for name, or "" when none was recorded.
func (s *SQLiteStore) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.GetContext(ctx, &d, `SELECT digest FROM catalogs WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return d, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
