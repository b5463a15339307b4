// Package storage implements the SQLite-backed fact store: the datoms
// table the query pipeline compiles against, the attribute catalog,
// and a minimal transactor. The datoms table holds current assertions;
// the transactions table is the commit log.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmallove/datalith/datalog"
	"github.com/jmallove/datalith/datalog/pull"
	"github.com/jmallove/datalith/datalog/schema"
)

const ddl = `
CREATE TABLE IF NOT EXISTS datoms (
	e              INTEGER NOT NULL,
	a              INTEGER NOT NULL,
	v              BLOB    NOT NULL,
	tx             INTEGER NOT NULL,
	value_type_tag INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_datoms_eavt ON datoms (e, a, v, value_type_tag);
CREATE INDEX IF NOT EXISTS idx_datoms_aevt ON datoms (a, e);
CREATE INDEX IF NOT EXISTS idx_datoms_avet ON datoms (a, v, value_type_tag);

CREATE TABLE IF NOT EXISTS attributes (
	entid       INTEGER PRIMARY KEY,
	ident       TEXT    NOT NULL UNIQUE,
	value_type  INTEGER NOT NULL,
	cardinality INTEGER NOT NULL,
	uniq        INTEGER NOT NULL,
	indexed     INTEGER NOT NULL,
	component   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	tx      INTEGER PRIMARY KEY,
	instant INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	next INTEGER NOT NULL
);
INSERT OR IGNORE INTO counters (name, next) VALUES ('entity', 1);
`

// Store is a SQLite-backed fact store. It is safe for concurrent use;
// the schema snapshot swaps atomically under the mutex, so queries
// compiled against an older snapshot keep their view.
type Store struct {
	db *sql.DB

	mu       sync.RWMutex
	snapshot *schema.Snapshot
}

// Open opens (creating if needed) a store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	return bootstrap(db)
}

// OpenMemory opens a fresh in-memory store.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory store: %w", err)
	}
	// The in-memory database vanishes with its last connection.
	db.SetMaxOpenConns(1)
	return bootstrap(db)
}

func bootstrap(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrapping schema: %w", err)
	}
	s := &Store{db: db}
	snap, err := s.loadCatalog()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.snapshot = snap
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Catalog returns the current schema snapshot. The snapshot is
// immutable; callers keep a consistent view for a whole query.
func (s *Store) Catalog() *schema.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// QueryContext executes a translated statement's SQL.
func (s *Store) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// ResolveUnique finds the entity holding value under a unique
// attribute, if any.
func (s *Store) ResolveUnique(attr schema.Attribute, value datalog.TypedValue) (datalog.EntityID, bool, error) {
	tag, raw := datalog.EncodeSQL(value)
	var e int64
	err := s.db.QueryRow(
		`SELECT e FROM datoms WHERE a = ? AND v = ? AND value_type_tag = ? LIMIT 1`,
		int64(attr.ID), raw, tag,
	).Scan(&e)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolving unique %s: %w", attr.Ident, err)
	}
	return datalog.EntityID(e), true, nil
}

// EntityFacts returns the current assertions on one entity, in
// attribute order. It implements the pull backend.
func (s *Store) EntityFacts(id datalog.EntityID) ([]pull.Fact, error) {
	catalog := s.Catalog()

	rows, err := s.db.Query(
		`SELECT a, v, value_type_tag FROM datoms WHERE e = ? ORDER BY a, v`,
		int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching entity %d: %w", int64(id), err)
	}
	defer rows.Close()

	var facts []pull.Fact
	for rows.Next() {
		var a, tag int64
		var raw interface{}
		if err := rows.Scan(&a, &raw, &tag); err != nil {
			return nil, fmt.Errorf("scanning entity %d: %w", int64(id), err)
		}
		attr, err := catalog.LookupByID(datalog.EntityID(a))
		if err != nil {
			return nil, fmt.Errorf("entity %d references uninstalled attribute %d", int64(id), a)
		}
		value, err := datalog.DecodeSQL(tag, raw)
		if err != nil {
			return nil, fmt.Errorf("decoding entity %d attribute %s: %w", int64(id), attr.Ident, err)
		}
		facts = append(facts, pull.Fact{Attr: attr, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity %d: %w", int64(id), err)
	}
	return facts, nil
}

// allocateIDs reserves n consecutive ids from the entity counter, in
// the given transaction, returning the first.
func allocateIDs(tx *sql.Tx, n int64) (datalog.EntityID, error) {
	var next int64
	if err := tx.QueryRow(`SELECT next FROM counters WHERE name = 'entity'`).Scan(&next); err != nil {
		return 0, fmt.Errorf("reading id counter: %w", err)
	}
	if _, err := tx.Exec(`UPDATE counters SET next = ? WHERE name = 'entity'`, next+n); err != nil {
		return 0, fmt.Errorf("advancing id counter: %w", err)
	}
	return datalog.EntityID(next), nil
}
