// Package memory implements the Hypergraph Memory Store and tier evolution
// (spec.md §4.3, §6), grounded on aladin2907-overhuman/internal/storage/sqlite.go
// for the Go-side modernc.org/sqlite + FTS5-trigger pattern and on
// original_source/rlm-core/src/memory/schema.rs for the exact column and
// index layout (ported schema, not ported code).
package memory

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the current on-disk schema revision.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id                  TEXT PRIMARY KEY,
	node_type           TEXT NOT NULL,
	subtype             TEXT,
	content             TEXT NOT NULL,
	embedding           BLOB,
	tier                INTEGER NOT NULL DEFAULT 0,
	confidence          REAL NOT NULL DEFAULT 1.0,
	provenance_source    TEXT,
	provenance_ref       TEXT,
	provenance_observed_at TEXT,
	provenance_context   TEXT,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	last_accessed       TEXT NOT NULL,
	access_count        INTEGER NOT NULL DEFAULT 0,
	metadata            TEXT
);

CREATE TABLE IF NOT EXISTS hyperedges (
	id         TEXT PRIMARY KEY,
	edge_type  TEXT NOT NULL,
	label      TEXT,
	weight     REAL NOT NULL DEFAULT 1.0,
	created_at TEXT NOT NULL,
	metadata   TEXT
);

CREATE TABLE IF NOT EXISTS membership (
	hyperedge_id TEXT NOT NULL,
	node_id      TEXT NOT NULL,
	role         TEXT NOT NULL,
	position     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (hyperedge_id, node_id, role),
	FOREIGN KEY (hyperedge_id) REFERENCES hyperedges(id) ON DELETE CASCADE,
	FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
);

-- evolution_log intentionally carries no foreign key on node_id: unlike
-- membership (which cascades with its node per spec.md §3), evolution-log
-- rows must survive PruneArchived's node deletion (Open Question (b),
-- resolved as "retained" in SPEC_FULL.md).
CREATE TABLE IF NOT EXISTS evolution_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id    TEXT NOT NULL,
	operation  TEXT NOT NULL,
	from_tier  INTEGER,
	to_tier    INTEGER,
	reason     TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type);
CREATE INDEX IF NOT EXISTS idx_nodes_tier ON nodes(tier);
CREATE INDEX IF NOT EXISTS idx_nodes_confidence ON nodes(confidence);
CREATE INDEX IF NOT EXISTS idx_nodes_last_accessed ON nodes(last_accessed);
CREATE INDEX IF NOT EXISTS idx_membership_node ON membership(node_id);
CREATE INDEX IF NOT EXISTS idx_evolution_log_node ON evolution_log(node_id);

CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
	content, content='nodes', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS nodes_ai AFTER INSERT ON nodes BEGIN
	INSERT INTO nodes_fts(rowid, content) VALUES (new.rowid, new.content);
END;
CREATE TRIGGER IF NOT EXISTS nodes_ad AFTER DELETE ON nodes BEGIN
	INSERT INTO nodes_fts(nodes_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
END;
CREATE TRIGGER IF NOT EXISTS nodes_au AFTER UPDATE ON nodes BEGIN
	INSERT INTO nodes_fts(nodes_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
	INSERT INTO nodes_fts(rowid, content) VALUES (new.rowid, new.content);
END;
`

// InitializeSchema applies PRAGMAs and creates the schema if it is not
// already at SchemaVersion. Idempotent across repeated invocations.
func InitializeSchema(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := SchemaVersionOf(db)
	if err != nil {
		return err
	}
	if current >= SchemaVersion {
		return nil
	}

	if _, err := db.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply v1 schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion,
	); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// SchemaVersionOf returns the highest applied schema version, or 0 if the
// database has not been initialized yet.
func SchemaVersionOf(db *sql.DB) (int, error) {
	var version sql.NullInt64
	err := db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// IsInitialized reports whether the schema has been applied at all.
func IsInitialized(db *sql.DB) (bool, error) {
	v, err := SchemaVersionOf(db)
	if err != nil {
		return false, err
	}
	return v > 0, nil
}

// Open opens (or creates) a SQLite-backed memory database at path. Pass
// ":memory:" for an in-memory database, matching spec.md §6's "in-memory
// mode for tests".
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps PRAGMA foreign_keys=ON (and WAL mode) in
	// effect for every statement; SQLite applies both per-connection, and
	// Store's own RWMutex already serializes writes, so pooling additional
	// connections would buy nothing but pragma inconsistency.
	db.SetMaxOpenConns(1)
	if err := InitializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
