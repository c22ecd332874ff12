package store

import (
	"context"
	"strconv"
	"time"

	uerr "github.com/standardbeagle/uci/internal/errors"
)

// migrations are ordered, append-only, and applied inside one transaction at
// open. The version of the newest applied script is the schema version.
var migrations = []string{
	// 1: base schema.
	`
CREATE TABLE IF NOT EXISTS files (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	path          TEXT    NOT NULL UNIQUE,
	relative_path TEXT    NOT NULL,
	name          TEXT    NOT NULL,
	project       TEXT    NOT NULL,
	language      TEXT    NOT NULL,
	module        TEXT    NOT NULL,
	mtime_ms      INTEGER NOT NULL,
	content_hash  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_name     ON files(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_files_project  ON files(project);
CREATE INDEX IF NOT EXISTS idx_files_language ON files(language);
CREATE INDEX IF NOT EXISTS idx_files_module   ON files(module);

CREATE TABLE IF NOT EXISTS type_decls (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id     INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	name        TEXT    NOT NULL,
	kind        TEXT    NOT NULL,
	parent_name TEXT    NOT NULL DEFAULT '',
	line        INTEGER NOT NULL,
	specifiers  TEXT    NOT NULL DEFAULT '[]',
	UNIQUE(file_id, name, kind, line)
);
CREATE INDEX IF NOT EXISTS idx_types_name   ON type_decls(name);
CREATE INDEX IF NOT EXISTS idx_types_lower  ON type_decls(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_types_parent ON type_decls(parent_name);
CREATE INDEX IF NOT EXISTS idx_types_file   ON type_decls(file_id);

CREATE TABLE IF NOT EXISTS members (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id    INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	owner_name TEXT    NOT NULL DEFAULT '',
	name       TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	line       INTEGER NOT NULL,
	signature  TEXT    NOT NULL DEFAULT '',
	specifiers TEXT    NOT NULL DEFAULT '[]',
	UNIQUE(file_id, name, kind, line)
);
CREATE INDEX IF NOT EXISTS idx_members_name  ON members(name);
CREATE INDEX IF NOT EXISTS idx_members_lower ON members(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_members_owner ON members(owner_name);
CREATE INDEX IF NOT EXISTS idx_members_file  ON members(file_id);

CREATE TABLE IF NOT EXISTS assets (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	project      TEXT NOT NULL,
	path         TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	class        TEXT NOT NULL,
	parent_class TEXT NOT NULL DEFAULT '',
	folder       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_name    ON assets(name COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_assets_folder  ON assets(folder);
CREATE INDEX IF NOT EXISTS idx_assets_project ON assets(project);

CREATE TABLE IF NOT EXISTS file_content (
	file_id INTEGER PRIMARY KEY REFERENCES files(id) ON DELETE CASCADE,
	data    BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS trigram_postings (
	trigram INTEGER PRIMARY KEY,
	ids     BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS index_status (
	language   TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	current    INTEGER NOT NULL DEFAULT 0,
	total      INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`,
	// 2: MCP tool-call analytics sink.
	`
CREATE TABLE IF NOT EXISTS tool_calls (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	tool         TEXT    NOT NULL,
	args_digest  TEXT    NOT NULL,
	duration_ms  INTEGER NOT NULL,
	result_bytes INTEGER NOT NULL,
	session_id   TEXT    NOT NULL DEFAULT '',
	created_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_tool    ON tool_calls(tool);
CREATE INDEX IF NOT EXISTS idx_tool_calls_created ON tool_calls(created_at);
`,
}

const schemaVersionKey = "schema_version"

// migrate applies all pending migration scripts in one transaction and records
// the resulting schema version in metadata.
func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uerr.Unavailable("begin migration", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return uerr.Unavailable("create migration table", err)
	}

	var current int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return uerr.Unavailable("read schema version", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		if _, err := tx.Exec(migrations[i]); err != nil {
			return uerr.Unavailable("apply migration", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return uerr.Unavailable("record migration", err)
		}
		s.log.Info().Int("version", version).Msg("applied schema migration")
	}

	if _, err := tx.Exec(`INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		schemaVersionKey, strconv.Itoa(len(migrations))); err != nil {
		return uerr.Unavailable("record schema version", err)
	}

	if err := tx.Commit(); err != nil {
		return uerr.Unavailable("commit migration", err)
	}
	return nil
}
