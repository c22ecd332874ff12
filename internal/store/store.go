// Package store is the durable relational index: files, type and member
// declarations, assets, compressed file content, trigram posting lists, and
// per-language index status, all in a single SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	uerr "github.com/standardbeagle/uci/internal/errors"
)

// Store wraps the SQLite database and owns the content codec. One Store per
// process; a single writer (the ingest service) and many readers (the query
// pool) share it.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	// readOnly flips on when a store invariant is observed violated. Reads
	// keep working; writes are refused until the database is inspected.
	readOnly atomic.Bool

	stats statsCache
}

// Open opens (creating if necessary) the database at path and applies pending
// schema migrations.
func Open(path string, log zerolog.Logger) (*Store, error) {
	// The write path is serialized by the ingest service; readers come from
	// the query pool. WAL keeps them from blocking each other, and the
	// pragmas ride the DSN so every pooled connection gets them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, uerr.Unavailable("open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, uerr.Unavailable("open database", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, uerr.Internal("create zstd encoder", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, uerr.Internal("create zstd decoder", err)
	}

	s := &Store{db: db, log: log.With().Str("component", "store").Logger(), enc: enc, dec: dec}
	s.stats.ttl = 5 * time.Second

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database and codec resources.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// DB exposes the underlying handle for components that pin their own
// connection (query-pool workers).
func (s *Store) DB() *sql.DB {
	return s.db
}

// ReadOnly reports whether the store has refused writes after a corruption
// observation.
func (s *Store) ReadOnly() bool {
	return s.readOnly.Load()
}

// markCorrupt records an invariant violation and flips the store read-only.
func (s *Store) markCorrupt(err error) *uerr.Error {
	s.readOnly.Store(true)
	s.log.Error().Err(err).Msg("store invariant violated; refusing further writes")
	return uerr.Corrupt("store invariant violated", err)
}

// compress encodes content for the file_content table.
func (s *Store) compress(content []byte) []byte {
	return s.enc.EncodeAll(content, make([]byte, 0, len(content)/3+64))
}

// decompress decodes a file_content blob.
func (s *Store) decompress(blob []byte) ([]byte, error) {
	out, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, uerr.Corrupt("decompress file content", err)
	}
	return out, nil
}

// classify maps a low-level database error to the store taxonomy. Unique
// violations are logic bugs (the upsert paths diff before writing), so they
// surface as corruption rather than availability.
func (s *Store) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return s.markCorrupt(fmt.Errorf("%s: %w", op, err))
	}
	return uerr.Unavailable(op, err)
}
