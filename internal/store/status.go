package store

import (
	"context"
	"database/sql"
	"time"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/types"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetIndexStatus returns the per-language status rows. Languages never
// ingested are absent; callers present those as "unknown".
func (s *Store) GetIndexStatus(ctx context.Context) ([]types.IndexStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT language, state, current, total, error, updated_at FROM index_status ORDER BY language`)
	if err != nil {
		return nil, uerr.Unavailable("read index status", err)
	}
	defer rows.Close()
	var out []types.IndexStatus
	for rows.Next() {
		var st types.IndexStatus
		var lang, state, updated string
		if err := rows.Scan(&lang, &state, &st.Current, &st.Total, &st.Error, &updated); err != nil {
			return nil, uerr.Unavailable("scan index status", err)
		}
		st.Language = types.Language(lang)
		st.State = types.IndexState(state)
		st.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, uerr.Unavailable("iterate index status", err)
	}
	return out, nil
}

// SetIndexStatus updates one language's status outside a batch.
func (s *Store) SetIndexStatus(ctx context.Context, lang types.Language, state types.IndexState, current, total int, errMsg string) error {
	if s.readOnly.Load() {
		return uerr.Corrupt("store is read-only after a corruption observation", nil)
	}
	return setIndexStatus(ctx, s.db, lang, state, current, total, errMsg)
}

func setIndexStatus(ctx context.Context, e execer, lang types.Language, state types.IndexState, current, total int, errMsg string) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO index_status (language, state, current, total, error, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(language) DO UPDATE SET
			state = excluded.state, current = excluded.current, total = excluded.total,
			error = excluded.error, updated_at = excluded.updated_at`,
		string(lang), string(state), current, total, errMsg, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return uerr.Unavailable("write index status", err)
	}
	return nil
}

// GetMetadata reads one metadata value; a missing key yields "" and no error.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", uerr.Unavailable("read metadata", err)
	}
	return value, nil
}

// SetMetadata writes one metadata key.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	if s.readOnly.Load() {
		return uerr.Corrupt("store is read-only after a corruption observation", nil)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return uerr.Unavailable("write metadata", err)
	}
	return nil
}
