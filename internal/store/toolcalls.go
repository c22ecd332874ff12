package store

import (
	"context"
	"time"

	uerr "github.com/standardbeagle/uci/internal/errors"
)

// ToolCall is one MCP bridge analytics record.
type ToolCall struct {
	Tool        string    `json:"tool"`
	ArgsDigest  string    `json:"argsDigest"`
	DurationMs  int64     `json:"durationMs"`
	ResultBytes int64     `json:"resultBytes"`
	SessionID   string    `json:"sessionId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ToolCallAggregate is the per-tool rollup served back to the bridge.
type ToolCallAggregate struct {
	Tool          string  `json:"tool"`
	Calls         int     `json:"calls"`
	AvgDurationMs float64 `json:"avgDurationMs"`
	TotalBytes    int64   `json:"totalBytes"`
	LastCalledAt  string  `json:"lastCalledAt"`
}

// AppendToolCalls inserts a drained queue of analytics records. The sink is
// append-only; corruption rules do not apply here, but read-only mode still
// refuses the write.
func (s *Store) AppendToolCalls(ctx context.Context, calls []ToolCall) error {
	if len(calls) == 0 {
		return nil
	}
	if s.readOnly.Load() {
		return uerr.Corrupt("store is read-only after a corruption observation", nil)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uerr.Unavailable("begin analytics append", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tool_calls (tool, args_digest, duration_ms, result_bytes, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return uerr.Unavailable("prepare analytics append", err)
	}
	defer stmt.Close()
	for _, c := range calls {
		if _, err := stmt.ExecContext(ctx, c.Tool, c.ArgsDigest, c.DurationMs, c.ResultBytes,
			c.SessionID, c.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
			return uerr.Unavailable("append tool call", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return uerr.Unavailable("commit analytics append", err)
	}
	return nil
}

// PruneToolCalls deletes records older than the retention window and returns
// how many were removed.
func (s *Store) PruneToolCalls(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_calls WHERE created_at < ?`, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, uerr.Unavailable("prune tool calls", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AggregateToolCalls rolls the sink up per tool.
func (s *Store) AggregateToolCalls(ctx context.Context) ([]ToolCallAggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, COUNT(*), AVG(duration_ms), SUM(result_bytes), MAX(created_at)
		 FROM tool_calls GROUP BY tool ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, uerr.Unavailable("aggregate tool calls", err)
	}
	defer rows.Close()
	var out []ToolCallAggregate
	for rows.Next() {
		var a ToolCallAggregate
		if err := rows.Scan(&a.Tool, &a.Calls, &a.AvgDurationMs, &a.TotalBytes, &a.LastCalledAt); err != nil {
			return nil, uerr.Unavailable("scan tool call aggregate", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, uerr.Unavailable("iterate tool call aggregates", err)
	}
	return out, nil
}
