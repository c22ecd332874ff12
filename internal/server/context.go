package server

import (
	"context"
	"database/sql"
	"strings"

	"github.com/standardbeagle/uci/internal/types"
)

// SourceContext is the window of lines attached to a result when the caller
// passes contextLines.
type SourceContext struct {
	StartLine int      `json:"startLine"`
	Lines     []string `json:"lines"`
}

// attachContext reads a file's stored content through the query pool and
// slices the [line-n, line+n] window. A missing file yields nil, not an
// error: context is best-effort decoration.
func (s *Server) attachContext(ctx context.Context, fileID types.FileID, line, n int) *SourceContext {
	if n <= 0 {
		return nil
	}
	if max := s.cfg.Query.MaxContextLines; n > max {
		n = max
	}
	lines, ok := s.fileLines(ctx, fileID)
	if !ok || line < 1 || line > len(lines) {
		return nil
	}
	lo := line - n
	if lo < 1 {
		lo = 1
	}
	hi := line + n
	if hi > len(lines) {
		hi = len(lines)
	}
	return &SourceContext{StartLine: lo, Lines: lines[lo-1 : hi]}
}

// readSignature reads the single declaration line for includeSignatures.
func (s *Server) readSignature(ctx context.Context, fileID types.FileID, line int) string {
	lines, ok := s.fileLines(ctx, fileID)
	if !ok || line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], " \t\r")
}

func (s *Server) fileLines(ctx context.Context, fileID types.FileID) ([]string, bool) {
	value, err := s.pool.Do(ctx, func(ctx context.Context, conn *sql.Conn) (any, error) {
		return s.store.GetContentOn(ctx, conn, fileID)
	})
	if err != nil {
		return nil, false
	}
	content, _ := value.([]byte)
	if len(content) == 0 {
		return nil, false
	}
	return strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n"), true
}
