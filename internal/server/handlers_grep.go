package server

import (
	"net/http"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/types"
)

// handleGrep runs a full-text query. The scan runs on its own goroutine-like
// budget: the request context carries client cancellation, so a disconnect
// aborts the worker between files, and the hard timeout turns into a 200 with
// timedOut and the partial results.
func (s *Server) handleGrep(w http.ResponseWriter, r *http.Request) {
	pattern := queryString(r, "pattern", "")
	if pattern == "" {
		pattern = queryString(r, "query", "")
	}
	if pattern == "" {
		writeError(w, uerr.BadRequest("parameter pattern is required"))
		return
	}
	isRegex, err := queryBool(r, "regex", true)
	if err != nil {
		writeError(w, err)
		return
	}
	caseSensitive, err := queryBool(r, "caseSensitive", false)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err := s.queryProject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	language, err := queryLanguage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	contextLines, err := queryInt(r, "contextLines", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if max := s.cfg.Query.MaxContextLines; contextLines > max {
		contextLines = max
	}
	maxResults, err := queryInt(r, "maxResults", 200)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.grep.Run(r.Context(), pattern, isRegex, types.GrepOptions{
		CaseSensitive: caseSensitive,
		Project:       project,
		Language:      language,
		ContextLines:  contextLines,
		MaxResults:    maxResults,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Matches == nil {
		result.Matches = []types.GrepMatch{}
	}
	writeJSON(w, http.StatusOK, result)
}
