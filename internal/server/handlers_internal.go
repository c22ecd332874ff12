package server

import (
	"encoding/json"
	"net/http"

	"github.com/standardbeagle/uci/internal/analytics"
	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/ingest"
)

// handleIngest is the watcher's bulk-upsert entry point.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, uerr.BadRequest("invalid ingest body: %s", err))
		return
	}
	resp, err := s.ingest.Process(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleToolCall appends one bridge analytics record. The sink is fire and
// forget; a full queue drops silently rather than slowing the bridge down.
func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var rec analytics.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, uerr.BadRequest("invalid tool-call body: %s", err))
		return
	}
	if rec.Tool == "" {
		writeError(w, uerr.BadRequest("tool is required"))
		return
	}
	s.sink.Append(rec)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleToolCallStats serves the per-tool aggregation of the analytics sink.
func (s *Server) handleToolCallStats(w http.ResponseWriter, r *http.Request) {
	agg, err := s.sink.Aggregate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": agg})
}
