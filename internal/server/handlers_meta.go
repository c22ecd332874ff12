package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/standardbeagle/uci/internal/types"
)

// handleHealth is the liveness probe. It touches nothing that can block: no
// store, no pool, no engine, only a trivial memory probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"memory": map[string]any{
			"allocBytes": mem.Alloc,
			"sysBytes":   mem.Sys,
			"numGC":      mem.NumGC,
		},
		"memoryIndex": map[string]any{
			"loaded": s.index.Loaded(),
			"files":  s.index.Current().FileCount(),
		},
		"searchEngine": map[string]any{
			"healthy": s.engine != nil && s.engine.Healthy(),
		},
	})
}

// handleStatus returns the per-language index status. Languages never
// ingested report as unknown.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.GetIndexStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	known := make(map[types.Language]bool, len(statuses))
	for _, st := range statuses {
		known[st.Language] = true
	}
	for _, lang := range []types.Language{types.LangAngelScript, types.LangCpp, types.LangContent, types.LangConfig} {
		if !known[lang] {
			statuses = append(statuses, types.IndexStatus{Language: lang, State: types.StateUnknown})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSummary composes the workspace overview: stats, projects, languages,
// last build record, and statuses.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	statuses, err := s.store.GetIndexStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	lastBuild, err := s.store.GetMetadata(r.Context(), "last_build")
	if err != nil {
		writeError(w, err)
		return
	}

	languages := make([]string, 0, len(stats.ByLanguage))
	for lang := range stats.ByLanguage {
		languages = append(languages, lang)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generatedAt": time.Now().UTC().Format(time.RFC3339),
		"stats":       stats,
		"projects":    s.cfg.ProjectNames(),
		"languages":   languages,
		"lastBuild":   lastBuild,
		"statuses":    statuses,
		"memoryIndex": map[string]any{"loaded": s.index.Loaded()},
	})
}

// handleRefresh asks the watcher for a full or per-language rebuild. The
// request is acknowledged immediately; the watcher picks the flag up on its
// next heartbeat.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	lang, err := queryLanguage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.watcher.RequestRefresh(lang)
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "language": lang})
}

func (s *Server) handleStopWatcher(w http.ResponseWriter, r *http.Request) {
	s.watcher.RequestStop()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleWatcherFlags(w http.ResponseWriter, r *http.Request) {
	stop, refresh, langs := s.watcher.Flags()
	writeJSON(w, http.StatusOK, map[string]any{
		"stopRequested":    stop,
		"refreshRequested": refresh,
		"refreshLanguages": langs,
	})
}
