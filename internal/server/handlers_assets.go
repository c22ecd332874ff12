package server

import (
	"net/http"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/memindex"
)

// Asset queries default to fuzzy matching (substring with prefix preference),
// the opposite of type queries: content-browser names are long and prefixed
// (BP_, SM_, T_), and callers almost never type them exactly.

func (s *Server) handleFindAsset(w http.ResponseWriter, r *http.Request) {
	name := queryString(r, "name", "")
	if name == "" {
		writeError(w, uerr.BadRequest("parameter name is required"))
		return
	}
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("results"))
		return
	}
	fuzzy, err := queryBool(r, "fuzzy", true)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err := s.queryProject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultResultLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	results := s.index.Current().FindAssets(name, fuzzy, project, limit)
	if results == nil {
		results = []memindex.AssetResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleBrowseAssets(w http.ResponseWriter, r *http.Request) {
	folder := queryString(r, "folder", "")
	if folder == "" {
		writeError(w, uerr.BadRequest("parameter folder is required"))
		return
	}
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("results"))
		return
	}
	recursive, err := queryBool(r, "recursive", false)
	if err != nil {
		writeError(w, err)
		return
	}
	project, err := s.queryProject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 200)
	if err != nil {
		writeError(w, err)
		return
	}
	results := s.index.Current().BrowseAssets(folder, recursive, project, limit)
	writeJSON(w, http.StatusOK, map[string]any{"folder": folder, "results": results})
}

func (s *Server) handleListAssetFolders(w http.ResponseWriter, r *http.Request) {
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("folders"))
		return
	}
	prefix := queryString(r, "prefix", "")
	folders := s.index.Current().ListAssetFolders(prefix)
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (s *Server) handleAssetStats(w http.ResponseWriter, r *http.Request) {
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("stats"))
		return
	}
	writeJSON(w, http.StatusOK, s.index.Current().AssetStatistics())
}
