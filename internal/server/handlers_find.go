package server

import (
	"context"
	"database/sql"
	"net/http"
	"sort"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/memindex"
	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/types"
)

// storeFilter mirrors the memory-index filter for store-side queries.
func storeFilter(project string, language types.Language) store.CandidateFilter {
	return store.CandidateFilter{Project: project, Language: language}
}

const defaultResultLimit = 20

// typeResponse is one /find-type result with optional source context.
type typeResponse struct {
	memindex.TypeResult
	Context *SourceContext `json:"context,omitempty"`
}

func (s *Server) handleFindType(w http.ResponseWriter, r *http.Request) {
	name := queryString(r, "name", "")
	if name == "" {
		writeError(w, uerr.BadRequest("parameter name is required"))
		return
	}
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("results"))
		return
	}
	// Types default to exact lookup; fuzzy is opt-in (assets are the other
	// way around).
	fuzzy, err := queryBool(r, "fuzzy", false)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := s.typeFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultResultLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	contextLines, err := queryInt(r, "contextLines", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	results := s.index.Current().FindTypes(name, fuzzy, filter, limit)
	out := make([]typeResponse, 0, len(results))
	for _, res := range results {
		entry := typeResponse{TypeResult: res}
		if contextLines > 0 {
			entry.Context = s.attachContext(r.Context(), res.FileID, res.Line, contextLines)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// memberResponse is one /find-member result with optional signature and
// context.
type memberResponse struct {
	memindex.MemberResult
	Signature string         `json:"signature,omitempty"`
	Context   *SourceContext `json:"context,omitempty"`
}

func (s *Server) handleFindMember(w http.ResponseWriter, r *http.Request) {
	name := queryString(r, "name", "")
	containingType := queryString(r, "containingType", "")
	if name == "" && containingType == "" {
		writeError(w, uerr.BadRequest("parameter name or containingType is required"))
		return
	}
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("results"))
		return
	}
	fuzzy, err := queryBool(r, "fuzzy", false)
	if err != nil {
		writeError(w, err)
		return
	}
	memberKind := types.MemberKind(queryString(r, "memberKind", ""))
	if memberKind != "" && !memberKind.Valid() {
		writeError(w, uerr.BadRequest("unknown memberKind %q", memberKind))
		return
	}
	filter, err := s.typeFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultResultLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	includeSignatures, err := queryBool(r, "includeSignatures", false)
	if err != nil {
		writeError(w, err)
		return
	}
	contextLines, err := queryInt(r, "contextLines", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	results := s.index.Current().FindMembers(name, fuzzy, containingType, memberKind, filter, limit)
	out := make([]memberResponse, 0, len(results))
	for _, res := range results {
		entry := memberResponse{MemberResult: res}
		if includeSignatures {
			if res.Signature != "" {
				entry.Signature = res.Signature
			} else {
				entry.Signature = s.readSignature(r.Context(), res.FileID, res.Line)
			}
		}
		if contextLines > 0 {
			entry.Context = s.attachContext(r.Context(), res.FileID, res.Line, contextLines)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleFindChildren(w http.ResponseWriter, r *http.Request) {
	name := queryString(r, "name", "")
	if name == "" {
		writeError(w, uerr.BadRequest("parameter name is required"))
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
	filter, err := s.typeFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 200)
	if err != nil {
		writeError(w, err)
		return
	}
	results := s.index.Current().Children(name, recursive, filter, limit)
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "recursive": recursive})
}

func (s *Server) handleFindFile(w http.ResponseWriter, r *http.Request) {
	name := queryString(r, "name", "")
	if name == "" {
		writeError(w, uerr.BadRequest("parameter name is required"))
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
	limit, err := queryInt(r, "limit", defaultResultLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	// File-name lookups live in the durable store, not the memory index, so
	// they ride the query pool.
	value, err := s.pool.Do(r.Context(), func(ctx context.Context, conn *sql.Conn) (any, error) {
		return s.store.FindFilesByName(ctx, conn, name,
			storeFilter(project, language), limit)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	files, _ := value.([]types.FileRecord)
	writeJSON(w, http.StatusOK, map[string]any{"results": files})
}

func (s *Server) handleBrowseModule(w http.ResponseWriter, r *http.Request) {
	module := queryString(r, "module", "")
	if module == "" {
		writeError(w, uerr.BadRequest("parameter module is required"))
		return
	}
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("types"))
		return
	}
	limit, err := queryInt(r, "limit", 500)
	if err != nil {
		writeError(w, err)
		return
	}
	contents, ok := s.index.Current().BrowseModule(module, limit)
	if !ok {
		writeError(w, uerr.NotFound("module %q not indexed", module))
		return
	}
	writeJSON(w, http.StatusOK, contents)
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	parent := queryString(r, "parent", "")
	depth, err := queryInt(r, "depth", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	if depth < 1 || depth > 10 {
		writeError(w, uerr.BadRequest("depth must be between 1 and 10"))
		return
	}
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("modules"))
		return
	}
	children, ok := s.index.Current().ListModules(parent, depth)
	if !ok {
		writeError(w, uerr.NotFound("module %q not indexed", parent))
		return
	}
	if children == nil {
		children = []memindex.ModuleChild{}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"parent": parent, "modules": children})
}

// typeFilter assembles the common project/language/kind narrowing.
func (s *Server) typeFilter(r *http.Request) (memindex.Filter, error) {
	project, err := s.queryProject(r)
	if err != nil {
		return memindex.Filter{}, err
	}
	language, err := queryLanguage(r)
	if err != nil {
		return memindex.Filter{}, err
	}
	kind := queryString(r, "kind", "")
	if kind != "" && !types.TypeKind(kind).Valid() {
		return memindex.Filter{}, uerr.BadRequest("unknown kind %q", kind)
	}
	return memindex.Filter{Project: project, Language: language, Kind: kind}, nil
}
