package server

import (
	"net/http"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/memindex"
	"github.com/standardbeagle/uci/internal/types"
)

// explainResponse composes a type's definition, members, and children in one
// payload. Each section has its own budget so a god-class with hundreds of
// functions cannot crowd out the rest.
type explainResponse struct {
	Type       *typeResponse    `json:"type"`
	Functions  []memberResponse `json:"functions"`
	Properties []memberResponse `json:"properties"`
	EnumValues []memberResponse `json:"enumValues,omitempty"`
	Children   []memindex.TypeResult `json:"children"`
	Truncated  map[string]bool  `json:"truncated,omitempty"`
}

func (s *Server) handleExplainType(w http.ResponseWriter, r *http.Request) {
	name := queryString(r, "name", "")
	if name == "" {
		writeError(w, uerr.BadRequest("parameter name is required"))
		return
	}
	if !s.index.Loaded() {
		writeJSON(w, http.StatusOK, loadingResponse("results"))
		return
	}
	filter, err := s.typeFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	maxFunctions, err := queryInt(r, "maxFunctions", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	maxProperties, err := queryInt(r, "maxProperties", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	maxChildren, err := queryInt(r, "maxChildren", 20)
	if err != nil {
		writeError(w, err)
		return
	}
	recursive, err := queryBool(r, "recursive", false)
	if err != nil {
		writeError(w, err)
		return
	}
	contextLines, err := queryInt(r, "contextLines", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	snap := s.index.Current()
	typeHits := snap.FindTypes(name, false, filter, 1)
	if len(typeHits) == 0 {
		// Fall back to fuzzy so a near-miss name still explains something.
		typeHits = snap.FindTypes(name, true, filter, 1)
	}
	if len(typeHits) == 0 {
		writeError(w, uerr.NotFound("type %q not indexed", name))
		return
	}
	hit := typeHits[0]

	resp := explainResponse{
		Type:       &typeResponse{TypeResult: hit},
		Functions:  []memberResponse{},
		Properties: []memberResponse{},
		Children:   []memindex.TypeResult{},
		Truncated:  map[string]bool{},
	}
	if contextLines > 0 {
		resp.Type.Context = s.attachContext(r.Context(), hit.FileID, hit.Line, contextLines)
	}

	// Each member kind gets its own independent budget; every member is
	// fetched, and one past the budget marks its section truncated.
	members := snap.FindMembers("", false, hit.Name, "", memindex.Filter{}, 0)
	for _, m := range members {
		var bucket *[]memberResponse
		var budget int
		var key string
		switch m.Kind {
		case types.MemberFunction:
			bucket, budget, key = &resp.Functions, maxFunctions, "functions"
		case types.MemberProperty:
			bucket, budget, key = &resp.Properties, maxProperties, "properties"
		case types.MemberEnumValue:
			bucket, budget, key = &resp.EnumValues, maxProperties, "enumValues"
		default:
			continue
		}
		if budget > 0 && len(*bucket) >= budget {
			resp.Truncated[key] = true
			continue
		}
		entry := memberResponse{MemberResult: m}
		if contextLines > 0 {
			entry.Context = s.attachContext(r.Context(), m.FileID, m.Line, contextLines)
		}
		*bucket = append(*bucket, entry)
	}

	children := snap.Children(hit.Name, recursive, filter, maxChildren+1)
	if maxChildren > 0 && len(children) > maxChildren {
		children = children[:maxChildren]
		resp.Truncated["children"] = true
	}
	resp.Children = children

	if len(resp.Truncated) == 0 {
		resp.Truncated = nil
	}
	writeJSON(w, http.StatusOK, resp)
}
