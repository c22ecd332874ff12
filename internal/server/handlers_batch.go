package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/types"
)

// batchQuery is one inner query. The method set is closed; anything else
// errors individually without failing its siblings.
type batchQuery struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params,omitempty"`
}

type batchRequest struct {
	Queries []batchQuery `json:"queries"`
	// Forwarded into every inner member/type query unless the query sets its
	// own value.
	ContextLines      *int  `json:"contextLines,omitempty"`
	IncludeSignatures *bool `json:"includeSignatures,omitempty"`
}

type batchResult struct {
	Method string `json:"method"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// batchMethods is the static dispatch table of inner-query kinds.
func (s *Server) batchMethods() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"find-type":          s.handleFindType,
		"find-member":        s.handleFindMember,
		"find-children":      s.handleFindChildren,
		"find-file":          s.handleFindFile,
		"browse-module":      s.handleBrowseModule,
		"list-modules":       s.handleListModules,
		"find-asset":         s.handleFindAsset,
		"browse-assets":      s.handleBrowseAssets,
		"list-asset-folders": s.handleListAssetFolders,
		"asset-stats":        s.handleAssetStats,
		"stats":              s.handleStats,
		"status":             s.handleStatus,
	}
}

// handleBatch executes up to 10 inner queries in sequence. Results are
// isolated: an invalid method or failing query errors its own entry only.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, uerr.BadRequest("invalid batch body: %s", err))
		return
	}
	if len(req.Queries) == 0 {
		writeError(w, uerr.BadRequest("batch requires at least one query"))
		return
	}
	if len(req.Queries) > types.DefaultMaxBatchQueries {
		writeError(w, uerr.BadRequest("batch is limited to %d queries, got %d",
			types.DefaultMaxBatchQueries, len(req.Queries)))
		return
	}

	methods := s.batchMethods()
	prefix := s.mirror.Prefix()
	results := make([]batchResult, 0, len(req.Queries))
	for _, q := range req.Queries {
		handler, ok := methods[q.Method]
		if !ok {
			results = append(results, batchResult{Method: q.Method, Error: "unknown method"})
			continue
		}

		values := url.Values{}
		for k, v := range q.Params {
			values.Set(k, v)
		}
		if req.ContextLines != nil && values.Get("contextLines") == "" {
			values.Set("contextLines", strconv.Itoa(*req.ContextLines))
		}
		if req.IncludeSignatures != nil && values.Get("includeSignatures") == "" {
			if *req.IncludeSignatures {
				values.Set("includeSignatures", "true")
			} else {
				values.Set("includeSignatures", "false")
			}
		}

		inner := r.Clone(r.Context())
		inner.Method = http.MethodGet
		inner.URL = &url.URL{Path: "/" + q.Method, RawQuery: values.Encode()}
		inner.Body = http.NoBody

		rec := newRecorder()
		handler(rec, inner)

		entry := batchResult{Method: q.Method}
		var payload any
		if err := json.Unmarshal(rec.body.Bytes(), &payload); err != nil {
			entry.Error = "unreadable inner response"
		} else if rec.status >= 400 {
			if m, ok := payload.(map[string]any); ok {
				if msg, ok := m["error"].(string); ok {
					entry.Error = msg
				}
			}
			if entry.Error == "" {
				entry.Error = http.StatusText(rec.status)
			}
		} else {
			entry.OK = true
			entry.Result = stripPrefix(payload, prefix)
		}
		results = append(results, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// recorder is a minimal in-process ResponseWriter for inner batch queries.
type recorder struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header         { return r.header }
func (r *recorder) WriteHeader(status int)      { r.status = status }
func (r *recorder) Write(b []byte) (int, error) { return r.body.Write(b) }

// stripPrefix rewrites absolute path fields to indexed-prefix-relative form so
// downstream tools see project-relative paths.
func stripPrefix(payload any, prefix string) any {
	if prefix == "" {
		return payload
	}
	switch v := payload.(type) {
	case map[string]any:
		for k, val := range v {
			if s, ok := val.(string); ok && (k == "path" || k == "implementationPath") {
				v[k] = strings.TrimPrefix(strings.TrimPrefix(s, prefix), "/")
				continue
			}
			v[k] = stripPrefix(val, prefix)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = stripPrefix(item, prefix)
		}
		return v
	default:
		return payload
	}
}
