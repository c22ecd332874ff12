package zoekt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/types"
)

// languageFileRegex maps a language class to the engine's file-name filter.
var languageFileRegex = map[types.Language]string{
	types.LangAngelScript: `\.as$`,
	types.LangCpp:         `\.(h|hpp|hxx|cpp|cc|cxx|inl)$`,
	types.LangConfig:      `\.(ini|cfg)$`,
}

// metacharacters that force a pattern to be sent as a regex atom.
var regexMeta = regexp.MustCompile(`[.*+?()\[\]{}|^$\\]`)

// searchRequest is the engine's /api/search body.
type searchRequest struct {
	Q    string        `json:"Q"`
	Opts searchOptions `json:"Opts"`
}

type searchOptions struct {
	MaxDocDisplayCount int  `json:"MaxDocDisplayCount"`
	NumContextLines    int  `json:"NumContextLines"`
	TotalMaxMatchCount int  `json:"TotalMaxMatchCount"`
	Whole              bool `json:"Whole"`
}

// searchResponse mirrors the fields of the engine's reply that the core
// consumes. Byte fields arrive base64-encoded and decode transparently
// through []byte.
type searchResponse struct {
	Result struct {
		Files []struct {
			FileName    string `json:"FileName"`
			Repository  string `json:"Repository"`
			LineMatches []struct {
				Line       []byte `json:"Line"`
				LineNumber int    `json:"LineNumber"`
				Before     []byte `json:"Before"`
				After      []byte `json:"After"`
			} `json:"LineMatches"`
		} `json:"Files"`
	} `json:"Result"`
}

// Search translates a grep query to the engine's JSON RPC and maps the reply
// back to the core's match shape. Paths come back mirror-relative and are
// rebased onto indexed paths by prepending pathPrefix when it is set.
func (d *Driver) Search(ctx context.Context, pattern string, opts types.GrepOptions, pathPrefix string) ([]types.GrepMatch, error) {
	q := buildQuery(pattern, opts)

	maxDocs := opts.MaxResults
	if maxDocs <= 0 {
		maxDocs = 200
	}
	body, err := json.Marshal(searchRequest{
		Q: q,
		Opts: searchOptions{
			MaxDocDisplayCount: maxDocs,
			NumContextLines:    opts.ContextLines,
			TotalMaxMatchCount: maxDocs * 10,
		},
	})
	if err != nil {
		return nil, uerr.Internal("encode engine query", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	url := fmt.Sprintf("http://127.0.0.1:%d/api/search", d.opts.WebPort)
	req, err := http.NewRequestWithContext(rpcCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, uerr.Internal("build engine request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.healthy.Store(false)
		return nil, uerr.Unavailable("engine query", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, uerr.Newf(uerr.KindUnavailable, "engine query returned %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, uerr.Internal("decode engine response", err)
	}

	var matches []types.GrepMatch
	for _, f := range decoded.Result.Files {
		path := f.FileName
		if pathPrefix != "" {
			path = pathPrefix + "/" + strings.TrimPrefix(path, "/")
		}
		for _, lm := range f.LineMatches {
			m := types.GrepMatch{
				Path: types.CleanPath(path),
				Line: lm.LineNumber,
				Text: string(lm.Line),
			}
			if len(lm.Before) > 0 {
				m.Before = splitContext(lm.Before)
			}
			if len(lm.After) > 0 {
				m.After = splitContext(lm.After)
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// buildQuery composes the engine query string: the pattern (wrapped as a
// regex atom when metacharacters are present), the case flag, and file-name
// constraints for language and project.
func buildQuery(pattern string, opts types.GrepOptions) string {
	var parts []string
	if regexMeta.MatchString(pattern) {
		parts = append(parts, fmt.Sprintf("regex:%q", pattern))
	} else {
		parts = append(parts, fmt.Sprintf("content:%q", pattern))
	}
	if opts.CaseSensitive {
		parts = append(parts, "case:yes")
	} else {
		parts = append(parts, "case:no")
	}
	if ext, ok := languageFileRegex[opts.Language]; ok && opts.Language != "" {
		parts = append(parts, fmt.Sprintf("file:%q", ext))
	}
	if opts.Project != "" {
		parts = append(parts, fmt.Sprintf("file:%q", "^"+regexp.QuoteMeta(opts.Project)+"/"))
	}
	return strings.Join(parts, " ")
}

func splitContext(raw []byte) []string {
	return strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
}
