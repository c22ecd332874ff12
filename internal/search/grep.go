// Package search executes full-text queries: trigram-driven candidate
// selection over the durable store with an in-process regex scan, and the
// external-engine fast path when it is healthy.
package search

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/trigram"
	"github.com/standardbeagle/uci/internal/types"
	"github.com/standardbeagle/uci/internal/zoekt"
)

// Engine names reported in grep responses.
const (
	EngineZoekt    = "zoekt"
	EngineInternal = "internal"
)

// Result is one grep execution. TimedOut results are partial, not failed:
// the matches found before the budget lapsed are returned with the scan
// coverage counters.
type Result struct {
	Matches       []types.GrepMatch `json:"matches"`
	FilesSearched int               `json:"filesSearched"`
	TotalFiles    int               `json:"totalFiles"`
	TimedOut      bool              `json:"timedOut"`
	SearchEngine  string            `json:"searchEngine"`
}

// Grep owns the scan paths.
type Grep struct {
	store   *store.Store
	engine  *zoekt.Driver
	prefix  func() string
	log     zerolog.Logger
	timeout time.Duration
}

// New creates the grep executor. engine may be nil when the external binary
// is not installed; prefix supplies the mirror's indexed-path prefix so
// engine results rebase onto real file paths.
func New(st *store.Store, engine *zoekt.Driver, prefix func() string, timeout time.Duration, log zerolog.Logger) *Grep {
	if timeout <= 0 {
		timeout = types.DefaultGrepTimeout
	}
	if prefix == nil {
		prefix = func() string { return "" }
	}
	return &Grep{store: st, engine: engine, prefix: prefix,
		log: log.With().Str("component", "grep").Logger(), timeout: timeout}
}

// Run executes one grep. The context carries client cancellation; the hard
// timeout is layered on top. The external engine is tried first when healthy;
// any engine failure falls back to the internal scanner transparently.
func (g *Grep) Run(ctx context.Context, pattern string, isRegex bool, opts types.GrepOptions) (*Result, error) {
	re, err := compile(pattern, isRegex, opts.CaseSensitive)
	if err != nil {
		return nil, uerr.BadRequest("invalid regex: %s", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.engine != nil && g.engine.Healthy() {
		if res, err := g.runEngine(ctx, pattern, opts); err == nil {
			return res, nil
		} else {
			g.log.Debug().Err(err).Msg("engine grep failed, falling back to internal scanner")
		}
	}
	return g.runInternal(ctx, pattern, isRegex, re, opts)
}

func (g *Grep) runEngine(ctx context.Context, pattern string, opts types.GrepOptions) (*Result, error) {
	matches, err := g.engine.Search(ctx, pattern, opts, g.prefix())
	if err != nil {
		return nil, err
	}
	if opts.MaxResults > 0 && len(matches) > opts.MaxResults {
		matches = matches[:opts.MaxResults]
	}
	return &Result{Matches: matches, SearchEngine: EngineZoekt}, nil
}

// runInternal reduces the pattern to per-branch required trigram sets,
// unions the branch candidate file sets, and regex-scans the decompressed
// content of each candidate. The abort check runs between files.
func (g *Grep) runInternal(ctx context.Context, pattern string, isRegex bool, re *regexp.Regexp, opts types.GrepOptions) (*Result, error) {
	filter := store.CandidateFilter{Project: opts.Project, Language: opts.Language}

	var candidates []types.FileID
	total := 0
	branches := trigram.BranchTrigrams(pattern, isRegex)
	if branches == nil {
		// Unindexable pattern: scan everything that passes the filter.
		files, err := g.store.GetAllFiles(ctx)
		if err != nil {
			return nil, err
		}
		total = len(files)
		for _, f := range files {
			if opts.Project != "" && f.Project != opts.Project {
				continue
			}
			if opts.Language != "" && f.Language != opts.Language {
				continue
			}
			if !f.Language.HasSource() {
				continue
			}
			candidates = append(candidates, f.ID)
		}
	} else {
		seen := make(map[types.FileID]bool)
		for _, branch := range branches {
			ids, err := g.store.GetTrigramCandidates(ctx, branch, filter)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				if !seen[id] {
					seen[id] = true
					candidates = append(candidates, id)
				}
			}
		}
		if stats, err := g.store.GetStats(ctx); err == nil {
			total = stats.Files
		}
	}

	res := &Result{TotalFiles: total, SearchEngine: EngineInternal}
	for _, id := range candidates {
		if ctx.Err() != nil {
			res.TimedOut = true
			break
		}
		file, err := g.store.GetFile(ctx, id)
		if err != nil {
			continue
		}
		content, err := g.store.GetContent(ctx, id)
		if err != nil {
			continue
		}
		res.FilesSearched++
		g.scanFile(file, content, re, opts, res)
		if opts.MaxResults > 0 && len(res.Matches) >= opts.MaxResults {
			break
		}
	}
	return res, nil
}

// scanFile collects every matching line of one file with its context window.
func (g *Grep) scanFile(file types.FileRecord, content []byte, re *regexp.Regexp, opts types.GrepOptions, res *Result) {
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		if !re.MatchString(line) {
			continue
		}
		m := types.GrepMatch{
			Path:         file.Path,
			RelativePath: file.RelativePath,
			Project:      file.Project,
			Language:     file.Language,
			Line:         i + 1,
			Text:         line,
		}
		if n := opts.ContextLines; n > 0 {
			lo := i - n
			if lo < 0 {
				lo = 0
			}
			hi := i + n
			if hi > len(lines)-1 {
				hi = len(lines) - 1
			}
			m.Before = append([]string(nil), lines[lo:i]...)
			m.After = append([]string(nil), lines[i+1:hi+1]...)
		}
		res.Matches = append(res.Matches, m)
		if opts.MaxResults > 0 && len(res.Matches) >= opts.MaxResults {
			return
		}
	}
}

// compile builds the scan regex. Literal patterns are quoted; insensitive
// matching folds through the (?i) flag rather than lowering content copies.
func compile(pattern string, isRegex, caseSensitive bool) (*regexp.Regexp, error) {
	expr := pattern
	if !isRegex {
		expr = regexp.QuoteMeta(pattern)
	}
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	return regexp.Compile(expr)
}
