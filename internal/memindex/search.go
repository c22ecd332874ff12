package memindex

import (
	"sort"
	"strings"

	"github.com/standardbeagle/uci/internal/trigram"
	"github.com/standardbeagle/uci/internal/types"
)

// Filter narrows type and member queries.
type Filter struct {
	Project  string
	Language types.Language
	Kind     string
}

func (f Filter) matchFile(file types.FileRecord) bool {
	if f.Project != "" && file.Project != f.Project {
		return false
	}
	if f.Language != "" && file.Language != f.Language {
		return false
	}
	return true
}

// TypeResult is one scored, deduplicated find-type hit.
type TypeResult struct {
	Name               string         `json:"name"`
	Kind               types.TypeKind `json:"kind"`
	Parent             string         `json:"parent,omitempty"`
	Line               int            `json:"line"`
	Specifiers         []string       `json:"specifiers,omitempty"`
	Path               string         `json:"path"`
	RelativePath       string         `json:"relativePath"`
	Project            string         `json:"project"`
	Language           types.Language `json:"language"`
	Module             string         `json:"module"`
	Score              float64        `json:"score"`
	ImplementationPath string         `json:"implementationPath,omitempty"`
	FileID             types.FileID   `json:"-"`
}

func typeResult(e *TypeEntry, score float64) TypeResult {
	return TypeResult{
		Name:         e.Decl.Name,
		Kind:         e.Decl.Kind,
		Parent:       e.Decl.ParentName,
		Line:         e.Decl.Line,
		Specifiers:   e.Decl.Specifiers,
		Path:         e.File.Path,
		RelativePath: e.File.RelativePath,
		Project:      e.File.Project,
		Language:     e.File.Language,
		Module:       e.File.Module,
		Score:        score,
		FileID:       e.File.ID,
	}
}

// FindTypes answers a type-name query. With fuzzy off only exact (then
// case-insensitive) name hits are returned; with fuzzy on, prefix, substring,
// and trigram candidates are scored and ranked. Results are deduplicated by
// (name, kind) with header files preferred and implementation twins attached
// as implementationPath.
func (s *Snapshot) FindTypes(name string, fuzzy bool, filter Filter, limit int) []TypeResult {
	queryLower := strings.ToLower(name)
	var candidates map[*TypeEntry]struct{}
	if fuzzy {
		candidates = s.fuzzyTypeCandidates(queryLower)
	} else {
		candidates = make(map[*TypeEntry]struct{})
		for _, e := range s.byExactName[name] {
			candidates[e] = struct{}{}
		}
		if len(candidates) == 0 {
			for _, e := range s.byLowerName[queryLower] {
				candidates[e] = struct{}{}
			}
		}
	}

	scored := make([]scoredType, 0, len(candidates))
	for e := range candidates {
		if !filter.matchFile(e.File) {
			continue
		}
		if filter.Kind != "" && string(e.Decl.Kind) != filter.Kind {
			continue
		}
		score := scoreType(name, queryLower, e)
		if score <= 0 {
			continue
		}
		scored = append(scored, scoredType{entry: e, score: score})
	}

	results := dedupeTypes(scored)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

type scoredType struct {
	entry *TypeEntry
	score float64
}

// fuzzyTypeCandidates gathers candidates from the substring (2-byte shingle)
// partitions, or the lowercase-name map for one-byte queries, and from the
// trigram structure. Trigram candidates must clear the per-length overlap
// threshold.
func (s *Snapshot) fuzzyTypeCandidates(queryLower string) map[*TypeEntry]struct{} {
	candidates := make(map[*TypeEntry]struct{})

	// Substring candidates through the shingle partitions: a containing name
	// holds every shingle of the query, so the rarest query shingle's
	// partition covers all of them.
	if len(queryLower) >= 2 {
		var best []string
		first := true
		for _, sh := range shingles(queryLower) {
			part := s.substringPartitions[sh]
			if first || len(part) < len(best) {
				best = part
				first = false
			}
		}
		for _, lower := range best {
			if strings.Contains(lower, queryLower) {
				for _, e := range s.byLowerName[lower] {
					candidates[e] = struct{}{}
				}
			}
		}
	} else {
		// One-byte queries degenerate to exact lookups.
		for _, e := range s.byLowerName[queryLower] {
			candidates[e] = struct{}{}
		}
	}

	// Trigram candidates with overlap counting for typo tolerance.
	queryTrigrams := trigram.ExtractString(queryLower)
	if len(queryTrigrams) > 0 {
		need := int(trigramThreshold(len(queryLower))*float64(len(queryTrigrams)) + 0.5)
		if need < 1 {
			need = 1
		}
		counts := make(map[*TypeEntry]int)
		for _, tg := range queryTrigrams {
			for _, e := range s.byTrigram[tg] {
				counts[e]++
			}
		}
		for e, n := range counts {
			if n >= need {
				candidates[e] = struct{}{}
			}
		}
	}
	return candidates
}

// dedupeTypes keeps the best record per (name, kind) and attaches a losing
// implementation file as implementationPath when the winner is a header.
// Sorting is total (score, then header-before-implementation, then path) so
// results are order-stable across runs.
func dedupeTypes(scored []scoredType) []TypeResult {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		iHeader, jHeader := types.IsHeaderPath(scored[i].entry.File.Path), types.IsHeaderPath(scored[j].entry.File.Path)
		if iHeader != jHeader {
			return iHeader
		}
		if scored[i].entry.File.Path != scored[j].entry.File.Path {
			return scored[i].entry.File.Path < scored[j].entry.File.Path
		}
		return scored[i].entry.Decl.Line < scored[j].entry.Decl.Line
	})

	type key struct {
		name string
		kind types.TypeKind
	}
	kept := make(map[key]int)
	var results []TypeResult
	for _, sc := range scored {
		k := key{sc.entry.Decl.Name, sc.entry.Decl.Kind}
		if idx, ok := kept[k]; ok {
			// Secondary record: remember the implementation twin of a kept
			// header, drop everything else.
			r := &results[idx]
			if r.ImplementationPath == "" &&
				types.IsHeaderPath(r.Path) && types.IsImplementationPath(sc.entry.File.Path) {
				r.ImplementationPath = sc.entry.File.Path
			}
			continue
		}
		kept[k] = len(results)
		results = append(results, typeResult(sc.entry, sc.score))
	}
	return results
}

// MemberResult is one find-member hit.
type MemberResult struct {
	Name         string           `json:"name"`
	Kind         types.MemberKind `json:"kind"`
	Owner        string           `json:"owner,omitempty"`
	Line         int              `json:"line"`
	Signature    string           `json:"signature,omitempty"`
	Specifiers   []string         `json:"specifiers,omitempty"`
	Path         string           `json:"path"`
	RelativePath string           `json:"relativePath"`
	Project      string           `json:"project"`
	Language     types.Language   `json:"language"`
	Score        float64          `json:"score"`
	FileID       types.FileID     `json:"-"`
}

func memberResult(e *MemberEntry, score float64) MemberResult {
	return MemberResult{
		Name:         e.Member.Name,
		Kind:         e.Member.Kind,
		Owner:        e.Member.OwnerName,
		Line:         e.Member.Line,
		Specifiers:   e.Member.Specifiers,
		Path:         e.File.Path,
		RelativePath: e.File.RelativePath,
		Project:      e.File.Project,
		Language:     e.File.Language,
		Score:        score,
		FileID:       e.File.ID,
	}
}

// FindMembers answers a member-name query, optionally narrowed to a
// containing type and member kind. Signatures are attached by the handler,
// which owns content access.
func (s *Snapshot) FindMembers(name string, fuzzy bool, containingType string, memberKind types.MemberKind, filter Filter, limit int) []MemberResult {
	queryLower := strings.ToLower(name)

	var pool []*MemberEntry
	switch {
	case containingType != "":
		pool = s.memberByOwner[containingType]
	case fuzzy:
		// Member fuzzy stays cheaper than type fuzzy: case-insensitive plus
		// prefix over the lower map would mean a full scan, so the lowered
		// name bucket is the candidate set unless an owner bounds the pool.
		pool = s.memberByLower[queryLower]
	default:
		pool = s.memberByName[name]
		if len(pool) == 0 {
			pool = s.memberByLower[queryLower]
		}
	}

	var results []MemberResult
	for _, e := range pool {
		if !filter.matchFile(e.File) {
			continue
		}
		if memberKind != "" && e.Member.Kind != memberKind {
			continue
		}
		var score float64
		if name == "" {
			// Owner-only browse: every member of the type qualifies.
			score = 1.0 + pathSignal(e.File.Path)
		} else {
			ns := nameScore(name, queryLower, e.Member.Name)
			if ns == 0 {
				continue
			}
			if !fuzzy && ns < prefixWeight {
				continue
			}
			score = ns + pathSignal(e.File.Path)
		}
		results = append(results, memberResult(e, score))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Path != results[j].Path {
			return results[i].Path < results[j].Path
		}
		return results[i].Line < results[j].Line
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Children walks the parent→children graph from root. With recursive on, the
// walk is a BFS with a visited set: degenerate data can contain cycles
// (forward-declared bases resolving to each other).
func (s *Snapshot) Children(root string, recursive bool, filter Filter, limit int) []TypeResult {
	var results []TypeResult
	visited := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]
		children := s.parentToChildren[parent]
		for _, e := range children {
			if !filter.matchFile(e.File) {
				continue
			}
			results = append(results, typeResult(e, 0))
			if limit > 0 && len(results) >= limit {
				return results
			}
			if recursive && !visited[e.Decl.Name] {
				visited[e.Decl.Name] = true
				queue = append(queue, e.Decl.Name)
			}
		}
	}
	return results
}

// ModuleContents is the /browse-module payload.
type ModuleContents struct {
	Module string             `json:"module"`
	Types  []TypeResult       `json:"types"`
	Files  []types.FileRecord `json:"files"`
}

// BrowseModule returns the types and files whose module equals module or
// begins with module + ".".
func (s *Snapshot) BrowseModule(module string, limit int) (ModuleContents, bool) {
	node := s.moduleTree.locate(module, false)
	if node == nil {
		return ModuleContents{Module: module}, false
	}
	var entries []*TypeEntry
	var files []types.FileRecord
	node.collect(&entries, &files)
	out := ModuleContents{Module: module, Files: files}
	for _, e := range entries {
		out.Types = append(out.Types, typeResult(e, 0))
		if limit > 0 && len(out.Types) >= limit {
			break
		}
	}
	if limit > 0 && len(out.Files) > limit {
		out.Files = out.Files[:limit]
	}
	return out, true
}

// ListModules renders the children of a parent module path down to depth.
// An empty parent lists the project roots.
func (s *Snapshot) ListModules(parent string, depth int) ([]ModuleChild, bool) {
	node := s.moduleTree.locate(parent, false)
	if node == nil {
		return nil, false
	}
	return node.listChildren(parent, depth), true
}
