package memindex

import (
	"sort"
	"strings"

	"github.com/standardbeagle/uci/internal/trigram"
	"github.com/standardbeagle/uci/internal/types"
)

// FileUpdate is one upserted file with its full replacement declaration set.
type FileUpdate struct {
	File    types.FileRecord
	Types   []types.TypeDecl
	Members []types.Member
}

// Diff is one committed ingest batch in the shape the patcher consumes.
// Upserted files are treated as remove-then-add: the declaration set of a
// file is always replaced whole.
type Diff struct {
	RemovedFileIDs    []types.FileID
	UpsertFiles       []FileUpdate
	UpsertAssets      []types.Asset
	RemovedAssetPaths []string
}

// patch builds the successor snapshot. Top-level maps are cloned shallowly;
// only the slices behind affected keys are rebuilt, so unaffected structure is
// shared with the previous generation. The result must be equivalent to a
// full rebuild from the same store contents.
func (s *Snapshot) patch(diff Diff) *Snapshot {
	removed := make(map[types.FileID]bool, len(diff.RemovedFileIDs)+len(diff.UpsertFiles))
	for _, id := range diff.RemovedFileIDs {
		removed[id] = true
	}
	for _, up := range diff.UpsertFiles {
		removed[up.File.ID] = true
	}

	// Old entries owned by touched files, for key discovery.
	var oldTypes []*TypeEntry
	var oldMembers []*MemberEntry
	for id := range removed {
		oldTypes = append(oldTypes, s.typesByFile[id]...)
		oldMembers = append(oldMembers, s.membersByFile[id]...)
	}

	// New entries.
	var newTypes []*TypeEntry
	var newMembers []*MemberEntry
	for _, up := range diff.UpsertFiles {
		for _, d := range up.Types {
			d.FileID = up.File.ID
			newTypes = append(newTypes, &TypeEntry{Decl: d, File: up.File})
		}
		for _, m := range up.Members {
			m.FileID = up.File.ID
			newMembers = append(newMembers, &MemberEntry{Member: m, File: up.File})
		}
	}

	next := &Snapshot{
		files:               cloneMap(s.files),
		typesByFile:         cloneMap(s.typesByFile),
		membersByFile:       cloneMap(s.membersByFile),
		byExactName:         cloneMap(s.byExactName),
		byLowerName:         cloneMap(s.byLowerName),
		byTrigram:           cloneMap(s.byTrigram),
		substringPartitions: cloneMap(s.substringPartitions),
		parentToChildren:    cloneMap(s.parentToChildren),
		moduleTree:          s.moduleTree,
		memberByName:        cloneMap(s.memberByName),
		memberByLower:       cloneMap(s.memberByLower),
		memberByOwner:       cloneMap(s.memberByOwner),
		assetsByPath:        cloneMap(s.assetsByPath),
		assetsByLowerName:   cloneMap(s.assetsByLowerName),
		assetsByFolder:      cloneMap(s.assetsByFolder),
		assetNames:          s.assetNames,
	}

	next.patchFiles(diff, removed)
	next.patchTypes(oldTypes, newTypes, removed)
	next.patchMembers(oldMembers, newMembers, removed)
	next.patchAssets(diff)

	affectedModules := make(map[string]bool)
	for id := range removed {
		if f, ok := s.files[id]; ok {
			affectedModules[f.Module] = true
		}
	}
	for _, up := range diff.UpsertFiles {
		affectedModules[up.File.Module] = true
	}
	for module := range affectedModules {
		next.moduleTree.pruneSpine(module)
	}
	return next
}

func (s *Snapshot) patchFiles(diff Diff, removed map[types.FileID]bool) {
	affectedModules := make(map[string]bool)
	for id := range removed {
		if f, ok := s.files[id]; ok {
			affectedModules[f.Module] = true
			delete(s.files, id)
		}
		delete(s.typesByFile, id)
		delete(s.membersByFile, id)
	}
	for _, up := range diff.UpsertFiles {
		s.files[up.File.ID] = up.File
		affectedModules[up.File.Module] = true
	}

	// Rebuild the module-tree spine per affected module.
	for module := range affectedModules {
		root, node := s.moduleTree.cloneSpine(module)
		node.types = filterTypes(node.types, removed)
		node.files = filterFiles(node.files, removed)
		s.moduleTree = root
	}
	for _, up := range diff.UpsertFiles {
		node := s.moduleTree.locate(up.File.Module, true)
		node.files = append(node.files, up.File)
		sort.Slice(node.files, func(i, j int) bool { return node.files[i].Path < node.files[j].Path })
	}
}

func (s *Snapshot) patchTypes(oldTypes, newTypes []*TypeEntry, removed map[types.FileID]bool) {
	exactKeys := make(map[string]bool)
	lowerKeys := make(map[string]bool)
	parentKeys := make(map[string]bool)
	for _, e := range oldTypes {
		exactKeys[e.Decl.Name] = true
		lowerKeys[strings.ToLower(e.Decl.Name)] = true
		if e.Decl.ParentName != "" {
			parentKeys[e.Decl.ParentName] = true
		}
	}
	for _, e := range newTypes {
		exactKeys[e.Decl.Name] = true
		lowerKeys[strings.ToLower(e.Decl.Name)] = true
		if e.Decl.ParentName != "" {
			parentKeys[e.Decl.ParentName] = true
		}
	}

	newByExact := make(map[string][]*TypeEntry)
	newByLower := make(map[string][]*TypeEntry)
	newByParent := make(map[string][]*TypeEntry)
	for _, e := range newTypes {
		newByExact[e.Decl.Name] = append(newByExact[e.Decl.Name], e)
		newByLower[strings.ToLower(e.Decl.Name)] = append(newByLower[strings.ToLower(e.Decl.Name)], e)
		if e.Decl.ParentName != "" {
			newByParent[e.Decl.ParentName] = append(newByParent[e.Decl.ParentName], e)
		}
		s.typesByFile[e.File.ID] = append(s.typesByFile[e.File.ID], e)
	}

	for name := range exactKeys {
		replaceSlice(s.byExactName, name, filterTypeEntries(s.byExactName[name], removed), newByExact[name])
	}

	// Lowered-name buckets also drive the shingle partitions and the name
	// trigram postings; both are keyed by the lowered name's presence.
	for lower := range lowerKeys {
		before := len(s.byLowerName[lower]) > 0
		merged := append(filterTypeEntries(s.byLowerName[lower], removed), newByLower[lower]...)
		replaceSlice(s.byLowerName, lower, merged, nil)
		after := len(merged) > 0
		switch {
		case before && !after:
			for _, sh := range shingles(lower) {
				s.substringPartitions[sh] = removeString(s.substringPartitions[sh], lower)
			}
		case !before && after:
			for _, sh := range shingles(lower) {
				s.substringPartitions[sh] = append(append([]string(nil), s.substringPartitions[sh]...), lower)
			}
		}
	}

	// Name-trigram postings are patched once per trigram: affected names can
	// share trigrams, and a second filter pass over the same key would strip
	// the entries the first one just added (their file ids are in removed).
	trigramKeys := make(map[uint32]bool)
	newByTrigram := make(map[uint32][]*TypeEntry)
	for lower := range lowerKeys {
		for _, tg := range trigram.ExtractString(lower) {
			trigramKeys[tg] = true
		}
	}
	for _, e := range newTypes {
		for _, tg := range trigram.ExtractString(strings.ToLower(e.Decl.Name)) {
			newByTrigram[tg] = append(newByTrigram[tg], e)
		}
	}
	for tg := range trigramKeys {
		replaceSlice(s.byTrigram, tg, filterTypeEntries(s.byTrigram[tg], removed), newByTrigram[tg])
	}

	for parent := range parentKeys {
		replaceSlice(s.parentToChildren, parent, filterTypeEntries(s.parentToChildren[parent], removed), newByParent[parent])
	}

	// Module-tree types: removal already ran in patchFiles for file modules;
	// append and re-sort per new entry's module.
	touched := make(map[string]*moduleNode)
	for _, e := range newTypes {
		node, ok := touched[e.File.Module]
		if !ok {
			root, located := s.moduleTree.cloneSpine(e.File.Module)
			s.moduleTree = root
			located.types = filterTypes(located.types, removed)
			node = located
			touched[e.File.Module] = node
		}
		node.types = append(node.types, e)
	}
	for _, node := range touched {
		sort.Slice(node.types, func(i, j int) bool {
			if node.types[i].Decl.Name != node.types[j].Decl.Name {
				return node.types[i].Decl.Name < node.types[j].Decl.Name
			}
			return node.types[i].File.Path < node.types[j].File.Path
		})
	}
}

func (s *Snapshot) patchMembers(oldMembers, newMembers []*MemberEntry, removed map[types.FileID]bool) {
	nameKeys := make(map[string]bool)
	lowerKeys := make(map[string]bool)
	ownerKeys := make(map[string]bool)
	for _, e := range oldMembers {
		nameKeys[e.Member.Name] = true
		lowerKeys[strings.ToLower(e.Member.Name)] = true
		if e.Member.OwnerName != "" {
			ownerKeys[e.Member.OwnerName] = true
		}
	}
	newByName := make(map[string][]*MemberEntry)
	newByLower := make(map[string][]*MemberEntry)
	newByOwner := make(map[string][]*MemberEntry)
	for _, e := range newMembers {
		nameKeys[e.Member.Name] = true
		lowerKeys[strings.ToLower(e.Member.Name)] = true
		newByName[e.Member.Name] = append(newByName[e.Member.Name], e)
		newByLower[strings.ToLower(e.Member.Name)] = append(newByLower[strings.ToLower(e.Member.Name)], e)
		if e.Member.OwnerName != "" {
			ownerKeys[e.Member.OwnerName] = true
			newByOwner[e.Member.OwnerName] = append(newByOwner[e.Member.OwnerName], e)
		}
		s.membersByFile[e.File.ID] = append(s.membersByFile[e.File.ID], e)
	}

	for name := range nameKeys {
		replaceSlice(s.memberByName, name, filterMemberEntries(s.memberByName[name], removed), newByName[name])
	}
	for lower := range lowerKeys {
		replaceSlice(s.memberByLower, lower, filterMemberEntries(s.memberByLower[lower], removed), newByLower[lower])
	}
	for owner := range ownerKeys {
		replaceSlice(s.memberByOwner, owner, filterMemberEntries(s.memberByOwner[owner], removed), newByOwner[owner])
	}
}

func (s *Snapshot) patchAssets(diff Diff) {
	changed := len(diff.UpsertAssets) > 0 || len(diff.RemovedAssetPaths) > 0
	if !changed {
		return
	}

	drop := func(a types.Asset) {
		lower := strings.ToLower(a.Name)
		s.assetsByLowerName[lower] = removeAsset(s.assetsByLowerName[lower], a.Path)
		if len(s.assetsByLowerName[lower]) == 0 {
			delete(s.assetsByLowerName, lower)
		}
		s.assetsByFolder[a.Folder] = removeAsset(s.assetsByFolder[a.Folder], a.Path)
		if len(s.assetsByFolder[a.Folder]) == 0 {
			delete(s.assetsByFolder, a.Folder)
		}
		delete(s.assetsByPath, a.Path)
	}

	for _, path := range diff.RemovedAssetPaths {
		if a, ok := s.assetsByPath[path]; ok {
			drop(a)
		}
	}
	for _, a := range diff.UpsertAssets {
		if prev, ok := s.assetsByPath[a.Path]; ok {
			drop(prev)
		}
		lower := strings.ToLower(a.Name)
		s.assetsByPath[a.Path] = a
		s.assetsByLowerName[lower] = append(append([]types.Asset(nil), s.assetsByLowerName[lower]...), a)
		s.assetsByFolder[a.Folder] = append(append([]types.Asset(nil), s.assetsByFolder[a.Folder]...), a)
	}
	s.assetNames = sortedAssetNames(s.assetsByLowerName)
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// replaceSlice writes merged (filtered old + extra) under key, deleting the
// key when nothing remains so patched maps never diverge from rebuilt ones.
func replaceSlice[K comparable, E any](m map[K][]E, key K, filtered, extra []E) {
	merged := append(filtered, extra...)
	if len(merged) == 0 {
		delete(m, key)
		return
	}
	m[key] = merged
}

func filterTypeEntries(entries []*TypeEntry, removed map[types.FileID]bool) []*TypeEntry {
	var out []*TypeEntry
	for _, e := range entries {
		if !removed[e.File.ID] {
			out = append(out, e)
		}
	}
	return out
}

func filterMemberEntries(entries []*MemberEntry, removed map[types.FileID]bool) []*MemberEntry {
	var out []*MemberEntry
	for _, e := range entries {
		if !removed[e.File.ID] {
			out = append(out, e)
		}
	}
	return out
}

func filterTypes(entries []*TypeEntry, removed map[types.FileID]bool) []*TypeEntry {
	return filterTypeEntries(entries, removed)
}

func filterFiles(files []types.FileRecord, removed map[types.FileID]bool) []types.FileRecord {
	var out []types.FileRecord
	for _, f := range files {
		if !removed[f.ID] {
			out = append(out, f)
		}
	}
	return out
}

func removeString(list []string, target string) []string {
	var out []string
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func removeAsset(list []types.Asset, path string) []types.Asset {
	var out []types.Asset
	for _, a := range list {
		if a.Path != path {
			out = append(out, a)
		}
	}
	return out
}
