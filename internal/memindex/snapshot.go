// Package memindex holds the in-memory inverted indexes over types, members,
// and assets. Everything here is derived from the durable store: the service
// loads one snapshot at startup and patches it copy-on-write on ingest, and a
// patched snapshot must be indistinguishable from a fresh rebuild.
package memindex

import (
	"strings"

	"github.com/standardbeagle/uci/internal/trigram"
	"github.com/standardbeagle/uci/internal/types"
)

// TypeEntry pairs a type declaration with its owning file. Entries are
// immutable once published and may be shared across snapshots.
type TypeEntry struct {
	Decl types.TypeDecl
	File types.FileRecord
}

// MemberEntry pairs a member declaration with its owning file.
type MemberEntry struct {
	Member types.Member
	File   types.FileRecord
}

// Snapshot is one immutable generation of the memory index. Readers obtain a
// snapshot via Index.Current and never observe partial state.
type Snapshot struct {
	files map[types.FileID]types.FileRecord

	// Per-file ownership, for removal during patching.
	typesByFile   map[types.FileID][]*TypeEntry
	membersByFile map[types.FileID][]*MemberEntry

	// Type lookups. byExactName is case-sensitive; byLowerName drives
	// case-insensitive and fuzzy paths; byTrigram and substringPartitions
	// bound fuzzy and substring candidate sets independently of dataset size.
	byExactName         map[string][]*TypeEntry
	byLowerName         map[string][]*TypeEntry
	byTrigram           map[uint32][]*TypeEntry
	substringPartitions map[uint16][]string

	// parentToChildren keys are parent names, not ids: a parent may live in a
	// file that is not indexed (yet).
	parentToChildren map[string][]*TypeEntry

	moduleTree *moduleNode

	memberByName  map[string][]*MemberEntry
	memberByLower map[string][]*MemberEntry
	memberByOwner map[string][]*MemberEntry

	assetsByPath      map[string]types.Asset
	assetsByLowerName map[string][]types.Asset
	assetsByFolder    map[string][]types.Asset
	// assetNames is the sorted lowercase name list backing prefix scans.
	assetNames []string
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		files:               make(map[types.FileID]types.FileRecord),
		typesByFile:         make(map[types.FileID][]*TypeEntry),
		membersByFile:       make(map[types.FileID][]*MemberEntry),
		byExactName:         make(map[string][]*TypeEntry),
		byLowerName:         make(map[string][]*TypeEntry),
		byTrigram:           make(map[uint32][]*TypeEntry),
		substringPartitions: make(map[uint16][]string),
		parentToChildren:    make(map[string][]*TypeEntry),
		moduleTree:          newModuleNode(),
		memberByName:        make(map[string][]*MemberEntry),
		memberByLower:       make(map[string][]*MemberEntry),
		memberByOwner:       make(map[string][]*MemberEntry),
		assetsByPath:        make(map[string]types.Asset),
		assetsByLowerName:   make(map[string][]types.Asset),
		assetsByFolder:      make(map[string][]types.Asset),
	}
}

// shingles returns the distinct 2-byte lowercase shingles of a name.
func shingles(lower string) []uint16 {
	if len(lower) < 2 {
		return nil
	}
	seen := make(map[uint16]struct{}, len(lower))
	for i := 0; i+1 < len(lower); i++ {
		seen[uint16(lower[i])<<8|uint16(lower[i+1])] = struct{}{}
	}
	out := make([]uint16, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	return out
}

// addType links one entry into every type structure. Only called while a
// snapshot is still private to its builder.
func (s *Snapshot) addType(e *TypeEntry) {
	name := e.Decl.Name
	lower := strings.ToLower(name)

	s.typesByFile[e.File.ID] = append(s.typesByFile[e.File.ID], e)
	s.byExactName[name] = append(s.byExactName[name], e)

	known := len(s.byLowerName[lower]) > 0
	s.byLowerName[lower] = append(s.byLowerName[lower], e)
	if !known {
		// First carrier of this lowercased name: register it for substring
		// candidate selection.
		for _, sh := range shingles(lower) {
			s.substringPartitions[sh] = append(s.substringPartitions[sh], lower)
		}
	}
	for _, tg := range trigram.ExtractString(lower) {
		s.byTrigram[tg] = append(s.byTrigram[tg], e)
	}

	if e.Decl.ParentName != "" {
		s.parentToChildren[e.Decl.ParentName] = append(s.parentToChildren[e.Decl.ParentName], e)
	}
	s.moduleTree.insert(e.File.Module, e)
}

// addMember links one member entry.
func (s *Snapshot) addMember(e *MemberEntry) {
	name := e.Member.Name
	lower := strings.ToLower(name)
	s.membersByFile[e.File.ID] = append(s.membersByFile[e.File.ID], e)
	s.memberByName[name] = append(s.memberByName[name], e)
	s.memberByLower[lower] = append(s.memberByLower[lower], e)
	if e.Member.OwnerName != "" {
		s.memberByOwner[e.Member.OwnerName] = append(s.memberByOwner[e.Member.OwnerName], e)
	}
}

// addAsset links one asset.
func (s *Snapshot) addAsset(a types.Asset) {
	s.assetsByPath[a.Path] = a
	lower := strings.ToLower(a.Name)
	s.assetsByLowerName[lower] = append(s.assetsByLowerName[lower], a)
	s.assetsByFolder[a.Folder] = append(s.assetsByFolder[a.Folder], a)
}

// addFile records file metadata and its module placement.
func (s *Snapshot) addFile(f types.FileRecord) {
	s.files[f.ID] = f
	s.moduleTree.insertFile(f.Module, f)
}

// build assembles a snapshot from scratch.
func build(files []types.FileRecord, decls []types.TypeDecl, members []types.Member, assets []types.Asset) *Snapshot {
	s := newSnapshot()
	for _, f := range files {
		s.addFile(f)
	}
	for _, d := range decls {
		f, ok := s.files[d.FileID]
		if !ok {
			continue
		}
		s.addType(&TypeEntry{Decl: d, File: f})
	}
	for _, m := range members {
		f, ok := s.files[m.FileID]
		if !ok {
			continue
		}
		s.addMember(&MemberEntry{Member: m, File: f})
	}
	for _, a := range assets {
		s.addAsset(a)
	}
	s.finish()
	return s
}

// finish computes the derived sorted views after all inserts.
func (s *Snapshot) finish() {
	s.assetNames = sortedAssetNames(s.assetsByLowerName)
	s.moduleTree.sortRecursive()
}

// FileCount reports how many files the snapshot covers.
func (s *Snapshot) FileCount() int {
	return len(s.files)
}

// File returns the metadata of one file.
func (s *Snapshot) File(id types.FileID) (types.FileRecord, bool) {
	f, ok := s.files[id]
	return f, ok
}
