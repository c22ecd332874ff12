package memindex

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/types"
)

func fixtureFiles() []types.FileRecord {
	return []types.FileRecord{
		{ID: 1, Path: "/ws/Engine/Source/Runtime/Engine/Classes/GameFramework/Actor.h",
			RelativePath: "Source/Runtime/Engine/Classes/GameFramework/Actor.h",
			Project:      "Engine", Language: types.LangCpp, Module: "Engine.Source.Runtime.Engine.Classes.GameFramework"},
		{ID: 2, Path: "/ws/Engine/Source/Runtime/Engine/Private/Actor.cpp",
			RelativePath: "Source/Runtime/Engine/Private/Actor.cpp",
			Project:      "Engine", Language: types.LangCpp, Module: "Engine.Source.Runtime.Engine.Private"},
		{ID: 3, Path: "/ws/Game/Script/Door.as",
			RelativePath: "Script/Door.as",
			Project:      "Game", Language: types.LangAngelScript, Module: "Game.Script"},
	}
}

func fixtureTypes() []types.TypeDecl {
	return []types.TypeDecl{
		{ID: 1, FileID: 1, Name: "AActor", Kind: types.KindClass, ParentName: "UObject", Line: 42,
			Specifiers: []string{"BlueprintType"}},
		{ID: 2, FileID: 2, Name: "AActor", Kind: types.KindClass, ParentName: "UObject", Line: 18},
		{ID: 3, FileID: 3, Name: "ADoor", Kind: types.KindClass, ParentName: "AActor", Line: 5},
		{ID: 4, FileID: 3, Name: "EDoorState", Kind: types.KindEnum, Line: 1},
	}
}

func fixtureMembers() []types.Member {
	return []types.Member{
		{ID: 1, FileID: 1, OwnerName: "AActor", Name: "BeginPlay", Kind: types.MemberFunction, Line: 100},
		{ID: 2, FileID: 1, OwnerName: "AActor", Name: "bHidden", Kind: types.MemberProperty, Line: 120,
			Specifiers: []string{"EditAnywhere"}},
		{ID: 3, FileID: 3, OwnerName: "ADoor", Name: "Open", Kind: types.MemberFunction, Line: 12},
	}
}

func fixtureAssets() []types.Asset {
	return []types.Asset{
		{ID: 1, Project: "Game", Path: "/Game/Blueprints/BP_Door", Name: "BP_Door", Class: "Blueprint",
			ParentClass: "ADoor", Folder: "/Game/Blueprints"},
		{ID: 2, Project: "Game", Path: "/Game/Blueprints/BP_DoorFrame", Name: "BP_DoorFrame", Class: "Blueprint",
			Folder: "/Game/Blueprints"},
		{ID: 3, Project: "Game", Path: "/Game/Meshes/SM_Rock", Name: "SM_Rock", Class: "StaticMesh",
			Folder: "/Game/Meshes"},
	}
}

func fixtureSnapshot() *Snapshot {
	return build(fixtureFiles(), fixtureTypes(), fixtureMembers(), fixtureAssets())
}

func TestFindTypesExact(t *testing.T) {
	snap := fixtureSnapshot()

	t.Run("header precedes implementation and carries its path", func(t *testing.T) {
		results := snap.FindTypes("AActor", false, Filter{Language: types.LangCpp}, 0)
		require.Len(t, results, 1, "header and implementation dedupe to one record")
		r := results[0]
		assert.Equal(t, "/ws/Engine/Source/Runtime/Engine/Classes/GameFramework/Actor.h", r.Path)
		assert.Equal(t, "/ws/Engine/Source/Runtime/Engine/Private/Actor.cpp", r.ImplementationPath)
	})

	t.Run("case-insensitive fallback", func(t *testing.T) {
		results := snap.FindTypes("aactor", false, Filter{}, 0)
		require.NotEmpty(t, results)
		assert.Equal(t, "AActor", results[0].Name)
	})

	t.Run("kind filter", func(t *testing.T) {
		results := snap.FindTypes("EDoorState", false, Filter{Kind: "class"}, 0)
		assert.Empty(t, results)
		results = snap.FindTypes("EDoorState", false, Filter{Kind: "enum"}, 0)
		assert.Len(t, results, 1)
	})

	t.Run("project filter", func(t *testing.T) {
		results := snap.FindTypes("AActor", false, Filter{Project: "Game"}, 0)
		assert.Empty(t, results)
	})
}

func TestFindTypesFuzzy(t *testing.T) {
	snap := fixtureSnapshot()

	t.Run("prefix match", func(t *testing.T) {
		results := snap.FindTypes("ADo", true, Filter{}, 0)
		require.NotEmpty(t, results)
		assert.Equal(t, "ADoor", results[0].Name)
	})

	t.Run("substring match", func(t *testing.T) {
		results := snap.FindTypes("DoorState", true, Filter{}, 0)
		require.NotEmpty(t, results)
		assert.Equal(t, "EDoorState", results[0].Name)
	})

	t.Run("typo tolerated through trigram overlap", func(t *testing.T) {
		results := snap.FindTypes("EDoorStatus", true, Filter{}, 0)
		found := false
		for _, r := range results {
			if r.Name == "EDoorState" {
				found = true
			}
		}
		assert.True(t, found, "EDoorStatus should still surface EDoorState")
	})

	t.Run("ranking is stable across runs", func(t *testing.T) {
		first := snap.FindTypes("Door", true, Filter{}, 0)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, snap.FindTypes("Door", true, Filter{}, 0))
		}
	})
}

func TestFindMembers(t *testing.T) {
	snap := fixtureSnapshot()

	t.Run("by name", func(t *testing.T) {
		results := snap.FindMembers("BeginPlay", false, "", "", Filter{}, 0)
		require.Len(t, results, 1)
		assert.Equal(t, "AActor", results[0].Owner)
	})

	t.Run("by owner only", func(t *testing.T) {
		results := snap.FindMembers("", false, "AActor", "", Filter{}, 0)
		assert.Len(t, results, 2)
	})

	t.Run("member kind narrows", func(t *testing.T) {
		results := snap.FindMembers("", false, "AActor", types.MemberProperty, Filter{}, 0)
		require.Len(t, results, 1)
		assert.Equal(t, "bHidden", results[0].Name)
	})
}

func TestChildren(t *testing.T) {
	snap := fixtureSnapshot()

	t.Run("direct children", func(t *testing.T) {
		results := snap.Children("AActor", false, Filter{}, 0)
		require.Len(t, results, 1)
		assert.Equal(t, "ADoor", results[0].Name)
	})

	t.Run("recursive walk", func(t *testing.T) {
		results := snap.Children("UObject", true, Filter{}, 0)
		names := map[string]bool{}
		for _, r := range results {
			names[r.Name] = true
		}
		assert.True(t, names["AActor"])
		assert.True(t, names["ADoor"])
	})

	t.Run("cycles terminate", func(t *testing.T) {
		// Forward-declared bases resolving to each other.
		cyclic := build(
			[]types.FileRecord{{ID: 1, Path: "/ws/X.h", Project: "P", Language: types.LangCpp, Module: "P"}},
			[]types.TypeDecl{
				{ID: 1, FileID: 1, Name: "FLeft", Kind: types.KindStruct, ParentName: "FRight", Line: 1},
				{ID: 2, FileID: 1, Name: "FRight", Kind: types.KindStruct, ParentName: "FLeft", Line: 2},
			}, nil, nil)
		results := cyclic.Children("FLeft", true, Filter{}, 0)
		assert.LessOrEqual(t, len(results), 2)
	})
}

func TestModuleTree(t *testing.T) {
	snap := fixtureSnapshot()

	t.Run("browse exact and below", func(t *testing.T) {
		contents, ok := snap.BrowseModule("Game.Script", 0)
		require.True(t, ok)
		assert.Len(t, contents.Types, 2)
		assert.Len(t, contents.Files, 1)
	})

	t.Run("browse aggregates subtree", func(t *testing.T) {
		contents, ok := snap.BrowseModule("Engine", 0)
		require.True(t, ok)
		assert.Len(t, contents.Types, 2)
		assert.Len(t, contents.Files, 2)
	})

	t.Run("unknown module misses", func(t *testing.T) {
		_, ok := snap.BrowseModule("Nope", 0)
		assert.False(t, ok)
	})

	t.Run("list children to depth", func(t *testing.T) {
		children, ok := snap.ListModules("", 1)
		require.True(t, ok)
		require.Len(t, children, 2)
		assert.Equal(t, "Engine", children[0].Name)
		assert.Equal(t, "Game", children[1].Name)
		assert.Nil(t, children[0].Children)

		deep, ok := snap.ListModules("Engine", 2)
		require.True(t, ok)
		require.Len(t, deep, 1)
		assert.Equal(t, "Engine.Source", deep[0].Path)
		require.Len(t, deep[0].Children, 1)
	})
}

func TestAssetsQueries(t *testing.T) {
	snap := fixtureSnapshot()

	t.Run("fuzzy prefers prefix", func(t *testing.T) {
		results := snap.FindAssets("BP_Door", true, "", 0)
		require.Len(t, results, 2)
		assert.Equal(t, "BP_Door", results[0].Name)
		assert.Equal(t, "BP_DoorFrame", results[1].Name)
	})

	t.Run("fuzzy substring", func(t *testing.T) {
		results := snap.FindAssets("Rock", true, "", 0)
		require.Len(t, results, 1)
		assert.Equal(t, "SM_Rock", results[0].Name)
	})

	t.Run("exact name only", func(t *testing.T) {
		results := snap.FindAssets("BP_Door", false, "", 0)
		require.Len(t, results, 1)
		assert.Equal(t, "BP_Door", results[0].Name)
	})

	t.Run("browse folder", func(t *testing.T) {
		results := snap.BrowseAssets("/Game/Blueprints", false, "", 0)
		assert.Len(t, results, 2)
		all := snap.BrowseAssets("/Game", true, "", 0)
		assert.Len(t, all, 3)
	})

	t.Run("folders and stats", func(t *testing.T) {
		folders := snap.ListAssetFolders("")
		require.Len(t, folders, 2)
		assert.Equal(t, "/Game/Blueprints", folders[0].Folder)
		assert.Equal(t, 2, folders[0].Count)

		stats := snap.AssetStatistics()
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 2, stats.ByClass["Blueprint"])
	})
}

// TestPatchEqualsRebuild is the rebuild property: incremental patching must be
// observably identical to a fresh build from the same contents.
func TestPatchEqualsRebuild(t *testing.T) {
	base := fixtureSnapshot()

	newFile := types.FileRecord{ID: 4, Path: "/ws/Game/Script/Window.as", RelativePath: "Script/Window.as",
		Project: "Game", Language: types.LangAngelScript, Module: "Game.Script"}
	newTypes := []types.TypeDecl{{ID: 10, FileID: 4, Name: "AWindow", Kind: types.KindClass, ParentName: "AActor", Line: 3}}
	newMembers := []types.Member{{ID: 10, FileID: 4, OwnerName: "AWindow", Name: "Open", Kind: types.MemberFunction, Line: 8}}

	// Patch: remove file 3, add file 4, replace the assets of BP_Door.
	patched := base.patch(Diff{
		RemovedFileIDs: []types.FileID{3},
		UpsertFiles:    []FileUpdate{{File: newFile, Types: newTypes, Members: newMembers}},
		UpsertAssets: []types.Asset{{ID: 1, Project: "Game", Path: "/Game/Blueprints/BP_Door",
			Name: "BP_Door", Class: "Blueprint", ParentClass: "AWindow", Folder: "/Game/Blueprints"}},
		RemovedAssetPaths: []string{"/Game/Meshes/SM_Rock"},
	})

	// Rebuild from the equivalent flat state.
	files := append(fixtureFiles()[:2:2], newFile)
	decls := append(fixtureTypes()[:2:2], newTypes...)
	members := append(fixtureMembers()[:2:2], newMembers...)
	assets := []types.Asset{
		{ID: 1, Project: "Game", Path: "/Game/Blueprints/BP_Door", Name: "BP_Door", Class: "Blueprint",
			ParentClass: "AWindow", Folder: "/Game/Blueprints"},
		fixtureAssets()[1],
	}
	rebuilt := build(files, decls, members, assets)

	assertSnapshotsEqual(t, rebuilt, patched)

	t.Run("old snapshot is untouched", func(t *testing.T) {
		results := base.FindTypes("ADoor", false, Filter{}, 0)
		assert.Len(t, results, 1)
		assert.Len(t, base.FindAssets("SM_Rock", true, "", 0), 1)
	})
}

// assertSnapshotsEqual compares the observable behavior of two snapshots:
// same lookups, same members, same modules, same assets, same scoring.
func assertSnapshotsEqual(t *testing.T, want, got *Snapshot) {
	t.Helper()

	require.Equal(t, len(want.files), len(got.files))
	require.Equal(t, sortedKeys(want.byExactName), sortedKeys(got.byExactName))
	require.Equal(t, sortedKeys(want.byLowerName), sortedKeys(got.byLowerName))
	require.Equal(t, sortedKeys(want.memberByName), sortedKeys(got.memberByName))
	require.Equal(t, sortedKeys(want.parentToChildren), sortedKeys(got.parentToChildren))
	assert.Equal(t, want.assetNames, got.assetNames)

	for name := range want.byExactName {
		assert.Equal(t,
			want.FindTypes(name, true, Filter{}, 0),
			got.FindTypes(name, true, Filter{}, 0), "fuzzy results for %q", name)
	}
	for name := range want.memberByName {
		assert.Equal(t,
			want.FindMembers(name, false, "", "", Filter{}, 0),
			got.FindMembers(name, false, "", "", Filter{}, 0), "member results for %q", name)
	}
	for parent := range want.parentToChildren {
		assert.Equal(t,
			want.Children(parent, true, Filter{}, 0),
			got.Children(parent, true, Filter{}, 0), "children of %q", parent)
	}

	wantMods, _ := want.ListModules("", 5)
	gotMods, _ := got.ListModules("", 5)
	assert.Equal(t, wantMods, gotMods)

	for lower := range want.assetsByLowerName {
		assert.Equal(t,
			want.FindAssets(lower, true, "", 0),
			got.FindAssets(lower, true, "", 0), "assets for %q", lower)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
