package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/trigram"
	"github.com/standardbeagle/uci/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testFile(path, project string, lang types.Language) types.FileRecord {
	return types.FileRecord{
		Path:         path,
		RelativePath: "Source/" + baseName(path),
		Project:      project,
		Language:     lang,
		MtimeMs:      1000,
	}
}

func upsertOne(t *testing.T, s *Store, file types.FileRecord, decls []types.TypeDecl, members []types.Member, content string) *ChangeSet {
	t.Helper()
	changes, err := s.RunBatch(context.Background(), func(tx *BatchTx) error {
		return tx.UpsertFile(file, decls, members, []byte(content))
	})
	require.NoError(t, err)
	return changes
}

func TestUpsertFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	file := testFile("/ws/Game/Source/Actor.h", "Game", types.LangCpp)
	decls := []types.TypeDecl{{Name: "AActor", Kind: types.KindClass, Line: 42}}
	members := []types.Member{{OwnerName: "AActor", Name: "BeginPlay", Kind: types.MemberFunction, Line: 50}}
	content := "class AActor\n{\nvoid BeginPlay();\n};\n"

	changes := upsertOne(t, s, file, decls, members, content)
	require.Len(t, changes.Upserts, 1)
	up := changes.Upserts[0]
	assert.NotZero(t, up.File.ID)
	assert.True(t, up.ContentChanged)
	require.Len(t, up.Types, 1)
	assert.Equal(t, up.File.ID, up.Types[0].FileID)
	assert.NotZero(t, up.Types[0].ID)

	t.Run("content round-trips through compression", func(t *testing.T) {
		got, err := s.GetContent(ctx, up.File.ID)
		require.NoError(t, err)
		assert.Equal(t, content, string(got))
	})

	t.Run("module derived from relative path", func(t *testing.T) {
		f, err := s.GetFile(ctx, up.File.ID)
		require.NoError(t, err)
		assert.Equal(t, "Game.Source", f.Module)
	})

	t.Run("same hash skips content work", func(t *testing.T) {
		again := upsertOne(t, s, file, decls, members, content)
		require.Len(t, again.Upserts, 1)
		assert.False(t, again.Upserts[0].ContentChanged)
		assert.Equal(t, up.File.ID, again.Upserts[0].File.ID)
	})

	t.Run("changed content diffs postings", func(t *testing.T) {
		newContent := "class AActor\n{\nvoid Tick();\n};\n"
		changed := upsertOne(t, s, file, decls, nil, newContent)
		assert.True(t, changed.Upserts[0].ContentChanged)

		ids, err := s.GetTrigramCandidates(ctx, trigram.ExtractString("tick()"), CandidateFilter{})
		require.NoError(t, err)
		assert.Equal(t, []types.FileID{up.File.ID}, ids)

		gone, err := s.GetTrigramCandidates(ctx, trigram.ExtractString("beginplay"), CandidateFilter{})
		require.NoError(t, err)
		assert.Empty(t, gone)
	})
}

func TestRoundTripReplay(t *testing.T) {
	// Replaying the same batch is a no-op on rows and postings.
	s := openTestStore(t)
	ctx := context.Background()

	file := testFile("/ws/Game/Source/Pawn.h", "Game", types.LangCpp)
	decls := []types.TypeDecl{
		{Name: "APawn", Kind: types.KindClass, ParentName: "AActor", Line: 10, Specifiers: []string{"BlueprintType"}},
	}
	content := "class APawn : public AActor {};\n"

	upsertOne(t, s, file, decls, nil, content)
	snap1, err := s.LoadAll(ctx)
	require.NoError(t, err)
	cands1, err := s.GetTrigramCandidates(ctx, trigram.ExtractString("apawn"), CandidateFilter{})
	require.NoError(t, err)

	upsertOne(t, s, file, decls, nil, content)
	snap2, err := s.LoadAll(ctx)
	require.NoError(t, err)
	cands2, err := s.GetTrigramCandidates(ctx, trigram.ExtractString("apawn"), CandidateFilter{})
	require.NoError(t, err)

	assert.Equal(t, snap1.Files, snap2.Files)
	assert.Equal(t, len(snap1.Types), len(snap2.Types))
	for i := range snap1.Types {
		// Row ids change on replacement; everything else must not.
		a, b := snap1.Types[i], snap2.Types[i]
		a.ID, b.ID = 0, 0
		assert.Equal(t, a, b)
	}
	assert.Equal(t, cands1, cands2)
}

func TestDeletes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fileA := testFile("/ws/Game/Source/A.h", "Game", types.LangCpp)
	fileB := testFile("/ws/Game/Source/B.h", "Game", types.LangCpp)
	fileC := testFile("/ws/Engine/Source/C.h", "Engine", types.LangCpp)
	upsertOne(t, s, fileA, []types.TypeDecl{{Name: "A", Kind: types.KindClass, Line: 1}}, nil, "class A {};\n")
	upsertOne(t, s, fileB, nil, nil, "class B {};\n")
	upsertOne(t, s, fileC, nil, nil, "class C {};\n")

	t.Run("delete by path cascades", func(t *testing.T) {
		changes, err := s.RunBatch(ctx, func(tx *BatchTx) error {
			return tx.DeleteByPath("/ws/Game/Source/A.h")
		})
		require.NoError(t, err)
		assert.Equal(t, 1, changes.Deleted)
		require.Len(t, changes.RemovedFiles, 1)

		snap, err := s.LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, snap.Files, 2)
		assert.Empty(t, snap.Types)

		cands, err := s.GetTrigramCandidates(ctx, trigram.ExtractString("class a "), CandidateFilter{})
		require.NoError(t, err)
		assert.Empty(t, cands)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		changes, err := s.RunBatch(ctx, func(tx *BatchTx) error {
			return tx.DeleteByPath("/ws/Game/Source/A.h")
		})
		require.NoError(t, err)
		assert.Equal(t, 0, changes.Deleted)
		assert.Empty(t, changes.RemovedFiles)
	})

	t.Run("prefix delete tombstones a project root", func(t *testing.T) {
		changes, err := s.RunBatch(ctx, func(tx *BatchTx) error {
			return tx.DeleteByPrefix("/ws/Game/")
		})
		require.NoError(t, err)
		require.Len(t, changes.RemovedFiles, 1)
		assert.Equal(t, "/ws/Game/Source/B.h", changes.RemovedFiles[0].Path)

		snap, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Files, 1)
		assert.Equal(t, "/ws/Engine/Source/C.h", snap.Files[0].Path)
	})
}

func TestGetTrigramCandidatesFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	shared := "void DestroyActor();\n"
	upsertOne(t, s, testFile("/ws/Game/Source/G.h", "Game", types.LangCpp), nil, nil, shared)
	upsertOne(t, s, testFile("/ws/Engine/Source/E.as", "Engine", types.LangAngelScript), nil, nil, shared)

	tgs := trigram.ExtractString("destroyactor")

	all, err := s.GetTrigramCandidates(ctx, tgs, CandidateFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	game, err := s.GetTrigramCandidates(ctx, tgs, CandidateFilter{Project: "Game"})
	require.NoError(t, err)
	assert.Len(t, game, 1)

	as, err := s.GetTrigramCandidates(ctx, tgs, CandidateFilter{Language: types.LangAngelScript})
	require.NoError(t, err)
	assert.Len(t, as, 1)

	t.Run("absent trigram short-circuits", func(t *testing.T) {
		none, err := s.GetTrigramCandidates(ctx, trigram.ExtractString("zqxjklvwp"), CandidateFilter{})
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestAssets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	assets := []types.Asset{
		{Project: "Game", Path: "/Game/Blueprints/BP_Door", Name: "BP_Door", Class: "Blueprint", ParentClass: "AActor"},
		{Project: "Game", Path: "/Game/Meshes/SM_Rock", Name: "SM_Rock", Class: "StaticMesh"},
	}
	changes, err := s.RunBatch(ctx, func(tx *BatchTx) error {
		return tx.UpsertAssets(assets)
	})
	require.NoError(t, err)
	require.Len(t, changes.Assets, 2)
	assert.Equal(t, "/Game/Blueprints", changes.Assets[0].Folder)
	assert.NotZero(t, changes.Assets[0].ID)

	t.Run("upsert by path keeps one row", func(t *testing.T) {
		_, err := s.RunBatch(ctx, func(tx *BatchTx) error {
			return tx.UpsertAssets([]types.Asset{
				{Project: "Game", Path: "/Game/Blueprints/BP_Door", Name: "BP_Door", Class: "Blueprint", ParentClass: "APawn"},
			})
		})
		require.NoError(t, err)
		snap, err := s.LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Assets, 2)
	})
}

func TestIndexStatusAndMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetIndexStatus(ctx, types.LangCpp, types.StateIndexing, 10, 100, ""))
	require.NoError(t, s.SetIndexStatus(ctx, types.LangCpp, types.StateReady, 0, 0, ""))

	statuses, err := s.GetIndexStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, types.StateReady, statuses[0].State)

	require.NoError(t, s.SetMetadata(ctx, "last_build", "2026-08-01"))
	got, err := s.GetMetadata(ctx, "last_build")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01", got)

	missing, err := s.GetMetadata(ctx, "absent")
	require.NoError(t, err)
	assert.Equal(t, "", missing)
}

func TestStatsCache(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Files)

	upsertOne(t, s, testFile("/ws/Game/Source/S.h", "Game", types.LangCpp), nil, nil, "struct S {};\n")

	// Ingest invalidated the cache; the new count is visible immediately.
	stats, err = s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, 1, stats.ByLanguage["cpp"])
	assert.Equal(t, 1, stats.ByProject["Game"])
}

func TestPostingCodec(t *testing.T) {
	ids := []types.FileID{1, 2, 7, 100, 10000, 10001}
	decoded, err := decodePostings(encodePostings(ids))
	require.NoError(t, err)
	assert.Equal(t, ids, decoded)

	t.Run("insert and remove keep order", func(t *testing.T) {
		out := insertSorted(ids, 50)
		assert.Equal(t, []types.FileID{1, 2, 7, 50, 100, 10000, 10001}, out)
		out = removeSorted(out, 50)
		assert.Equal(t, ids, out)
		assert.Equal(t, ids, insertSorted(ids, 7), "duplicate insert is a no-op")
	})
}

func TestGallopIntersect(t *testing.T) {
	a := []types.FileID{1, 5, 9, 12, 40}
	b := []types.FileID{2, 5, 8, 9, 30, 40, 41}
	assert.Equal(t, []types.FileID{5, 9, 40}, gallopIntersect(a, b))
	assert.Equal(t, []types.FileID{5, 9, 40}, gallopIntersect(b, a))
	assert.Empty(t, gallopIntersect([]types.FileID{1, 2}, []types.FileID{3, 4}))
}

func TestProjectMoveIsDeleteInsert(t *testing.T) {
	s := openTestStore(t)

	file := testFile("/ws/Shared/Source/X.h", "Game", types.LangCpp)
	first := upsertOne(t, s, file, nil, nil, "class X {};\n")
	oldID := first.Upserts[0].File.ID

	file.Project = "Engine"
	moved := upsertOne(t, s, file, nil, nil, "class X {};\n")
	require.Len(t, moved.RemovedFiles, 1)
	assert.Equal(t, oldID, moved.RemovedFiles[0].ID)
	require.Len(t, moved.Upserts, 1)
	assert.NotEqual(t, oldID, moved.Upserts[0].File.ID)
}
