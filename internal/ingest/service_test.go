package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/config"
	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/memindex"
	"github.com/standardbeagle/uci/internal/mirror"
	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/types"
)

func newService(t *testing.T) (*Service, *store.Store, *memindex.Index, string) {
	t.Helper()
	dir := t.TempDir()
	log := zerolog.Nop()

	st, err := store.Open(filepath.Join(dir, "index.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfgPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{}`), 0o644))
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	idx := memindex.New(log)
	require.NoError(t, idx.Load(context.Background(), st))
	mirrorDir := filepath.Join(dir, "mirror")
	mir := mirror.New(mirrorDir, log)
	require.NoError(t, mir.Bootstrap(context.Background(), st))

	return New(cfg, st, idx, mir, nil, log), st, idx, mirrorDir
}

func doorFile() FilePayload {
	return FilePayload{
		Path:         "/ws/Game/Script/Door.as",
		RelativePath: "Script/Door.as",
		Project:      "Game",
		Language:     types.LangAngelScript,
		Content:      "class ADoor : AActor\n{\n\tvoid Open() {}\n}\n",
		Mtime:        1000,
		Types: []types.TypeDecl{
			{Name: "ADoor", Kind: types.KindClass, ParentName: "AActor", Line: 1},
		},
		Members: []types.Member{
			{OwnerName: "ADoor", Name: "Open", Kind: types.MemberFunction, Line: 3},
		},
	}
}

func TestProcess(t *testing.T) {
	svc, st, idx, mirrorDir := newService(t)
	ctx := context.Background()

	resp, err := svc.Process(ctx, &Request{Files: []FilePayload{doorFile()}})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, 1, resp.FilesUpserted)

	t.Run("memory index patched", func(t *testing.T) {
		results := idx.Current().FindTypes("ADoor", false, memindex.Filter{}, 0)
		require.Len(t, results, 1)
		assert.Equal(t, "Game.Script", results[0].Module)
	})

	t.Run("mirror received the file", func(t *testing.T) {
		// The mirror was bootstrapped from an empty store, so its prefix is
		// empty and the file lands under its full cleaned path.
		matches, err := filepath.Glob(filepath.Join(mirrorDir, "*"))
		require.NoError(t, err)
		assert.NotEmpty(t, matches)
	})

	t.Run("status flips to ready", func(t *testing.T) {
		statuses, err := st.GetIndexStatus(ctx)
		require.NoError(t, err)
		require.Len(t, statuses, 1)
		assert.Equal(t, types.LangAngelScript, statuses[0].Language)
		assert.Equal(t, types.StateReady, statuses[0].State)
	})
}

func TestProcessReplayIdempotent(t *testing.T) {
	svc, st, idx, _ := newService(t)
	ctx := context.Background()

	req := &Request{Files: []FilePayload{doorFile()}}
	_, err := svc.Process(ctx, req)
	require.NoError(t, err)
	snap1, err := st.LoadAll(ctx)
	require.NoError(t, err)
	results1 := idx.Current().FindTypes("ADoor", true, memindex.Filter{}, 0)

	_, err = svc.Process(ctx, &Request{Files: []FilePayload{doorFile()}})
	require.NoError(t, err)
	snap2, err := st.LoadAll(ctx)
	require.NoError(t, err)
	results2 := idx.Current().FindTypes("ADoor", true, memindex.Filter{}, 0)

	assert.Equal(t, snap1.Files, snap2.Files)
	assert.Equal(t, len(snap1.Types), len(snap2.Types))
	assert.Equal(t, results1, results2)
}

func TestProcessDeletes(t *testing.T) {
	svc, _, idx, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Process(ctx, &Request{Files: []FilePayload{doorFile()}})
	require.NoError(t, err)

	t.Run("path delete removes from the index", func(t *testing.T) {
		resp, err := svc.Process(ctx, &Request{Deletes: []DeletePayload{{Path: "/ws/Game/Script/Door.as"}}})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Deleted)
		assert.Empty(t, idx.Current().FindTypes("ADoor", false, memindex.Filter{}, 0))
	})

	t.Run("deleting again is a no-op", func(t *testing.T) {
		resp, err := svc.Process(ctx, &Request{Deletes: []DeletePayload{{Path: "/ws/Game/Script/Door.as"}}})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Deleted)
	})

	t.Run("prefix tombstone", func(t *testing.T) {
		_, err := svc.Process(ctx, &Request{Files: []FilePayload{doorFile()}})
		require.NoError(t, err)
		resp, err := svc.Process(ctx, &Request{Deletes: []DeletePayload{{Path: "/ws/Game/", Prefix: true}}})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Deleted)
		assert.Empty(t, idx.Current().FindTypes("ADoor", false, memindex.Filter{}, 0))
	})
}

func TestProcessValidation(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	cases := []Request{
		{Files: []FilePayload{{Path: "", Project: "G", Language: types.LangCpp}}},
		{Files: []FilePayload{{Path: "/x", Project: "G", Language: "rust"}}},
		{Files: []FilePayload{{Path: "/x", Language: types.LangCpp}}},
		{Deletes: []DeletePayload{{Path: ""}}},
		{Progress: []ProgressPayload{{Language: "rust"}}},
	}
	for i, req := range cases {
		_, err := svc.Process(ctx, &req)
		require.Error(t, err, "case %d", i)
		assert.Equal(t, uerr.KindBadRequest, uerr.KindOf(err), "case %d", i)
	}
}

func TestProgressMarkers(t *testing.T) {
	svc, st, _, _ := newService(t)
	ctx := context.Background()

	resp, err := svc.Process(ctx, &Request{Progress: []ProgressPayload{
		{Language: types.LangCpp, Current: 120, Total: 4000},
	}})
	require.NoError(t, err)
	assert.True(t, resp.OK)

	statuses, err := st.GetIndexStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, types.StateIndexing, statuses[0].State)
	assert.Equal(t, 120, statuses[0].Current)
	assert.Equal(t, 4000, statuses[0].Total)
}
