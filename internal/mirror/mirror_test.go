package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/types"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	files := map[string]string{
		"/ws/Game/Source/Actor.h":  "class AActor {};\n",
		"/ws/Game/Source/Pawn.h":   "class APawn {};\n",
		"/ws/Game/Script/Door.as":  "class ADoor {}\n",
	}
	_, err = st.RunBatch(context.Background(), func(tx *store.BatchTx) error {
		for path, content := range files {
			lang := types.LangCpp
			if filepath.Ext(path) == ".as" {
				lang = types.LangAngelScript
			}
			record := types.FileRecord{Path: path, RelativePath: path[len("/ws/Game/"):], Project: "Game", Language: lang}
			if err := tx.UpsertFile(record, nil, nil, []byte(content)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return st
}

func TestBootstrap(t *testing.T) {
	st := seededStore(t)
	root := filepath.Join(t.TempDir(), "mirror")
	m := New(root, zerolog.Nop())

	require.NoError(t, m.Bootstrap(context.Background(), st))

	t.Run("prefix is the common parent", func(t *testing.T) {
		assert.Equal(t, "/ws/Game", m.Prefix())
	})

	t.Run("files land rebased", func(t *testing.T) {
		content, err := os.ReadFile(filepath.Join(root, "Source", "Actor.h"))
		require.NoError(t, err)
		assert.Equal(t, "class AActor {};\n", string(content))

		_, err = os.Stat(filepath.Join(root, "Script", "Door.as"))
		assert.NoError(t, err)
	})

	t.Run("marker records the pass", func(t *testing.T) {
		mk, err := m.readMarker()
		require.NoError(t, err)
		assert.Equal(t, 3, mk.FileCount)
		assert.Equal(t, "/ws/Game", mk.PathPrefix)
	})

	t.Run("matching marker skips the rewrite", func(t *testing.T) {
		// Plant a sentinel; a skipped bootstrap leaves it alone.
		sentinel := filepath.Join(root, "sentinel")
		require.NoError(t, os.WriteFile(sentinel, []byte("x"), 0o644))
		require.NoError(t, m.Bootstrap(context.Background(), st))
		_, err := os.Stat(sentinel)
		assert.NoError(t, err)
	})
}

func TestUpdateAndDelete(t *testing.T) {
	st := seededStore(t)
	root := filepath.Join(t.TempDir(), "mirror")
	m := New(root, zerolog.Nop())
	require.NoError(t, m.Bootstrap(context.Background(), st))

	require.NoError(t, m.UpdateFile("/ws/Game/Source/New.h", []byte("struct FNew {};\n")))
	content, err := os.ReadFile(filepath.Join(root, "Source", "New.h"))
	require.NoError(t, err)
	assert.Equal(t, "struct FNew {};\n", string(content))

	require.NoError(t, m.DeleteFile("/ws/Game/Source/New.h"))
	_, err = os.Stat(filepath.Join(root, "Source", "New.h"))
	assert.True(t, os.IsNotExist(err))

	t.Run("deleting a missing file is fine", func(t *testing.T) {
		assert.NoError(t, m.DeleteFile("/ws/Game/Source/Ghost.h"))
	})

	t.Run("prefix delete removes the subtree", func(t *testing.T) {
		require.NoError(t, m.DeletePrefix("/ws/Game/Script"))
		_, err := os.Stat(filepath.Join(root, "Script"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestLongestCommonPrefix(t *testing.T) {
	assert.Equal(t, "", longestCommonPrefix(nil))
	assert.Equal(t, "/a/b", longestCommonPrefix([]string{"/a/b/c.h"}))
	assert.Equal(t, "/a", longestCommonPrefix([]string{"/a/b/c.h", "/a/d/e.h"}))
	assert.Equal(t, "", longestCommonPrefix([]string{"/a/b.h", "C:/x/y.h"}))
	assert.Equal(t, "/a/b", longestCommonPrefix([]string{"/a/b/c/d.h", "/a/b/e.h"}))
}
