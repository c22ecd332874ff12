package search

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/types"
)

func grepFixture(t *testing.T) (*store.Store, *Grep) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	contents := map[string]string{
		"/ws/Game/Source/Combat.cpp":   "void DestroyActor()\n{\n    DestroyActor();\n}\n",
		"/ws/Game/Source/Spawner.cpp":  "void DestroyPawn()\n{\n}\n",
		"/ws/Game/Source/Timers.cpp":   "FTimerHandle Handle;\nSetTimer(Handle);\n",
		"/ws/Game/Source/Unrelated.cpp": "int main()\n{\n    return 0;\n}\n",
	}
	_, err = st.RunBatch(context.Background(), func(tx *store.BatchTx) error {
		for path, content := range contents {
			record := types.FileRecord{Path: path, RelativePath: path[len("/ws/Game/"):],
				Project: "Game", Language: types.LangCpp}
			if err := tx.UpsertFile(record, nil, nil, []byte(content)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	return st, New(st, nil, nil, 5*time.Second, zerolog.Nop())
}

func TestGrepLiteral(t *testing.T) {
	_, g := grepFixture(t)

	res, err := g.Run(context.Background(), "DestroyActor", false, types.GrepOptions{})
	require.NoError(t, err)
	assert.Equal(t, EngineInternal, res.SearchEngine)
	assert.False(t, res.TimedOut)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, 1, res.Matches[0].Line)
	assert.Equal(t, 3, res.Matches[1].Line)
	assert.Equal(t, 1, res.FilesSearched, "trigram candidates exclude non-matching files")
}

func TestGrepAlternation(t *testing.T) {
	_, g := grepFixture(t)

	// Branch candidate sets union instead of intersecting to nothing.
	res, err := g.Run(context.Background(), "DestroyActor|DestroyPawn|SetTimer|FTimerHandle", true, types.GrepOptions{})
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.GreaterOrEqual(t, len(res.Matches), 4)
	assert.Equal(t, 3, res.FilesSearched)
	assert.Less(t, res.FilesSearched, res.TotalFiles, "candidate selection must beat a full scan")
}

func TestGrepContextLines(t *testing.T) {
	_, g := grepFixture(t)

	res, err := g.Run(context.Background(), "return 0", false, types.GrepOptions{ContextLines: 1})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	assert.Equal(t, 3, m.Line)
	assert.Equal(t, []string{"{"}, m.Before)
	assert.Equal(t, []string{"}"}, m.After)
}

func TestGrepUnindexablePattern(t *testing.T) {
	_, g := grepFixture(t)

	res, err := g.Run(context.Background(), "Destroy.*", true, types.GrepOptions{})
	require.NoError(t, err)
	// "destroy" is still a literal run, so the pattern stays indexable.
	assert.Equal(t, 2, res.FilesSearched)

	res, err = g.Run(context.Background(), ".+", true, types.GrepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, res.FilesSearched, "unindexable patterns scan every source file")
	assert.NotEmpty(t, res.Matches)
}

func TestGrepCaseSensitivity(t *testing.T) {
	_, g := grepFixture(t)

	insensitive, err := g.Run(context.Background(), "destroyactor", false, types.GrepOptions{})
	require.NoError(t, err)
	assert.Len(t, insensitive.Matches, 2)

	sensitive, err := g.Run(context.Background(), "destroyactor", false, types.GrepOptions{CaseSensitive: true})
	require.NoError(t, err)
	assert.Empty(t, sensitive.Matches)
}

func TestGrepFilters(t *testing.T) {
	_, g := grepFixture(t)

	res, err := g.Run(context.Background(), "DestroyActor", false, types.GrepOptions{Project: "Other"})
	require.NoError(t, err)
	assert.Empty(t, res.Matches)

	res, err = g.Run(context.Background(), "DestroyActor", false, types.GrepOptions{Language: types.LangCpp})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 2)
}

func TestGrepInvalidRegex(t *testing.T) {
	_, g := grepFixture(t)

	_, err := g.Run(context.Background(), "foo(", true, types.GrepOptions{})
	require.Error(t, err)
	assert.Equal(t, uerr.KindBadRequest, uerr.KindOf(err))
}

func TestGrepMaxResults(t *testing.T) {
	_, g := grepFixture(t)

	res, err := g.Run(context.Background(), "DestroyActor", false, types.GrepOptions{MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, res.Matches, 1)
}

func TestGrepCancellation(t *testing.T) {
	_, g := grepFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := g.Run(ctx, "DestroyActor", false, types.GrepOptions{})
	if err != nil {
		// Candidate selection observed the dead context first.
		return
	}
	// The scan aborted between files and reported the truncation.
	assert.True(t, res.TimedOut)
	assert.Equal(t, 0, res.FilesSearched)
}

func TestGrepManyFiles(t *testing.T) {
	st, g := grepFixture(t)

	// A wider corpus keeps the candidate ratio honest.
	_, err := st.RunBatch(context.Background(), func(tx *store.BatchTx) error {
		for i := 0; i < 60; i++ {
			record := types.FileRecord{
				Path:         fmt.Sprintf("/ws/Game/Source/Gen%02d.cpp", i),
				RelativePath: fmt.Sprintf("Source/Gen%02d.cpp", i),
				Project:      "Game", Language: types.LangCpp,
			}
			content := fmt.Sprintf("// generated file %02d\nint value = %d;\n", i, i)
			if err := tx.UpsertFile(record, nil, nil, []byte(content)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	res, err := g.Run(context.Background(), "FTimerHandle", false, types.GrepOptions{})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 1, res.FilesSearched)
	assert.Less(t, float64(res.FilesSearched), 0.5*float64(res.TotalFiles))
}
