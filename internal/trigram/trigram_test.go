package trigram

import (
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Run("packs lowercased bytes", func(t *testing.T) {
		got := Extract([]byte("ABC"))
		require.Len(t, got, 1)
		assert.Equal(t, Pack('a', 'b', 'c'), got[0])
	})

	t.Run("short content has no trigrams", func(t *testing.T) {
		assert.Nil(t, Extract([]byte("ab")))
		assert.Nil(t, Extract(nil))
	})

	t.Run("deduplicates and sorts", func(t *testing.T) {
		got := Extract([]byte("abcabc"))
		// abc, bca, cab — each once, ascending.
		require.Len(t, got, 3)
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1], got[i])
		}
	})

	t.Run("drops trigrams spanning lines", func(t *testing.T) {
		got := Extract([]byte("ab\ncd"))
		assert.Empty(t, got)

		got = Extract([]byte("abc\ndef"))
		assert.Equal(t, []uint32{Pack('a', 'b', 'c'), Pack('d', 'e', 'f')}, got)
	})

	t.Run("drops carriage return and NUL", func(t *testing.T) {
		assert.Empty(t, Extract([]byte("a\rb")))
		assert.Empty(t, Extract([]byte{'a', 0, 'b'}))
	})

	t.Run("extraction is deterministic", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 50; i++ {
			content := randomContent(rng, 10+rng.Intn(200))
			assert.Equal(t, Extract(content), Extract(content))
		}
	})
}

func TestContentHash(t *testing.T) {
	t.Run("stable across calls", func(t *testing.T) {
		content := []byte("class AActor : public UObject {}")
		assert.Equal(t, ContentHash(content), ContentHash(content))
	})

	t.Run("differs on different content", func(t *testing.T) {
		assert.NotEqual(t, ContentHash([]byte("aaa")), ContentHash([]byte("aab")))
	})

	t.Run("empty content hashes", func(t *testing.T) {
		// The zero-length digest is still a defined value.
		assert.Equal(t, ContentHash(nil), ContentHash([]byte{}))
	})
}

func TestPatternToTrigrams(t *testing.T) {
	t.Run("literal pattern equals extraction", func(t *testing.T) {
		// Property: for pure literals the required set is exactly the
		// pattern's own trigram set.
		for _, lit := range []string{"DestroyActor", "BeginPlay", "abc", "FTimerHandle", "a_b_c_d"} {
			assert.Equal(t, ExtractString(lit), PatternToTrigrams(lit, false), "literal %q", lit)
		}
	})

	t.Run("short literal is unindexable", func(t *testing.T) {
		assert.Empty(t, PatternToTrigrams("ab", false))
	})

	t.Run("unindexable regexes", func(t *testing.T) {
		for _, pattern := range []string{".*", "a|b", "[abc]+", "a?b?", "^..$"} {
			assert.Empty(t, PatternToTrigrams(pattern, true), "pattern %q", pattern)
		}
	})

	t.Run("alternation intersects branch sets", func(t *testing.T) {
		got := PatternToTrigrams("DestroyActor|DestroyPawn", true)
		// Only the shared Destroy prefix survives the intersection.
		want := ExtractString("destroy")
		assert.Equal(t, want, got)
	})

	t.Run("alternation with disjoint branches is unindexable as one set", func(t *testing.T) {
		assert.Empty(t, PatternToTrigrams("DestroyActor|SetTimer", true))
	})

	t.Run("branch sets stay available for disjoint alternations", func(t *testing.T) {
		sets := BranchTrigrams("DestroyActor|DestroyPawn|SetTimer|FTimerHandle", true)
		require.Len(t, sets, 4)
		assert.Equal(t, ExtractString("destroyactor"), sets[0])
		assert.Equal(t, ExtractString("settimer"), sets[2])
	})

	t.Run("empty branch poisons all branches", func(t *testing.T) {
		assert.Nil(t, BranchTrigrams("DestroyActor|ab", true))
	})

	t.Run("star removes preceding literal", func(t *testing.T) {
		// abcd* matches "abc": the d must not be required.
		got := PatternToTrigrams("abcd*", true)
		assert.Equal(t, ExtractString("abc"), got)
	})

	t.Run("optional removes preceding literal", func(t *testing.T) {
		got := PatternToTrigrams("abcde?", true)
		assert.Equal(t, ExtractString("abcd"), got)
	})

	t.Run("plus keeps preceding literal", func(t *testing.T) {
		got := PatternToTrigrams("abc+", true)
		assert.Equal(t, ExtractString("abc"), got)
	})

	t.Run("dot breaks runs", func(t *testing.T) {
		got := PatternToTrigrams("abc.def", true)
		assert.ElementsMatch(t, append(ExtractString("abc"), ExtractString("def")...), got)
	})

	t.Run("escaped metacharacters are literals", func(t *testing.T) {
		got := PatternToTrigrams(`a\.bc`, true)
		assert.Equal(t, ExtractString("a.bc"), got)
	})

	t.Run("class escapes break runs", func(t *testing.T) {
		got := PatternToTrigrams(`abc\dxyz`, true)
		assert.ElementsMatch(t, append(ExtractString("abc"), ExtractString("xyz")...), got)
	})

	t.Run("character class breaks runs", func(t *testing.T) {
		got := PatternToTrigrams("foo[0-9]bar", true)
		assert.ElementsMatch(t, append(ExtractString("foo"), ExtractString("bar")...), got)
	})

	t.Run("nested groups contribute nothing", func(t *testing.T) {
		// The inner alternation must not leak required trigrams.
		got := PatternToTrigrams("prefix(bar|baz)suffix", true)
		assert.ElementsMatch(t, append(ExtractString("prefix"), ExtractString("suffix")...), got)
	})

	t.Run("pipe inside class is literal", func(t *testing.T) {
		sets := BranchTrigrams("abc[|]def", true)
		require.Len(t, sets, 1)
	})
}

// TestTrigramSoundness verifies the core guarantee: any string matching the
// pattern case-insensitively (grep's default) contains every required trigram.
func TestTrigramSoundness(t *testing.T) {
	cases := []struct {
		pattern string
		matches []string
	}{
		{"DestroyActor", []string{"xxDestroyActorxx", "DESTROYACTOR"}},
		{"abc.def", []string{"abcXdef", "zzabc_defzz"}},
		{"abcd*", []string{"xxabcxx", "abcddd"}},
		{"foo(bar|baz)qux", []string{"foobarqux", "foobazqux"}},
		{"colou?r", []string{"color", "colour"}},
		{`End\(Play\)`, []string{"xEnd(Play)x"}},
	}
	for _, tc := range cases {
		req := PatternToTrigrams(tc.pattern, true)
		re := regexp.MustCompile("(?i)" + tc.pattern)
		for _, m := range tc.matches {
			require.True(t, re.MatchString(m), "fixture %q must match %q", m, tc.pattern)
			have := map[uint32]bool{}
			for _, tg := range ExtractString(strings.ToLower(m)) {
				have[tg] = true
			}
			for _, tg := range req {
				assert.True(t, have[tg], "pattern %q: trigram %06x missing from match %q", tc.pattern, tg, m)
			}
		}
	}
}

func TestDiff(t *testing.T) {
	oldSet := []uint32{1, 2, 3, 5}
	newSet := []uint32{2, 4, 5, 6}
	removed, added := Diff(oldSet, newSet)
	assert.Equal(t, []uint32{1, 3}, removed)
	assert.Equal(t, []uint32{4, 6}, added)

	t.Run("identical sets diff empty", func(t *testing.T) {
		removed, added := Diff(oldSet, oldSet)
		assert.Empty(t, removed)
		assert.Empty(t, added)
	})
}

func randomContent(rng *rand.Rand, n int) []byte {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABC012_ \n\t(){};"
	out := make([]byte, n)
	for i := range out {
		out[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return out
}
