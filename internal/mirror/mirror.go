// Package mirror maintains a directory tree of decompressed source files for
// the external full-text engine. Paths are rebased under the longest common
// prefix of all indexed paths; the mirror is advisory and can always be
// rebuilt from the durable store.
package mirror

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/types"
)

const markerName = ".marker"

// marker guards bootstrap detection: a mirror whose marker matches the store
// contents is reused instead of rewritten.
type marker struct {
	Timestamp  string `json:"timestamp"`
	FileCount  int    `json:"fileCount"`
	PathPrefix string `json:"pathPrefix"`
}

// Maintainer owns the mirror directory. One writer (ingest or bootstrap) at a
// time; the external engine reads concurrently.
type Maintainer struct {
	root string
	log  zerolog.Logger

	mu     sync.Mutex
	prefix string
}

// New creates a maintainer rooted at dir. The path prefix is established by
// Bootstrap.
func New(dir string, log zerolog.Logger) *Maintainer {
	return &Maintainer{root: dir, log: log.With().Str("component", "mirror").Logger()}
}

// Root returns the mirror directory.
func (m *Maintainer) Root() string {
	return m.root
}

// Prefix returns the indexed-path prefix currently stripped from mirrored
// paths.
func (m *Maintainer) Prefix() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefix
}

// Bootstrap rewrites the mirror from the store in one pass. When the marker
// file matches the store's file count and computed prefix, the existing tree
// is kept.
func (m *Maintainer) Bootstrap(ctx context.Context, st *store.Store) error {
	paths, err := st.SourcePaths(ctx)
	if err != nil {
		return err
	}
	all := make([]string, 0, len(paths))
	for _, p := range paths {
		all = append(all, p)
	}
	prefix := longestCommonPrefix(all)

	m.mu.Lock()
	m.prefix = prefix
	m.mu.Unlock()

	if mk, err := m.readMarker(); err == nil && mk != nil &&
		mk.FileCount == len(paths) && mk.PathPrefix == prefix {
		m.log.Debug().Int("files", len(paths)).Msg("mirror marker matches store, keeping tree")
		return nil
	}

	if err := os.RemoveAll(m.root); err != nil {
		return uerr.Internal("clear mirror", err)
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return uerr.Internal("create mirror root", err)
	}

	written := 0
	for id, p := range paths {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		content, err := st.GetContent(ctx, id)
		if err != nil {
			// A file without content in a source-path listing is a store bug,
			// but the mirror is advisory: log and keep going.
			m.log.Warn().Err(err).Str("path", p).Msg("skipping file during mirror bootstrap")
			continue
		}
		if err := m.write(p, content); err != nil {
			return err
		}
		written++
	}

	if err := m.writeMarker(marker{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		FileCount:  len(paths),
		PathPrefix: prefix,
	}); err != nil {
		return err
	}
	m.log.Info().Int("files", written).Str("prefix", prefix).Msg("mirror bootstrapped")
	return nil
}

// UpdateFile writes one file, creating parent directories.
func (m *Maintainer) UpdateFile(p string, content []byte) error {
	return m.write(p, content)
}

// DeleteFile removes one file; a missing file is not an error.
func (m *Maintainer) DeleteFile(p string) error {
	local := m.localPath(p)
	if local == "" {
		return nil
	}
	if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
		return uerr.Internal("delete mirrored file", err)
	}
	return nil
}

// DeletePrefix removes the subtree a path prefix maps to.
func (m *Maintainer) DeletePrefix(p string) error {
	local := m.localPath(strings.TrimSuffix(p, "/"))
	if local == "" || local == m.root {
		return nil
	}
	if err := os.RemoveAll(local); err != nil {
		return uerr.Internal("delete mirrored prefix", err)
	}
	return nil
}

func (m *Maintainer) write(p string, content []byte) error {
	local := m.localPath(p)
	if local == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return uerr.Internal("create mirror directory", err)
	}
	if err := os.WriteFile(local, content, 0o644); err != nil {
		return uerr.Internal("write mirrored file", err)
	}
	return nil
}

// localPath rebases an indexed path into the mirror. Paths outside the
// established prefix still land inside the root via their cleaned relative
// form; paths that climb out of the root with ".." are refused.
func (m *Maintainer) localPath(p string) string {
	p = types.CleanPath(p)
	m.mu.Lock()
	prefix := m.prefix
	m.mu.Unlock()

	rel := strings.TrimPrefix(p, prefix)
	rel = strings.TrimPrefix(rel, "/")
	// Windows drive residue after prefix stripping.
	rel = strings.ReplaceAll(rel, ":", "")
	rel = path.Clean(rel)
	if rel == "" || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.Join(m.root, filepath.FromSlash(rel))
}

func (m *Maintainer) readMarker() (*marker, error) {
	raw, err := os.ReadFile(filepath.Join(m.root, markerName))
	if err != nil {
		return nil, err
	}
	var mk marker
	if err := json.Unmarshal(raw, &mk); err != nil {
		return nil, err
	}
	return &mk, nil
}

func (m *Maintainer) writeMarker(mk marker) error {
	raw, err := json.Marshal(mk)
	if err != nil {
		return uerr.Internal("encode mirror marker", err)
	}
	if err := os.WriteFile(filepath.Join(m.root, markerName), raw, 0o644); err != nil {
		return uerr.Internal("write mirror marker", err)
	}
	return nil
}

// longestCommonPrefix computes the segment-wise common prefix of forward-slash
// paths. A single path contributes its parent directory.
func longestCommonPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	split := func(p string) []string {
		return strings.Split(strings.TrimSuffix(types.CleanPath(p), "/"), "/")
	}
	common := split(paths[0])
	// The last segment is the file name, never part of the prefix.
	if len(common) > 0 {
		common = common[:len(common)-1]
	}
	for _, p := range paths[1:] {
		segs := split(p)
		if len(segs) > 0 {
			segs = segs[:len(segs)-1]
		}
		n := 0
		for n < len(common) && n < len(segs) && common[n] == segs[n] {
			n++
		}
		common = common[:n]
		if len(common) == 0 {
			break
		}
	}
	return strings.Join(common, "/")
}
