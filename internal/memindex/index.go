package memindex

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/standardbeagle/uci/internal/store"
)

// Index is the process-wide holder of the current snapshot. Readers take a
// cheap atomic reference; the single ingest writer publishes a new snapshot
// per batch.
type Index struct {
	log     zerolog.Logger
	current atomic.Pointer[Snapshot]
	loaded  atomic.Bool

	// patchMu serializes snapshot publication. Ingest batches already
	// serialize upstream; this guards direct Load/Patch races at startup.
	patchMu sync.Mutex
}

// New creates an empty, not-yet-loaded index.
func New(log zerolog.Logger) *Index {
	idx := &Index{log: log.With().Str("component", "memindex").Logger()}
	idx.current.Store(newSnapshot())
	return idx
}

// Load rebuilds the index from the durable store and publishes it. Called
// once at startup; safe to call again to force a full rebuild.
func (idx *Index) Load(ctx context.Context, st *store.Store) error {
	snap, err := st.LoadAll(ctx)
	if err != nil {
		return err
	}
	built := build(snap.Files, snap.Types, snap.Members, snap.Assets)

	idx.patchMu.Lock()
	idx.current.Store(built)
	idx.loaded.Store(true)
	idx.patchMu.Unlock()

	idx.log.Info().
		Int("files", len(snap.Files)).
		Int("types", len(snap.Types)).
		Int("members", len(snap.Members)).
		Int("assets", len(snap.Assets)).
		Msg("memory index loaded")
	return nil
}

// Loaded reports whether a real snapshot has been published. Query handlers
// return "index still loading" hints until this flips.
func (idx *Index) Loaded() bool {
	return idx.loaded.Load()
}

// Current returns the live snapshot. The result is immutable and safe to use
// for the whole request even while ingest publishes successors.
func (idx *Index) Current() *Snapshot {
	return idx.current.Load()
}

// Apply patches the current snapshot with one committed ingest diff and
// publishes the successor.
func (idx *Index) Apply(diff Diff) {
	idx.patchMu.Lock()
	defer idx.patchMu.Unlock()
	next := idx.current.Load().patch(diff)
	idx.current.Store(next)
}
