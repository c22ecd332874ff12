// Package ingest is the only path that mutates durable state. Batches arrive
// from the watcher, run as one store transaction, and fan out to the memory
// index, the mirror, and the reindex debouncer only after commit.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/standardbeagle/uci/internal/config"
	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/memindex"
	"github.com/standardbeagle/uci/internal/mirror"
	"github.com/standardbeagle/uci/internal/store"
	"github.com/standardbeagle/uci/internal/types"
	"github.com/standardbeagle/uci/internal/zoekt"
)

// FilePayload is one file in an ingest request. Content is omitted for
// content-class files (assets carry no source).
type FilePayload struct {
	Path         string           `json:"path"`
	RelativePath string           `json:"relativePath"`
	Project      string           `json:"project"`
	Language     types.Language   `json:"language"`
	Content      string           `json:"content"`
	Mtime        int64            `json:"mtime"`
	Types        []types.TypeDecl `json:"types"`
	Members      []types.Member   `json:"members"`
}

// DeletePayload tombstones a path, or a whole prefix when the watcher
// reconciles a project root.
type DeletePayload struct {
	Path   string `json:"path"`
	Prefix bool   `json:"prefix,omitempty"`
}

// ProgressPayload updates per-language status without touching data.
type ProgressPayload struct {
	Language types.Language `json:"language"`
	Current  int            `json:"current"`
	Total    int            `json:"total"`
}

// Request is the POST /internal/ingest body.
type Request struct {
	Files    []FilePayload     `json:"files,omitempty"`
	Assets   []types.Asset     `json:"assets,omitempty"`
	Deletes  []DeletePayload   `json:"deletes,omitempty"`
	Progress []ProgressPayload `json:"progress,omitempty"`
}

// Response acknowledges a committed batch.
type Response struct {
	OK             bool  `json:"ok"`
	FilesUpserted  int   `json:"filesUpserted"`
	AssetsUpserted int   `json:"assetsUpserted"`
	Deleted        int   `json:"deleted"`
	DurationMs     int64 `json:"durationMs"`
}

// Service serializes ingest batches. Concurrent requests queue FIFO on the
// writer mutex.
type Service struct {
	cfg    *config.Config
	store  *store.Store
	index  *memindex.Index
	mirror *mirror.Maintainer
	engine *zoekt.Driver
	log    zerolog.Logger

	writerMu sync.Mutex
}

// New wires the ingest pipeline.
func New(cfg *config.Config, st *store.Store, idx *memindex.Index, mir *mirror.Maintainer, engine *zoekt.Driver, log zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  st,
		index:  idx,
		mirror: mir,
		engine: engine,
		log:    log.With().Str("component", "ingest").Logger(),
	}
}

// Process runs one batch: validation, a single store transaction, and the
// post-commit fan-out. Replaying the same batch is a no-op on every store.
func (s *Service) Process(ctx context.Context, req *Request) (*Response, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	started := time.Now()

	// Progress-only requests skip the transaction entirely.
	if len(req.Files) == 0 && len(req.Assets) == 0 && len(req.Deletes) == 0 {
		for _, p := range req.Progress {
			if err := s.store.SetIndexStatus(ctx, p.Language, types.StateIndexing, p.Current, p.Total, ""); err != nil {
				return nil, err
			}
		}
		return &Response{OK: true, DurationMs: time.Since(started).Milliseconds()}, nil
	}

	languages := batchLanguages(req)
	for lang := range languages {
		if err := s.store.SetIndexStatus(ctx, lang, types.StateIndexing, 0, 0, ""); err != nil {
			return nil, err
		}
	}

	changes, err := s.store.RunBatch(ctx, func(tx *store.BatchTx) error {
		for _, d := range req.Deletes {
			if d.Prefix {
				if err := tx.DeleteByPrefix(d.Path); err != nil {
					return err
				}
			} else if err := tx.DeleteByPath(d.Path); err != nil {
				return err
			}
		}
		for _, f := range req.Files {
			record := types.FileRecord{
				Path:         f.Path,
				RelativePath: f.RelativePath,
				Project:      f.Project,
				Language:     f.Language,
				MtimeMs:      f.Mtime,
			}
			if err := tx.UpsertFile(record, f.Types, f.Members, []byte(f.Content)); err != nil {
				return err
			}
		}
		if len(req.Assets) > 0 {
			if err := tx.UpsertAssets(req.Assets); err != nil {
				return err
			}
		}
		for _, p := range req.Progress {
			if err := tx.SetIndexStatus(p.Language, types.StateIndexing, p.Current, p.Total, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		for lang := range languages {
			if serr := s.store.SetIndexStatus(ctx, lang, types.StateError, 0, 0, err.Error()); serr != nil {
				s.log.Warn().Err(serr).Msg("failed to record batch error status")
			}
		}
		return nil, err
	}

	s.fanOut(changes)

	if err := s.store.SetMetadata(ctx, "last_build", time.Now().UTC().Format(time.RFC3339)); err != nil {
		s.log.Warn().Err(err).Msg("failed to record last build")
	}

	if len(req.Progress) == 0 {
		for lang := range languages {
			if err := s.store.SetIndexStatus(ctx, lang, types.StateReady, 0, 0, ""); err != nil {
				s.log.Warn().Err(err).Msg("failed to record batch ready status")
			}
		}
	}

	return &Response{
		OK:             true,
		FilesUpserted:  len(changes.Upserts),
		AssetsUpserted: len(changes.Assets),
		Deleted:        changes.Deleted,
		DurationMs:     time.Since(started).Milliseconds(),
	}, nil
}

// fanOut applies a committed change set to the derived stores. Failures here
// are logged, never returned: the durable state already committed, and both
// the mirror and the memory index can be rebuilt from it.
func (s *Service) fanOut(changes *store.ChangeSet) {
	diff := memindex.Diff{
		UpsertAssets:      changes.Assets,
		RemovedAssetPaths: changes.RemovedAssets,
	}
	for _, rm := range changes.RemovedFiles {
		diff.RemovedFileIDs = append(diff.RemovedFileIDs, rm.ID)
	}
	for _, up := range changes.Upserts {
		diff.UpsertFiles = append(diff.UpsertFiles, memindex.FileUpdate{
			File:    up.File,
			Types:   up.Types,
			Members: up.Members,
		})
	}
	s.index.Apply(diff)

	mirrorDirty := false
	for _, rm := range changes.RemovedFiles {
		if err := s.mirror.DeleteFile(rm.Path); err != nil {
			s.log.Warn().Err(err).Str("path", rm.Path).Msg("mirror delete failed")
		}
		mirrorDirty = true
	}
	for _, up := range changes.Upserts {
		if !up.ContentChanged {
			continue
		}
		if err := s.mirror.UpdateFile(up.File.Path, up.Content); err != nil {
			s.log.Warn().Err(err).Str("path", up.File.Path).Msg("mirror update failed")
		}
		mirrorDirty = true
	}
	if mirrorDirty && s.engine != nil {
		s.engine.TriggerReindex(s.mirror.Root())
	}
}

// validate rejects malformed batches before any state is touched.
func (s *Service) validate(req *Request) error {
	for i, f := range req.Files {
		if f.Path == "" {
			return uerr.BadRequest("files[%d]: path is required", i)
		}
		if !f.Language.Valid() {
			return uerr.BadRequest("files[%d]: unknown language %q", i, f.Language)
		}
		if f.Project == "" {
			return uerr.BadRequest("files[%d]: project is required", i)
		}
		if len(s.cfg.Projects) > 0 && !s.cfg.HasProject(f.Project) {
			return uerr.BadRequest("files[%d]: unknown project %q", i, f.Project)
		}
		if f.Language.HasSource() && f.Content == "" && (len(f.Types) > 0 || len(f.Members) > 0) {
			return uerr.BadRequest("files[%d]: declarations without content", i)
		}
		for j, d := range f.Types {
			if d.Name == "" || !d.Kind.Valid() || d.Line < 1 {
				return uerr.BadRequest("files[%d].types[%d]: invalid declaration", i, j)
			}
		}
		for j, m := range f.Members {
			if m.Name == "" || !m.Kind.Valid() || m.Line < 1 {
				return uerr.BadRequest("files[%d].members[%d]: invalid member", i, j)
			}
		}
	}
	for i, a := range req.Assets {
		if a.Path == "" || a.Name == "" {
			return uerr.BadRequest("assets[%d]: path and name are required", i)
		}
	}
	for i, d := range req.Deletes {
		if d.Path == "" {
			return uerr.BadRequest("deletes[%d]: path is required", i)
		}
	}
	for i, p := range req.Progress {
		if !p.Language.Valid() {
			return uerr.BadRequest("progress[%d]: unknown language %q", i, p.Language)
		}
	}
	return nil
}

func batchLanguages(req *Request) map[types.Language]bool {
	langs := make(map[types.Language]bool)
	for _, f := range req.Files {
		langs[f.Language] = true
	}
	if len(req.Assets) > 0 {
		langs[types.LangContent] = true
	}
	return langs
}
