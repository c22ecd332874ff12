package store

import (
	"context"
	"database/sql"
	"encoding/json"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/trigram"
	"github.com/standardbeagle/uci/internal/types"
)

// FileUpsert is the outcome of one file upsert inside a batch, in the shape
// the memory index and the mirror consume after commit.
type FileUpsert struct {
	File    types.FileRecord
	Types   []types.TypeDecl
	Members []types.Member

	// Content is the raw (uncompressed) source, present only when the stored
	// content actually changed; the mirror writes exactly these.
	Content        []byte
	ContentChanged bool
}

// RemovedFile identifies a file removed by a batch.
type RemovedFile struct {
	ID   types.FileID
	Path string
}

// ChangeSet is everything a committed batch changed, for post-commit fan-out
// to the memory index, the mirror, and the reindex debouncer.
type ChangeSet struct {
	Upserts       []FileUpsert
	RemovedFiles  []RemovedFile
	Assets        []types.Asset
	RemovedAssets []string // content-browser paths
	Deleted       int      // delete entries that matched anything
}

// BatchTx is the single-writer transaction handed to the ingest service. All
// methods must be called from one goroutine.
type BatchTx struct {
	s   *Store
	tx  *sql.Tx
	ctx context.Context

	changes ChangeSet
}

// RunBatch executes fn inside one write transaction. On success the committed
// ChangeSet is returned and the stats cache is invalidated. On failure the
// transaction is rolled back and nothing is visible.
func (s *Store) RunBatch(ctx context.Context, fn func(*BatchTx) error) (*ChangeSet, error) {
	if s.readOnly.Load() {
		return nil, uerr.Corrupt("store is read-only after a corruption observation", nil)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, uerr.Unavailable("begin batch", err)
	}
	b := &BatchTx{s: s, tx: tx, ctx: ctx}
	if err := fn(b); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, s.classify("commit batch", err)
	}
	s.stats.invalidate()
	return &b.changes, nil
}

// UpsertFile inserts or updates one file with its declarations and content
// atomically, diffing the trigram postings so lists gain or lose this file id
// minimally. A file whose (project, language) pair changed is treated as a
// delete plus an insert, per the file identity invariant.
func (b *BatchTx) UpsertFile(file types.FileRecord, decls []types.TypeDecl, members []types.Member, content []byte) error {
	file.Path = types.CleanPath(file.Path)
	file.RelativePath = types.CleanPath(file.RelativePath)
	if file.Module == "" {
		file.Module = types.DeriveModule(file.Project, file.RelativePath)
	}
	newHash := trigram.ContentHash(content)

	var (
		existingID   int64
		existingHash int64
		existingProj string
		existingLang string
	)
	err := b.tx.QueryRowContext(b.ctx,
		`SELECT id, content_hash, project, language FROM files WHERE path = ?`, file.Path).
		Scan(&existingID, &existingHash, &existingProj, &existingLang)
	switch {
	case err == sql.ErrNoRows:
		return b.insertFile(file, decls, members, content, newHash)
	case err != nil:
		return b.s.classify("lookup file", err)
	}

	if existingProj != file.Project || existingLang != string(file.Language) {
		if err := b.deleteFileRow(types.FileID(existingID), file.Path); err != nil {
			return err
		}
		return b.insertFile(file, decls, members, content, newHash)
	}

	file.ID = types.FileID(existingID)
	file.ContentHash = newHash
	contentChanged := existingHash != newHash && file.Language.HasSource()

	if contentChanged {
		oldContent, err := b.fileContent(file.ID)
		if err != nil {
			return err
		}
		removed, added := trigram.Diff(trigram.Extract(oldContent), trigram.Extract(content))
		if err := removeFileFromPostings(b.tx, removed, file.ID); err != nil {
			return b.s.classify("update postings", err)
		}
		if err := addFileToPostings(b.tx, added, file.ID); err != nil {
			return b.s.classify("update postings", err)
		}
		if _, err := b.tx.ExecContext(b.ctx,
			`INSERT INTO file_content (file_id, data) VALUES (?, ?)
			 ON CONFLICT(file_id) DO UPDATE SET data = excluded.data`,
			int64(file.ID), b.s.compress(content)); err != nil {
			return b.s.classify("store content", err)
		}
	}

	if _, err := b.tx.ExecContext(b.ctx,
		`UPDATE files SET relative_path = ?, name = ?, module = ?, mtime_ms = ?, content_hash = ? WHERE id = ?`,
		file.RelativePath, baseName(file.Path), file.Module, file.MtimeMs, newHash, int64(file.ID)); err != nil {
		return b.s.classify("update file", err)
	}

	// Parser output may change without a content change (a parser upgrade),
	// so declarations are always replaced.
	decls, members, err = b.replaceDecls(file.ID, decls, members)
	if err != nil {
		return err
	}

	up := FileUpsert{File: file, Types: decls, Members: members, ContentChanged: contentChanged}
	if contentChanged {
		up.Content = content
	}
	b.changes.Upserts = append(b.changes.Upserts, up)
	return nil
}

// insertFile creates a brand-new file row with content, postings, and
// declarations.
func (b *BatchTx) insertFile(file types.FileRecord, decls []types.TypeDecl, members []types.Member, content []byte, hash int64) error {
	file.ContentHash = hash
	res, err := b.tx.ExecContext(b.ctx,
		`INSERT INTO files (path, relative_path, name, project, language, module, mtime_ms, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		file.Path, file.RelativePath, baseName(file.Path), file.Project, string(file.Language),
		file.Module, file.MtimeMs, hash)
	if err != nil {
		return b.s.classify("insert file", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return uerr.Internal("file rowid", err)
	}
	file.ID = types.FileID(id)

	hasContent := file.Language.HasSource()
	if hasContent {
		if _, err := b.tx.ExecContext(b.ctx,
			`INSERT INTO file_content (file_id, data) VALUES (?, ?)`,
			id, b.s.compress(content)); err != nil {
			return b.s.classify("store content", err)
		}
		if err := addFileToPostings(b.tx, trigram.Extract(content), file.ID); err != nil {
			return b.s.classify("add postings", err)
		}
	}

	decls, members, err = b.replaceDecls(file.ID, decls, members)
	if err != nil {
		return err
	}

	up := FileUpsert{File: file, Types: decls, Members: members, ContentChanged: hasContent}
	if hasContent {
		up.Content = content
	}
	b.changes.Upserts = append(b.changes.Upserts, up)
	return nil
}

// replaceDecls swaps all declarations of a file in one pass and returns them
// with their assigned row ids and file id.
func (b *BatchTx) replaceDecls(fileID types.FileID, decls []types.TypeDecl, members []types.Member) ([]types.TypeDecl, []types.Member, error) {
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM type_decls WHERE file_id = ?`, int64(fileID)); err != nil {
		return nil, nil, b.s.classify("clear type decls", err)
	}
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM members WHERE file_id = ?`, int64(fileID)); err != nil {
		return nil, nil, b.s.classify("clear members", err)
	}

	insType, err := b.tx.PrepareContext(b.ctx,
		`INSERT INTO type_decls (file_id, name, kind, parent_name, line, specifiers) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, nil, b.s.classify("prepare type insert", err)
	}
	defer insType.Close()
	for i := range decls {
		decls[i].FileID = fileID
		res, err := insType.ExecContext(b.ctx, int64(fileID), decls[i].Name, string(decls[i].Kind),
			decls[i].ParentName, decls[i].Line, marshalSpecifiers(decls[i].Specifiers))
		if err != nil {
			return nil, nil, b.s.classify("insert type decl", err)
		}
		if decls[i].ID, err = res.LastInsertId(); err != nil {
			return nil, nil, uerr.Internal("type rowid", err)
		}
	}

	insMember, err := b.tx.PrepareContext(b.ctx,
		`INSERT INTO members (file_id, owner_name, name, kind, line, signature, specifiers) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, nil, b.s.classify("prepare member insert", err)
	}
	defer insMember.Close()
	for i := range members {
		members[i].FileID = fileID
		res, err := insMember.ExecContext(b.ctx, int64(fileID), members[i].OwnerName, members[i].Name,
			string(members[i].Kind), members[i].Line, members[i].Signature, marshalSpecifiers(members[i].Specifiers))
		if err != nil {
			return nil, nil, b.s.classify("insert member", err)
		}
		if members[i].ID, err = res.LastInsertId(); err != nil {
			return nil, nil, uerr.Internal("member rowid", err)
		}
	}
	return decls, members, nil
}

// UpsertAssets inserts or updates assets by content-browser path.
func (b *BatchTx) UpsertAssets(assets []types.Asset) error {
	stmt, err := b.tx.PrepareContext(b.ctx,
		`INSERT INTO assets (project, path, name, class, parent_class, folder) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			project = excluded.project, name = excluded.name, class = excluded.class,
			parent_class = excluded.parent_class, folder = excluded.folder`)
	if err != nil {
		return b.s.classify("prepare asset upsert", err)
	}
	defer stmt.Close()

	for i := range assets {
		a := &assets[i]
		if a.Folder == "" {
			a.Folder = folderOf(a.Path)
		}
		if _, err := stmt.ExecContext(b.ctx, a.Project, a.Path, a.Name, a.Class, a.ParentClass, a.Folder); err != nil {
			return b.s.classify("upsert asset", err)
		}
		if err := b.tx.QueryRowContext(b.ctx, `SELECT id FROM assets WHERE path = ?`, a.Path).Scan(&a.ID); err != nil {
			return b.s.classify("asset id", err)
		}
		b.changes.Assets = append(b.changes.Assets, *a)
	}
	return nil
}

// DeleteByPath removes one file and all its dependents. Deleting a missing
// path is a no-op, not an error: deletes are idempotent.
func (b *BatchTx) DeleteByPath(path string) error {
	path = types.CleanPath(path)
	var id int64
	err := b.tx.QueryRowContext(b.ctx, `SELECT id FROM files WHERE path = ?`, path).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return b.s.classify("lookup delete path", err)
	}
	if err := b.deleteFileRow(types.FileID(id), path); err != nil {
		return err
	}
	b.changes.Deleted++
	return nil
}

// DeleteByPrefix is the project-root tombstone: it removes every file whose
// path starts with prefix, and every asset whose content-browser path does.
func (b *BatchTx) DeleteByPrefix(prefix string) error {
	prefix = types.CleanPath(prefix)
	rows, err := b.tx.QueryContext(b.ctx,
		`SELECT id, path FROM files WHERE path LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return b.s.classify("lookup delete prefix", err)
	}
	type hit struct {
		id   int64
		path string
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.id, &h.path); err != nil {
			rows.Close()
			return b.s.classify("scan delete prefix", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return b.s.classify("iterate delete prefix", err)
	}
	rows.Close()

	for _, h := range hits {
		if err := b.deleteFileRow(types.FileID(h.id), h.path); err != nil {
			return err
		}
	}

	arows, err := b.tx.QueryContext(b.ctx,
		`SELECT path FROM assets WHERE path LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return b.s.classify("lookup asset prefix", err)
	}
	var assetPaths []string
	for arows.Next() {
		var p string
		if err := arows.Scan(&p); err != nil {
			arows.Close()
			return b.s.classify("scan asset prefix", err)
		}
		assetPaths = append(assetPaths, p)
	}
	if err := arows.Err(); err != nil {
		arows.Close()
		return b.s.classify("iterate asset prefix", err)
	}
	arows.Close()
	for _, p := range assetPaths {
		if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM assets WHERE path = ?`, p); err != nil {
			return b.s.classify("delete asset", err)
		}
		b.changes.RemovedAssets = append(b.changes.RemovedAssets, p)
	}

	if len(hits) > 0 || len(assetPaths) > 0 {
		b.changes.Deleted++
	}
	return nil
}

// SetIndexStatus updates one per-language status row.
func (b *BatchTx) SetIndexStatus(lang types.Language, state types.IndexState, current, total int, errMsg string) error {
	return setIndexStatus(b.ctx, b.tx, lang, state, current, total, errMsg)
}

// deleteFileRow removes one file, pruning its posting membership first (the
// cascade covers rows, not derived posting blobs).
func (b *BatchTx) deleteFileRow(id types.FileID, path string) error {
	content, err := b.fileContent(id)
	if err != nil {
		return err
	}
	if len(content) > 0 {
		if err := removeFileFromPostings(b.tx, trigram.Extract(content), id); err != nil {
			return b.s.classify("prune postings", err)
		}
	}
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM files WHERE id = ?`, int64(id)); err != nil {
		return b.s.classify("delete file", err)
	}
	b.changes.RemovedFiles = append(b.changes.RemovedFiles, RemovedFile{ID: id, Path: path})
	return nil
}

// fileContent loads and decompresses a file's stored content; missing content
// (content-language files) yields nil.
func (b *BatchTx) fileContent(id types.FileID) ([]byte, error) {
	var blob []byte
	err := b.tx.QueryRowContext(b.ctx, `SELECT data FROM file_content WHERE file_id = ?`, int64(id)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, b.s.classify("load content", err)
	}
	return b.s.decompress(blob)
}

func marshalSpecifiers(specs []string) string {
	if len(specs) == 0 {
		return "[]"
	}
	raw, _ := json.Marshal(specs)
	return string(raw)
}

func unmarshalSpecifiers(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var specs []string
	if err := json.Unmarshal([]byte(raw), &specs); err != nil {
		return nil
	}
	return specs
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func folderOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return path
}

// likePrefix escapes LIKE metacharacters in prefix and appends the wildcard.
func likePrefix(prefix string) string {
	var out []byte
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, prefix[i])
	}
	return string(out) + "%"
}
