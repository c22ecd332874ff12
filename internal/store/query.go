package store

import (
	"context"
	"database/sql"

	uerr "github.com/standardbeagle/uci/internal/errors"
	"github.com/standardbeagle/uci/internal/types"
)

// querier lets the read helpers run on the shared pool or on a pinned
// query-pool connection.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const fileColumns = `id, path, relative_path, project, language, module, mtime_ms, content_hash`

func scanFile(scan func(...any) error) (types.FileRecord, error) {
	var f types.FileRecord
	var lang string
	err := scan(&f.ID, &f.Path, &f.RelativePath, &f.Project, &lang, &f.Module, &f.MtimeMs, &f.ContentHash)
	f.Language = types.Language(lang)
	return f, err
}

// GetFile loads one file row by id.
func (s *Store) GetFile(ctx context.Context, id types.FileID) (types.FileRecord, error) {
	return getFile(ctx, s.db, id)
}

func getFile(ctx context.Context, q querier, id types.FileID) (types.FileRecord, error) {
	row := q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, int64(id))
	f, err := scanFile(row.Scan)
	if err == sql.ErrNoRows {
		return f, uerr.NotFound("file %d not indexed", id)
	}
	if err != nil {
		return f, uerr.Unavailable("load file", err)
	}
	return f, nil
}

// GetAllFiles returns every file row. Grep uses this when the pattern is
// unindexable and a full scan is unavoidable.
func (s *Store) GetAllFiles(ctx context.Context) ([]types.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY id`)
	if err != nil {
		return nil, uerr.Unavailable("list files", err)
	}
	defer rows.Close()
	var files []types.FileRecord
	for rows.Next() {
		f, err := scanFile(rows.Scan)
		if err != nil {
			return nil, uerr.Unavailable("scan file", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, uerr.Unavailable("iterate files", err)
	}
	return files, nil
}

// GetContent returns the decompressed source of a file. Content-language
// files have none and yield NotFound.
func (s *Store) GetContent(ctx context.Context, id types.FileID) ([]byte, error) {
	return s.getContent(ctx, s.db, id)
}

// GetContentOn is GetContent over a pinned connection.
func (s *Store) GetContentOn(ctx context.Context, conn *sql.Conn, id types.FileID) ([]byte, error) {
	return s.getContent(ctx, conn, id)
}

func (s *Store) getContent(ctx context.Context, q querier, id types.FileID) ([]byte, error) {
	var blob []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM file_content WHERE file_id = ?`, int64(id)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, uerr.NotFound("no stored content for file %d", id)
	}
	if err != nil {
		return nil, uerr.Unavailable("load content", err)
	}
	return s.decompress(blob)
}

// FindFilesByName looks files up by base name (case-insensitive, optional
// project/language narrowing). This is a cold-path query served through the
// query pool.
func (s *Store) FindFilesByName(ctx context.Context, conn *sql.Conn, name string, filter CandidateFilter, limit int) ([]types.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE name = ? COLLATE NOCASE`
	args := []any{name}
	if filter.Project != "" {
		query += ` AND project = ?`
		args = append(args, filter.Project)
	}
	if filter.Language != "" {
		query += ` AND language = ?`
		args = append(args, string(filter.Language))
	}
	query += ` ORDER BY path LIMIT ?`
	args = append(args, limit)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, uerr.Unavailable("find files", err)
	}
	defer rows.Close()
	var files []types.FileRecord
	for rows.Next() {
		f, err := scanFile(rows.Scan)
		if err != nil {
			return nil, uerr.Unavailable("scan file", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, uerr.Unavailable("iterate files", err)
	}
	return files, nil
}

// LoadSnapshot streams the whole relational index in the shape the memory
// index is built from.
type LoadSnapshot struct {
	Files   []types.FileRecord
	Types   []types.TypeDecl
	Members []types.Member
	Assets  []types.Asset
}

// LoadAll reads every file, declaration, and asset row. Called once at
// startup to build the memory index.
func (s *Store) LoadAll(ctx context.Context) (*LoadSnapshot, error) {
	snap := &LoadSnapshot{}
	var err error
	if snap.Files, err = s.GetAllFiles(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_id, name, kind, parent_name, line, specifiers FROM type_decls ORDER BY id`)
	if err != nil {
		return nil, uerr.Unavailable("list type decls", err)
	}
	for rows.Next() {
		var d types.TypeDecl
		var fileID int64
		var kind, specs string
		if err := rows.Scan(&d.ID, &fileID, &d.Name, &kind, &d.ParentName, &d.Line, &specs); err != nil {
			rows.Close()
			return nil, uerr.Unavailable("scan type decl", err)
		}
		d.FileID = types.FileID(fileID)
		d.Kind = types.TypeKind(kind)
		d.Specifiers = unmarshalSpecifiers(specs)
		snap.Types = append(snap.Types, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, uerr.Unavailable("iterate type decls", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, file_id, owner_name, name, kind, line, signature, specifiers FROM members ORDER BY id`)
	if err != nil {
		return nil, uerr.Unavailable("list members", err)
	}
	for rows.Next() {
		var m types.Member
		var fileID int64
		var kind, specs string
		if err := rows.Scan(&m.ID, &fileID, &m.OwnerName, &m.Name, &kind, &m.Line, &m.Signature, &specs); err != nil {
			rows.Close()
			return nil, uerr.Unavailable("scan member", err)
		}
		m.FileID = types.FileID(fileID)
		m.Kind = types.MemberKind(kind)
		m.Specifiers = unmarshalSpecifiers(specs)
		snap.Members = append(snap.Members, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, uerr.Unavailable("iterate members", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, project, path, name, class, parent_class, folder FROM assets ORDER BY id`)
	if err != nil {
		return nil, uerr.Unavailable("list assets", err)
	}
	for rows.Next() {
		var a types.Asset
		if err := rows.Scan(&a.ID, &a.Project, &a.Path, &a.Name, &a.Class, &a.ParentClass, &a.Folder); err != nil {
			rows.Close()
			return nil, uerr.Unavailable("scan asset", err)
		}
		snap.Assets = append(snap.Assets, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, uerr.Unavailable("iterate assets", err)
	}
	rows.Close()

	return snap, nil
}

// SourcePaths returns path and id of every file with stored content, for
// mirror bootstrap.
func (s *Store) SourcePaths(ctx context.Context) (map[types.FileID]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.path FROM files f JOIN file_content c ON c.file_id = f.id`)
	if err != nil {
		return nil, uerr.Unavailable("list source paths", err)
	}
	defer rows.Close()
	out := make(map[types.FileID]string)
	for rows.Next() {
		var id int64
		var path string
		if err := rows.Scan(&id, &path); err != nil {
			return nil, uerr.Unavailable("scan source path", err)
		}
		out[types.FileID(id)] = path
	}
	if err := rows.Err(); err != nil {
		return nil, uerr.Unavailable("iterate source paths", err)
	}
	return out, nil
}
