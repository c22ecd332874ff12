package types

import (
	"strings"
	"time"
)

// Common system-wide constants
const (
	// DefaultServicePort is the per-workspace HTTP port.
	DefaultServicePort = 3847

	// DefaultZoektWebPort is the loopback port of the external full-text engine.
	DefaultZoektWebPort = 6070

	// DefaultMaxBatchQueries caps the number of inner queries in a /batch request.
	DefaultMaxBatchQueries = 10

	// DefaultGrepTimeout bounds a single grep request.
	DefaultGrepTimeout = 30 * time.Second

	// DefaultQueryTimeout bounds a single query-pool request.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultReindexDebounce coalesces external-engine reindex requests.
	DefaultReindexDebounce = 5 * time.Second
)

// FileID identifies a file row in the durable store.
// IDs are allocated by the store and never reused within a database.
type FileID int64

// Language classifies an indexed file.
type Language string

const (
	LangAngelScript Language = "angelscript"
	LangCpp         Language = "cpp"
	LangContent     Language = "content"
	LangConfig      Language = "config"
)

// Valid reports whether l is one of the recognized language classes.
func (l Language) Valid() bool {
	switch l {
	case LangAngelScript, LangCpp, LangContent, LangConfig:
		return true
	}
	return false
}

// HasSource reports whether files of this language carry stored content.
// Content-browser assets are metadata-only.
func (l Language) HasSource() bool {
	return l != LangContent
}

// TypeKind classifies a type declaration.
type TypeKind string

const (
	KindClass     TypeKind = "class"
	KindStruct    TypeKind = "struct"
	KindEnum      TypeKind = "enum"
	KindInterface TypeKind = "interface"
	KindDelegate  TypeKind = "delegate"
	KindEvent     TypeKind = "event"
	KindNamespace TypeKind = "namespace"
)

// Valid reports whether k is a recognized type kind.
func (k TypeKind) Valid() bool {
	switch k {
	case KindClass, KindStruct, KindEnum, KindInterface, KindDelegate, KindEvent, KindNamespace:
		return true
	}
	return false
}

// MemberKind classifies a member declaration.
type MemberKind string

const (
	MemberFunction  MemberKind = "function"
	MemberProperty  MemberKind = "property"
	MemberEnumValue MemberKind = "enum_value"
)

// Valid reports whether k is a recognized member kind.
func (k MemberKind) Valid() bool {
	switch k {
	case MemberFunction, MemberProperty, MemberEnumValue:
		return true
	}
	return false
}

// FileRecord is one indexed file. Path is canonical (forward slashes, absolute)
// and unique across the workspace. The (Project, Language) pair a file was
// accepted under is immutable for the file's lifetime; a file that moves across
// projects is a delete plus an insert.
type FileRecord struct {
	ID           FileID   `json:"id"`
	Path         string   `json:"path"`
	RelativePath string   `json:"relativePath"`
	Project      string   `json:"project"`
	Language     Language `json:"language"`
	Module       string   `json:"module"`
	MtimeMs      int64    `json:"mtime"`
	ContentHash  int64    `json:"-"`
}

// TypeDecl is one type declaration inside a file.
// ParentName is a plain string, never a foreign key: the parent may be declared
// in a file not yet ingested, or in a library outside the workspace.
type TypeDecl struct {
	ID         int64    `json:"id"`
	FileID     FileID   `json:"-"`
	Name       string   `json:"name"`
	Kind       TypeKind `json:"kind"`
	ParentName string   `json:"parent,omitempty"`
	Line       int      `json:"line"`
	Specifiers []string `json:"specifiers,omitempty"`
}

// Member is one member declaration inside a file. OwnerName may be empty for
// namespace-scope members and may name a type that is not indexed.
type Member struct {
	ID         int64      `json:"id"`
	FileID     FileID     `json:"-"`
	OwnerName  string     `json:"owner,omitempty"`
	Name       string     `json:"name"`
	Kind       MemberKind `json:"kind"`
	Line       int        `json:"line"`
	Signature  string     `json:"signature,omitempty"`
	Specifiers []string   `json:"specifiers,omitempty"`
}

// Asset is one content-browser asset. Path (e.g. /Game/Blueprints/BP_Door) is
// globally unique; Name is not.
type Asset struct {
	ID          int64  `json:"id"`
	Project     string `json:"project"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Class       string `json:"class"`
	ParentClass string `json:"parentClass,omitempty"`
	Folder      string `json:"folder"`
}

// IndexState is the lifecycle state of a per-language index.
type IndexState string

const (
	StateUnknown  IndexState = "unknown"
	StateIndexing IndexState = "indexing"
	StateReady    IndexState = "ready"
	StateError    IndexState = "error"
)

// IndexStatus is the per-language progress record maintained by ingest.
type IndexStatus struct {
	Language  Language   `json:"language"`
	State     IndexState `json:"state"`
	Current   int        `json:"current,omitempty"`
	Total     int        `json:"total,omitempty"`
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// CleanPath canonicalises a path to forward slashes. It does not touch case:
// Unreal trees are case-significant on some platforms and the watcher sends
// paths exactly as observed.
func CleanPath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// IsHeaderPath reports whether p has a C++ header suffix.
func IsHeaderPath(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, ".h") || strings.HasSuffix(lower, ".hpp") || strings.HasSuffix(lower, ".hxx")
}

// IsImplementationPath reports whether p has a C++ implementation suffix.
func IsImplementationPath(p string) bool {
	lower := strings.ToLower(p)
	return strings.HasSuffix(lower, ".cpp") || strings.HasSuffix(lower, ".cc") || strings.HasSuffix(lower, ".cxx")
}

// DeriveModule computes the dotted, project-qualified module of a file from its
// project name and relative path. A file at the project root maps to the bare
// project name.
func DeriveModule(project, relativePath string) string {
	rel := CleanPath(relativePath)
	rel = strings.TrimPrefix(rel, "/")
	dir := ""
	if idx := strings.LastIndex(rel, "/"); idx >= 0 {
		dir = rel[:idx]
	}
	if dir == "" {
		return project
	}
	segments := strings.Split(dir, "/")
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, project)
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." {
			continue
		}
		parts = append(parts, seg)
	}
	return strings.Join(parts, ".")
}
