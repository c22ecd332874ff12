// Package config loads and validates the single JSON configuration blob the
// service starts with.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/uci/internal/types"
)

// Config is the full workspace configuration.
type Config struct {
	Service  Service   `json:"service"`
	Data     Data      `json:"data"`
	Zoekt    Zoekt     `json:"zoekt"`
	Watcher  Watcher   `json:"watcher"`
	Query    Query     `json:"query"`
	Projects []Project `json:"projects"`
	Exclude  []string  `json:"exclude"`
}

// Service configures the HTTP listener.
type Service struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Data locates the on-disk state owned by the service.
type Data struct {
	DBPath    string `json:"dbPath"`
	MirrorDir string `json:"mirrorDir"`
	IndexDir  string `json:"indexDir"`
}

// Zoekt configures the external full-text engine.
type Zoekt struct {
	BinaryDir        string `json:"binaryDir"`
	Parallelism      int    `json:"parallelism"`
	WebPort          int    `json:"webPort"`
	ReindexDebounceMs int   `json:"reindexDebounceMs"`
	FileLimitBytes   int64  `json:"fileLimitBytes"`
}

// Watcher carries settings the watcher applies on its side; the service only
// loads them and fills defaults. No endpoint serves them back.
type Watcher struct {
	DebounceMs               int `json:"debounceMs"`
	ReconcileIntervalMinutes int `json:"reconcileIntervalMinutes"`
}

// Query bounds the query execution layer.
type Query struct {
	PoolSize       int `json:"poolSize"`
	QueueLimit     int `json:"queueLimit"`
	TimeoutMs      int `json:"timeoutMs"`
	GrepTimeoutMs  int `json:"grepTimeoutMs"`
	MaxContextLines int `json:"maxContextLines"`
}

// Project is one indexed project root.
type Project struct {
	Name       string         `json:"name"`
	Paths      []string       `json:"paths"`
	Language   types.Language `json:"language"`
	Recursive  *bool          `json:"recursive,omitempty"`
	Extensions []string       `json:"extensions,omitempty"`
}

// Load reads the configuration file at path, applies defaults, and validates.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with documented defaults. Relative data
// paths are anchored at the config file's directory.
func (c *Config) applyDefaults(baseDir string) {
	if c.Service.Host == "" {
		c.Service.Host = "0.0.0.0"
	}
	if c.Service.Port == 0 {
		c.Service.Port = types.DefaultServicePort
	}
	for _, p := range []*string{&c.Data.DBPath, &c.Data.MirrorDir, &c.Data.IndexDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
	if c.Data.DBPath == "" {
		c.Data.DBPath = filepath.Join(baseDir, "index.db")
	}
	if c.Data.MirrorDir == "" {
		c.Data.MirrorDir = filepath.Join(baseDir, "mirror")
	}
	if c.Data.IndexDir == "" {
		c.Data.IndexDir = filepath.Join(baseDir, "zoekt-index")
	}
	if c.Zoekt.Parallelism <= 0 {
		c.Zoekt.Parallelism = runtime.NumCPU()
	}
	if c.Zoekt.WebPort == 0 {
		c.Zoekt.WebPort = types.DefaultZoektWebPort
	}
	if c.Zoekt.ReindexDebounceMs <= 0 {
		c.Zoekt.ReindexDebounceMs = 5000
	}
	if c.Zoekt.FileLimitBytes <= 0 {
		c.Zoekt.FileLimitBytes = 2 * 1024 * 1024
	}
	if c.Watcher.DebounceMs <= 0 {
		c.Watcher.DebounceMs = 500
	}
	if c.Watcher.ReconcileIntervalMinutes <= 0 {
		c.Watcher.ReconcileIntervalMinutes = 30
	}
	if c.Query.PoolSize <= 0 {
		c.Query.PoolSize = 3
	}
	if c.Query.QueueLimit <= 0 {
		c.Query.QueueLimit = 64
	}
	if c.Query.TimeoutMs <= 0 {
		c.Query.TimeoutMs = int(types.DefaultQueryTimeout.Milliseconds())
	}
	if c.Query.GrepTimeoutMs <= 0 {
		c.Query.GrepTimeoutMs = int(types.DefaultGrepTimeout.Milliseconds())
	}
	if c.Query.MaxContextLines <= 0 {
		c.Query.MaxContextLines = 100
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port %d out of range", c.Service.Port)
	}
	seen := make(map[string]bool, len(c.Projects))
	for i, p := range c.Projects {
		if p.Name == "" {
			return fmt.Errorf("projects[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("projects[%d]: duplicate project name %q", i, p.Name)
		}
		seen[p.Name] = true
		if len(p.Paths) == 0 {
			return fmt.Errorf("project %s: at least one path is required", p.Name)
		}
		if !p.Language.Valid() {
			return fmt.Errorf("project %s: unknown language %q", p.Name, p.Language)
		}
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	return nil
}

// ProjectNames returns the configured project names in declaration order.
func (c *Config) ProjectNames() []string {
	names := make([]string, 0, len(c.Projects))
	for _, p := range c.Projects {
		names = append(names, p.Name)
	}
	return names
}

// HasProject reports whether name is a configured project.
func (c *Config) HasProject(name string) bool {
	for _, p := range c.Projects {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Excluded reports whether path matches any exclusion pattern.
func (c *Config) Excluded(path string) bool {
	clean := types.CleanPath(path)
	for _, pattern := range c.Exclude {
		if matched, err := doublestar.Match(pattern, clean); err == nil && matched {
			return true
		}
	}
	return false
}
