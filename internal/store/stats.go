package store

import (
	"context"
	"sync"
	"time"

	uerr "github.com/standardbeagle/uci/internal/errors"
)

// Stats is the row-count projection served by /stats and /summary.
type Stats struct {
	Files      int            `json:"files"`
	Types      int            `json:"types"`
	Members    int            `json:"members"`
	Assets     int            `json:"assets"`
	ByLanguage map[string]int `json:"byLanguage"`
	ByProject  map[string]int `json:"byProject"`
}

// statsCache holds the aggregate counts for a short TTL; ingest invalidates
// it per committed batch so /stats stays cheap without going stale.
type statsCache struct {
	mu      sync.Mutex
	stats   *Stats
	fetched time.Time
	ttl     time.Duration
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	c.stats = nil
	c.mu.Unlock()
}

// GetStats returns the cached aggregate counts, recomputing when the cache is
// cold or expired.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	if s.stats.stats != nil && time.Since(s.stats.fetched) < s.stats.ttl {
		return s.stats.stats, nil
	}

	st := &Stats{ByLanguage: make(map[string]int), ByProject: make(map[string]int)}
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM files`, &st.Files},
		{`SELECT COUNT(*) FROM type_decls`, &st.Types},
		{`SELECT COUNT(*) FROM members`, &st.Members},
		{`SELECT COUNT(*) FROM assets`, &st.Assets},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, uerr.Unavailable("count rows", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT language, COUNT(*) FROM files GROUP BY language`)
	if err != nil {
		return nil, uerr.Unavailable("count by language", err)
	}
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			rows.Close()
			return nil, uerr.Unavailable("scan language count", err)
		}
		st.ByLanguage[lang] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, uerr.Unavailable("iterate language counts", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT project, COUNT(*) FROM files GROUP BY project`)
	if err != nil {
		return nil, uerr.Unavailable("count by project", err)
	}
	for rows.Next() {
		var project string
		var n int
		if err := rows.Scan(&project, &n); err != nil {
			rows.Close()
			return nil, uerr.Unavailable("scan project count", err)
		}
		st.ByProject[project] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, uerr.Unavailable("iterate project counts", err)
	}
	rows.Close()

	s.stats.stats = st
	s.stats.fetched = time.Now()
	return st, nil
}
