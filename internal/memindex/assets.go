package memindex

import (
	"sort"
	"strings"

	"github.com/standardbeagle/uci/internal/types"
)

// AssetResult is one scored asset hit.
type AssetResult struct {
	types.Asset
	Score float64 `json:"score"`
}

func sortedAssetNames(byLower map[string][]types.Asset) []string {
	names := make([]string, 0, len(byLower))
	for name := range byLower {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindAssets answers an asset-name query. Assets default to fuzzy matching
// (substring with prefix preference); fuzzy=false demands the exact name.
// Both modes are case-insensitive: content-browser names are user-facing and
// rarely typed with exact case.
func (s *Snapshot) FindAssets(name string, fuzzy bool, project string, limit int) []AssetResult {
	queryLower := strings.ToLower(name)
	var results []AssetResult

	add := func(a types.Asset, score float64) {
		if project != "" && a.Project != project {
			return
		}
		results = append(results, AssetResult{Asset: a, Score: score})
	}

	if !fuzzy {
		for _, a := range s.assetsByLowerName[queryLower] {
			add(a, exactWeight)
		}
	} else {
		// Prefix hits first via the sorted name list, then substring hits.
		start := sort.SearchStrings(s.assetNames, queryLower)
		seen := make(map[string]bool)
		for i := start; i < len(s.assetNames) && strings.HasPrefix(s.assetNames[i], queryLower); i++ {
			lower := s.assetNames[i]
			seen[lower] = true
			score := prefixWeight
			if lower == queryLower {
				score = exactWeight
			}
			for _, a := range s.assetsByLowerName[lower] {
				add(a, score)
			}
		}
		for _, lower := range s.assetNames {
			if seen[lower] {
				continue
			}
			if idx := strings.Index(lower, queryLower); idx > 0 {
				norm := float64(idx) / float64(len(lower))
				for _, a := range s.assetsByLowerName[lower] {
					add(a, substringWeight-norm*0.2)
				}
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Path < results[j].Path
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// BrowseAssets returns the assets in a folder; recursive extends to every
// folder below it.
func (s *Snapshot) BrowseAssets(folder string, recursive bool, project string, limit int) []AssetResult {
	folder = strings.TrimSuffix(folder, "/")
	var results []AssetResult
	add := func(a types.Asset) bool {
		if project != "" && a.Project != project {
			return true
		}
		results = append(results, AssetResult{Asset: a})
		return limit <= 0 || len(results) < limit
	}

	if !recursive {
		for _, a := range s.assetsByFolder[folder] {
			if !add(a) {
				break
			}
		}
	} else {
		prefix := folder + "/"
		folders := make([]string, 0, len(s.assetsByFolder))
		for f := range s.assetsByFolder {
			if f == folder || strings.HasPrefix(f, prefix) {
				folders = append(folders, f)
			}
		}
		sort.Strings(folders)
	outer:
		for _, f := range folders {
			for _, a := range s.assetsByFolder[f] {
				if !add(a) {
					break outer
				}
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return results
}

// AssetFolder is one /list-asset-folders row.
type AssetFolder struct {
	Folder string `json:"folder"`
	Count  int    `json:"count"`
}

// ListAssetFolders returns every folder (optionally under a prefix) with its
// direct asset count.
func (s *Snapshot) ListAssetFolders(prefix string) []AssetFolder {
	prefix = strings.TrimSuffix(prefix, "/")
	var out []AssetFolder
	for folder, assets := range s.assetsByFolder {
		if prefix != "" && folder != prefix && !strings.HasPrefix(folder, prefix+"/") {
			continue
		}
		out = append(out, AssetFolder{Folder: folder, Count: len(assets)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Folder < out[j].Folder })
	return out
}

// AssetStats is the /asset-stats payload.
type AssetStats struct {
	Total     int            `json:"total"`
	ByClass   map[string]int `json:"byClass"`
	ByProject map[string]int `json:"byProject"`
	Folders   int            `json:"folders"`
}

// AssetStatistics aggregates the asset trie.
func (s *Snapshot) AssetStatistics() AssetStats {
	stats := AssetStats{
		ByClass:   make(map[string]int),
		ByProject: make(map[string]int),
		Folders:   len(s.assetsByFolder),
	}
	for _, a := range s.assetsByPath {
		stats.Total++
		stats.ByClass[a.Class]++
		stats.ByProject[a.Project]++
	}
	return stats
}
