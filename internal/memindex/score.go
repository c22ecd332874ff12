package memindex

import (
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/uci/internal/types"
)

// Name-match weights. On the name alone, exact beats prefix beats substring
// beats edit distance. Kind and specifier boosts (up to 0.12 together) can
// exceed the 0.1 gap between the exact and prefix bands, and the path signal
// added in scoreType can outweigh any name band.
const (
	exactWeight     = 1.0
	prefixWeight    = 0.9
	substringWeight = 0.7
	fuzzyFloor      = 0.4
	fuzzyScale      = 0.5

	specifierBoostCap = 0.08
	pathLenPenalty    = 0.01
)

var kindWeights = map[types.TypeKind]float64{
	types.KindClass:    0.04,
	types.KindStruct:   0.03,
	types.KindEnum:     0.02,
	types.KindDelegate: 0.01,
	types.KindEvent:    0.01,
}

// specifierBoosts reward reflection-exposed declarations: a Blueprint-visible
// class is far more likely to be what a gameplay query wants than an internal
// helper struct.
var specifierBoosts = map[string]float64{
	"BlueprintCallable":  0.05,
	"BlueprintPure":      0.05,
	"BlueprintType":      0.04,
	"Blueprintable":      0.04,
	"BlueprintReadWrite": 0.04,
	"EditAnywhere":       0.03,
	"BlueprintReadOnly":  0.02,
	"VisibleAnywhere":    0.02,
}

// nameScore rates how well a candidate name matches the query. Zero means the
// candidate is rejected.
func nameScore(query, queryLower, name string) float64 {
	if name == query {
		return exactWeight
	}
	lower := strings.ToLower(name)
	if lower == queryLower {
		// Case-insensitive hit; keep a hair below the exact band so the
		// literal casing wins ties.
		return exactWeight - 0.01
	}
	if strings.HasPrefix(lower, queryLower) {
		return prefixWeight
	}
	if idx := strings.Index(lower, queryLower); idx >= 0 {
		// Earlier occurrences read as more relevant: UGameplayAbility over
		// UDebugGameplayAbilityHelper for "gameplay".
		norm := float64(idx) / float64(len(lower))
		return substringWeight - norm*0.2
	}
	ratio, err := edlib.StringsSimilarity(queryLower, lower, edlib.Levenshtein)
	if err != nil || float64(ratio) < fuzzyFloor {
		return 0
	}
	return float64(ratio) * fuzzyScale
}

// specifierBoost sums the per-specifier boosts, capped. Unlisted Blueprint*
// specifiers still get a small boost; the reflection surface matters more
// than the exact tag.
func specifierBoost(specifiers []string) float64 {
	total := 0.0
	for _, s := range specifiers {
		if b, ok := specifierBoosts[s]; ok {
			total += b
		} else if strings.HasPrefix(s, "Blueprint") {
			total += 0.04
		}
	}
	if total > specifierBoostCap {
		total = specifierBoostCap
	}
	return total
}

// pathSignal rates the file a declaration lives in. Headers dominate: the
// declaration a caller wants to open is the one in the header, and the
// constant spread guarantees a header outranks its implementation twin at
// equal name score.
func pathSignal(path string) float64 {
	score := 0.0
	if types.IsHeaderPath(path) {
		score += 5
	}
	if strings.Contains(path, "/Runtime/") {
		score += 2
	}
	if strings.Contains(path, "/Public/") || strings.Contains(path, "/Classes/") {
		score += 1.5
	}
	if strings.Contains(path, "/Private/") {
		score += 0.5
	}
	return score - float64(len(path))*pathLenPenalty
}

// scoreType combines all signals for one candidate.
func scoreType(query, queryLower string, e *TypeEntry) float64 {
	ns := nameScore(query, queryLower, e.Decl.Name)
	if ns == 0 {
		return 0
	}
	return ns + kindWeights[e.Decl.Kind] + specifierBoost(e.Decl.Specifiers) + pathSignal(e.File.Path)
}

// trigramThreshold is the minimum fraction of query-name trigrams a fuzzy
// candidate must share. Short names tolerate more noise; long names must
// agree almost everywhere, which bounds the candidate set independently of
// dataset size.
func trigramThreshold(queryLen int) float64 {
	switch {
	case queryLen <= 5:
		return 0.60
	case queryLen <= 15:
		return 0.75
	default:
		return 0.80
	}
}
