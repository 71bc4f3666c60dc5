// Package merge scores a freshly built Case candidate against existing
// Cases to decide whether a Document's decision is a new matter or a new
// chapter of one already tracked (§4.D Case Build's merge step).
//
// There is no teacher analogue for deduplicating synthesis output across
// runs; the score-sort-cap shape follows the teacher's aggregate/select
// packages, generalized from "rank search results" to "rank merge
// candidates".
package merge

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/hyperifyio/watchdog/internal/model"
)

// Candidate is case built from a Document, not yet persisted, scored
// against existing Cases before the caller decides create-vs-merge.
type Candidate struct {
	Category  model.Category
	Headline  string
	Entities  []string
	Locations []string
}

// Threshold is the score above which a Candidate is merged into the
// matched Case rather than creating a new one (§4.D).
const Threshold = 0.8

// TitleSimilarityMatch is the normalized-Levenshtein floor a title
// similarity contributes its score component at (§4.D).
const TitleSimilarityMatch = 0.7

// Score combines entity/permit match, location overlap, category match,
// and title similarity into the [0,1] merge score of §4.D.
func Score(candidate Candidate, existing model.Case) float64 {
	var score float64

	if sharesAny(candidate.Entities, existing.Entities) {
		score += 0.6
	}
	if sharesAny(candidate.Locations, existing.Locations) {
		score += 0.2
	}
	if candidate.Category == existing.PrimaryCategory {
		score += 0.1
	}
	if titleSimilarity(candidate.Headline, existing.Headline) >= TitleSimilarityMatch {
		score += 0.1
	}

	return score
}

// Best returns the existing Case with the highest Score against candidate,
// and whether that score clears Threshold. An empty candidates slice always
// reports no match.
func Best(candidate Candidate, candidates []model.Case) (model.Case, float64, bool) {
	var best model.Case
	var bestScore float64
	for _, c := range candidates {
		s := Score(candidate, c)
		if s > bestScore {
			bestScore = s
			best = c
		}
	}
	return best, bestScore, bestScore > Threshold
}

func sharesAny(a, b []string) bool {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[normalize(v)] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[normalize(v)]; ok {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// titleSimilarity returns a [0,1] normalized similarity where 1 means
// identical, derived from Levenshtein edit distance over the longer title's
// length.
func titleSimilarity(a, b string) float64 {
	a, b = normalize(a), normalize(b)
	if a == "" && b == "" {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// UnionStrings merges b into a, deduplicating case-insensitively while
// preserving a's original casing for entries already present, for the
// "union of municipalities/entities/locations" step of a successful merge
// (§4.D).
func UnionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		if _, ok := seen[normalize(v)]; ok {
			continue
		}
		seen[normalize(v)] = struct{}{}
		out = append(out, v)
	}
	for _, v := range b {
		if _, ok := seen[normalize(v)]; ok {
			continue
		}
		seen[normalize(v)] = struct{}{}
		out = append(out, v)
	}
	return out
}
