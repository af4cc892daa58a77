package ui

import (
	"sort"
	"strings"
)

// DefaultMaxDistance is the largest edit distance still suggested.
const DefaultMaxDistance = 3

// DefaultMaxSuggestions caps FindSimilar results.
const DefaultMaxSuggestions = 3

// FindSimilar returns candidates within DefaultMaxDistance of target, closest
// first, ties in candidate order. Matching is case-insensitive.
func FindSimilar(target string, candidates []string) []string {
	type match struct {
		value string
		dist  int
	}
	var matches []match
	lt := strings.ToLower(target)
	for _, c := range candidates {
		if d := Levenshtein(lt, strings.ToLower(c)); d <= DefaultMaxDistance && c != target {
			matches = append(matches, match{c, d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].dist < matches[j].dist })

	out := make([]string, 0, DefaultMaxSuggestions)
	for i := 0; i < len(matches) && i < DefaultMaxSuggestions; i++ {
		out = append(out, matches[i].value)
	}
	return out
}

// Levenshtein is the edit distance between a and b, in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
