package catalog

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

type GenreStat struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Suspicious bool   `json:"suspicious"`
}

// CollectGenres counts non-blank genres. genreOf returns the effective genre
// of an item (pending value when one exists).
func CollectGenres(ids []string, genreOf func(id string) string) []GenreStat {
	counts := make(map[string]int)
	for _, id := range ids {
		genre := strings.TrimSpace(genreOf(id))
		if genre == "" {
			continue
		}
		counts[genre]++
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	suspicious := make(map[string]bool)
	for _, name := range SuspiciousGenres(names) {
		suspicious[name] = true
	}

	stats := make([]GenreStat, 0, len(counts))
	for _, name := range names {
		stats = append(stats, GenreStat{Name: name, Count: counts[name], Suspicious: suspicious[name]})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Name < stats[j].Name
	})
	return stats
}

// SuspiciousGenres returns every genre that looks like a duplicate of another.
func SuspiciousGenres(names []string) []string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	flagged := make(map[string]bool)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if SimilarGenres(sorted[i], sorted[j]) {
				flagged[sorted[i]] = true
				flagged[sorted[j]] = true
			}
		}
	}
	out := make([]string, 0, len(flagged))
	for _, name := range sorted {
		if flagged[name] {
			out = append(out, name)
		}
	}
	return out
}

// SimilarGenres compares two genre names case-insensitively, treating plural
// and Italian gender endings, containment and small edit distances as a match.
func SimilarGenres(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	diff := utf8.RuneCountInString(a) - utf8.RuneCountInString(b)
	if diff > 3 || diff < -3 {
		return false
	}
	if normalizeGenre(a) == normalizeGenre(b) {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return levenshtein(a, b) <= 2
}

func normalizeGenre(name string) string {
	name = strings.TrimSuffix(name, "s")
	if strings.HasSuffix(name, "i") {
		name = strings.TrimSuffix(name, "i") + "o"
	}
	if strings.HasSuffix(name, "ia") {
		name = strings.TrimSuffix(name, "ia") + "io"
	}
	return name
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// SuggestMergeTarget picks the most used genre among candidates.
func SuggestMergeTarget(stats []GenreStat, candidates []string) string {
	best, bestCount := "", -1
	for _, candidate := range candidates {
		for _, stat := range stats {
			if stat.Name == candidate && stat.Count > bestCount {
				best, bestCount = stat.Name, stat.Count
			}
		}
	}
	if best == "" && len(candidates) > 0 {
		return candidates[0]
	}
	return best
}

var suspiciousGenrePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*$`),
	regexp.MustCompile(`^.{1,2}$`),
	regexp.MustCompile(`[0-9]{3,}`),
	regexp.MustCompile(`^[^a-zA-ZÀ-ÿ\s]`),
	regexp.MustCompile(`[<>{}\[\]]`),
}

// ValidateGenre rejects empty, too short or markup-looking genre names.
func ValidateGenre(genre string) error {
	for _, pattern := range suspiciousGenrePatterns {
		if pattern.MatchString(genre) {
			return NewValidationError(string(FieldRealGenre), "suspicious or invalid genre")
		}
	}
	if n := utf8.RuneCountInString(genre); n < 2 || n > 50 {
		return NewValidationError(string(FieldRealGenre), "genre must be between 2 and 50 characters")
	}
	return nil
}
