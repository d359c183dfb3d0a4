package matching

import (
	"strings"

	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Scorer provides the string comparison algorithms behind fuzzy matching
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// NameSimilarity scores two display names on their normalized forms.
// Returns 1.0 for normalized equality, 0.9-0.95 when one name contains the
// other (weighted by length ratio so near-equal lengths score higher),
// otherwise the Levenshtein similarity of the normalized forms.
func (s *Scorer) NameSimilarity(a, b string) float64 {
	na := normalizers.NormalizeName(a)
	nb := normalizers.NormalizeName(b)

	if na == nb {
		if na == "" {
			return 0.0
		}
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		shorter, longer := len(na), len(nb)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return 0.9 + 0.05*float64(shorter)/float64(longer)
	}

	return s.Levenshtein(na, nb)
}

// Levenshtein returns a similarity score between 0.0 and 1.0 derived from
// the edit distance relative to the longer input.
func (s *Scorer) Levenshtein(a, b string) float64 {
	distance := s.LevenshteinDistance(a, b)
	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(distance)/float64(maxLen)
}

// LevenshteinDistance calculates the edit distance between two strings
func (s *Scorer) LevenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	// Two rows of dynamic programming state
	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(min(row[j-1]+1, prevRow[j]+1), prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}
