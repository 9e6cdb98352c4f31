// Package similarity scores how close two short strings are.
//
// The default metric is the optimal string alignment (OSA) variant of the
// Damerau-Levenshtein distance: insertions, deletions, substitutions, and
// transpositions of two adjacent characters each cost one, and no substring
// is edited again after being transposed. Distances are measured in runes.
//
// [Similarity] maps a distance onto [0, 1] relative to the longer input.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Distance returns the OSA edit distance between a and b in runes.
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return utf8.RuneCountInString(b)
	}
	if b == "" {
		return utf8.RuneCountInString(a)
	}
	return osa([]rune(a), []rune(b))
}

// osa runs the OSA recurrence over three rolling rows. matchr.OSA is not
// used because it only admits transpositions from the third rune on, so a
// swap of the first two runes costs 2.
func osa(ra, rb []rune) int {
	prev2 := make([]int, len(rb)+1)
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
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				curr[j] = min(curr[j], prev2[j-2]+1)
			}
		}
		prev2, prev, curr = prev, curr, prev2
	}
	return prev[len(rb)]
}

// Similarity returns 1 - Distance(a, b)/max(len(a), len(b)) with lengths in
// runes, clamped to [0, 1]. Two empty strings are identical (1.0); an empty
// string against a non-empty one scores 0.0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if la == 0 || lb == 0 {
		return 0.0
	}
	s := 1.0 - float64(Distance(a, b))/float64(longest)
	return clamp(s)
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// Scorer computes a similarity score in [0, 1] between two normalised
// strings, where 1 means identical.
//
// Implementations must be safe for concurrent use.
type Scorer interface {
	Similarity(a, b string) float64
}

// OSA is the default [Scorer], backed by [Similarity].
type OSA struct{}

// Similarity implements [Scorer].
func (OSA) Similarity(a, b string) float64 { return Similarity(a, b) }

// JaroWinkler scores with the Jaro-Winkler metric, which rewards shared
// prefixes. It is an alternative for experimentation; thresholds tuned for
// [OSA] do not carry over.
type JaroWinkler struct{}

// Similarity implements [Scorer].
func (JaroWinkler) Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	return clamp(matchr.JaroWinkler(a, b, false))
}

var (
	_ Scorer = OSA{}
	_ Scorer = JaroWinkler{}
)

// ByName resolves a scorer by its configuration name: "osa" (or empty) and
// "jaro-winkler".
func ByName(name string) (Scorer, bool) {
	switch strings.ToLower(name) {
	case "", "osa", "damerau-levenshtein":
		return OSA{}, true
	case "jaro-winkler", "jarowinkler":
		return JaroWinkler{}, true
	}
	return nil, false
}
