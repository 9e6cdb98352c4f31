// Package recite implements the streaming recitation matcher used for
// progressive reveal while someone recites a known text from memory.
//
// The matcher walks the transcript tokens once, keeping a single pointer into
// the reference tokens that only moves forward. For every transcript token it
// scores reference spans of one, two, and three tokens starting at the
// pointer, which absorbs speech-recognition output that merges short words
// into one run-on token. A span whose similarity reaches the threshold is
// revealed and the pointer advances past it; otherwise the transcript token
// is reported as unmatched and the pointer stays put.
//
// Matching is a pure function of its inputs. Progress across repeated calls
// with a growing transcript is kept by [Session].
package recite

import (
	"math"
	"strings"

	"github.com/MrWong99/recital/pkg/similarity"
	"github.com/MrWong99/recital/pkg/textnorm"
)

// DefaultThreshold is the minimum similarity for a span to be revealed.
const DefaultThreshold = 0.70

// maxSpan is the longest run of reference tokens tried against a single
// transcript token.
const maxSpan = 3

// Match records one transcript token that revealed a span of reference
// tokens.
type Match struct {
	// TranscriptIndex is the position of the transcript token.
	TranscriptIndex int `json:"transcript_index"`

	// OriginalStart is the index of the first revealed reference token.
	OriginalStart int `json:"original_start"`

	// OriginalSpan is the number of reference tokens revealed (1 to 3).
	OriginalSpan int `json:"original_span"`

	// RevealedText is the verbatim reference tokens of the span joined by
	// single spaces.
	RevealedText string `json:"revealed_text"`

	// Similarity is the score of the span, rounded to four decimals.
	Similarity float64 `json:"similarity"`
}

// Result is the outcome of one matching pass.
type Result struct {
	Matches []Match `json:"matches"`

	// Revealed has one entry per reference token.
	Revealed []bool `json:"revealed"`

	// Unrevealed lists the verbatim reference tokens that are not revealed,
	// in reference order.
	Unrevealed []string `json:"unrevealed"`

	// Unmatched lists the transcript indices that revealed nothing.
	Unmatched []int `json:"unmatched"`

	// Pointer is the index of the first reference token not yet consumed.
	Pointer int `json:"pointer"`
}

// Option is a functional option for [New].
type Option func(*Matcher)

// WithThreshold sets the minimum similarity for a match. Default:
// [DefaultThreshold].
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.threshold = threshold
	}
}

// WithLocaleNormalization toggles full Unicode normalisation plus locale
// folding. When disabled, tokens are only lowercased and whitespace
// collapsed. Default: true.
func WithLocaleNormalization(enabled bool) Option {
	return func(m *Matcher) {
		m.locale = enabled
	}
}

// WithFold sets the locale folding step applied after [textnorm.Normalize]
// when locale normalisation is enabled. Default: [textnorm.FoldArabic].
func WithFold(fold textnorm.Func) Option {
	return func(m *Matcher) {
		m.fold = fold
	}
}

// WithScorer sets the span similarity scorer. Default: [similarity.OSA].
func WithScorer(s similarity.Scorer) Option {
	return func(m *Matcher) {
		m.scorer = s
	}
}

// Matcher runs the streaming recitation match with a fixed configuration.
// A Matcher is immutable after construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	locale    bool
	fold      textnorm.Func
	scorer    similarity.Scorer
	normalize textnorm.Func
}

// New creates a Matcher.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		threshold: DefaultThreshold,
		locale:    true,
		fold:      textnorm.FoldArabic,
		scorer:    similarity.OSA{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.scorer == nil {
		m.scorer = similarity.OSA{}
	}
	if m.locale {
		m.normalize = textnorm.Chain(textnorm.Normalize, m.fold)
	} else {
		m.normalize = lowerCollapse
	}
	return m
}

func lowerCollapse(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Threshold returns the configured similarity threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Normalize applies the matcher's normalisation to s.
func (m *Matcher) Normalize(s string) string { return m.normalize(s) }

// MatchRecitation matches transcript against reference with the default
// scorer and Arabic folding. It prepares the reference on every call; use a
// [Matcher] and [Matcher.Prepare] when the same reference is matched
// repeatedly.
func MatchRecitation(reference string, transcript []string, threshold float64, useLocaleNormalization bool) Result {
	m := New(WithThreshold(threshold), WithLocaleNormalization(useLocaleNormalization))
	return m.Match(m.Prepare(reference), transcript)
}

// Match runs one forward pass of transcript against ref.
func (m *Matcher) Match(ref *Reference, transcript []string) Result {
	n := ref.Len()
	res := Result{
		Matches:   []Match{},
		Revealed:  make([]bool, n),
		Unmatched: []int{},
	}

	j := 0
	for i, tok := range transcript {
		if j >= n {
			res.Unmatched = append(res.Unmatched, i)
			continue
		}
		heard := m.normalize(tok)

		bestSpan, best := 0, -1.0
		for span := 1; span <= maxSpan && j+span <= n; span++ {
			score := m.scorer.Similarity(heard, ref.normalizedSpan(j, span))
			if score > best {
				bestSpan, best = span, score
			}
		}

		if bestSpan == 0 || best < m.threshold {
			res.Unmatched = append(res.Unmatched, i)
			continue
		}
		res.Matches = append(res.Matches, Match{
			TranscriptIndex: i,
			OriginalStart:   j,
			OriginalSpan:    bestSpan,
			RevealedText:    ref.originalSpan(j, bestSpan),
			Similarity:      round4(best),
		})
		for k := j; k < j+bestSpan; k++ {
			res.Revealed[k] = true
		}
		j += bestSpan
	}

	res.Pointer = j
	res.Unrevealed = ref.unrevealed(res.Revealed)
	return res
}

func round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
