// Package align computes globally optimal token-level alignments between a
// reference text and a hypothesis (for example a speech-recognition
// transcript), and derives error-rate metrics from them.
//
// The alignment is the classic Wagner-Fischer dynamic program over tokens:
// matches cost nothing, and substitutions, deletions, and insertions cost
// one each. When several operations reach the same cell at equal cost the
// diagonal (match or substitution) wins over a deletion, and a deletion
// wins over an insertion.
//
// The resulting sequence of [AlignedToken] values is complete and ordered:
// reading the reference slots in order reproduces the reference tokens, and
// reading the hypothesis slots reproduces the hypothesis tokens.
package align

import (
	"strings"

	"github.com/MrWong99/recital/pkg/textnorm"
)

// Option is a functional option for [Align] and [AlignTokens].
type Option func(*options)

type options struct {
	caseSensitive bool
	tokenizer     textnorm.Tokenizer
	normalizer    textnorm.Func
}

// WithCaseSensitive controls whether token comparison is case-sensitive.
// Default: false. It only affects the default normaliser; an explicit
// [WithNormalizer] takes precedence.
func WithCaseSensitive(caseSensitive bool) Option {
	return func(o *options) {
		o.caseSensitive = caseSensitive
	}
}

// WithTokenizer sets the tokenizer used by [Align]. Default:
// [textnorm.Fields] (whitespace splitting). Ignored by [AlignTokens].
func WithTokenizer(tok textnorm.Tokenizer) Option {
	return func(o *options) {
		o.tokenizer = tok
	}
}

// WithNormalizer sets the per-token normaliser applied before comparison.
// Default: lowercasing unless case-sensitive.
func WithNormalizer(fn textnorm.Func) Option {
	return func(o *options) {
		o.normalizer = fn
	}
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.tokenizer == nil {
		o.tokenizer = textnorm.Fields
	}
	if o.normalizer == nil {
		if o.caseSensitive {
			o.normalizer = textnorm.Identity
		} else {
			o.normalizer = strings.ToLower
		}
	}
	return o
}

// Align tokenises and aligns reference against hypothesis. Two empty inputs
// yield an empty alignment.
func Align(reference, hypothesis string, opts ...Option) []AlignedToken {
	o := buildOptions(opts)
	return alignTokens(o.tokenizer(reference), o.tokenizer(hypothesis), o)
}

// AlignTokens aligns already tokenised sequences. The tokenizer option is
// ignored; the normaliser still applies.
func AlignTokens(reference, hypothesis []string, opts ...Option) []AlignedToken {
	return alignTokens(reference, hypothesis, buildOptions(opts))
}

func alignTokens(ref, hyp []string, o options) []AlignedToken {
	m, n := len(ref), len(hyp)
	if m == 0 && n == 0 {
		return []AlignedToken{}
	}

	refNorm := normalizeAll(ref, o.normalizer)
	hypNorm := normalizeAll(hyp, o.normalizer)

	// Flat row-major (m+1)x(n+1) cost table plus the winning operation per
	// cell. Row 0 is all insertions, column 0 all deletions.
	cols := n + 1
	cost := make([]int, (m+1)*cols)
	trace := make([]Op, (m+1)*cols)
	for j := 1; j <= n; j++ {
		cost[j] = j
		trace[j] = OpInsertion
	}
	for i := 1; i <= m; i++ {
		cost[i*cols] = i
		trace[i*cols] = OpDeletion
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			diagOp, diag := OpMatch, cost[(i-1)*cols+j-1]
			if refNorm[i-1] != hypNorm[j-1] {
				diagOp, diag = OpSubstitution, diag+1
			}
			best, op := diag, diagOp
			if up := cost[(i-1)*cols+j] + 1; up < best {
				best, op = up, OpDeletion
			}
			if left := cost[i*cols+j-1] + 1; left < best {
				best, op = left, OpInsertion
			}
			cost[i*cols+j] = best
			trace[i*cols+j] = op
		}
	}

	return backtrack(ref, hyp, trace, cols)
}

// backtrack walks the operation trace from (m, n) to (0, 0) and returns the
// alignment in reference order.
func backtrack(ref, hyp []string, trace []Op, cols int) []AlignedToken {
	i, j := len(ref), len(hyp)
	out := make([]AlignedToken, 0, max(i, j))
	for i > 0 || j > 0 {
		switch trace[i*cols+j] {
		case OpMatch:
			out = append(out, Match{Ref: ref[i-1], Hyp: hyp[j-1], RefIndex: i - 1, HypIndex: j - 1})
			i, j = i-1, j-1
		case OpSubstitution:
			out = append(out, Substitution{Ref: ref[i-1], Hyp: hyp[j-1], RefIndex: i - 1, HypIndex: j - 1})
			i, j = i-1, j-1
		case OpDeletion:
			out = append(out, Deletion{Ref: ref[i-1], RefIndex: i - 1})
			i--
		case OpInsertion:
			out = append(out, Insertion{Hyp: hyp[j-1], HypIndex: j - 1})
			j--
		}
	}
	for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
		out[l], out[r] = out[r], out[l]
	}
	return out
}

func normalizeAll(tokens []string, fn textnorm.Func) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = fn(t)
	}
	return out
}

// References returns the reference tokens of a, in order.
func References(a []AlignedToken) []string {
	out := make([]string, 0, len(a))
	for _, t := range a {
		if ref, _, ok := RefSlot(t); ok {
			out = append(out, ref)
		}
	}
	return out
}

// Hypotheses returns the hypothesis tokens of a, in order.
func Hypotheses(a []AlignedToken) []string {
	out := make([]string, 0, len(a))
	for _, t := range a {
		if hyp, _, ok := HypSlot(t); ok {
			out = append(out, hyp)
		}
	}
	return out
}

// Distance returns the total edit cost of a: the number of operations that
// are not matches.
func Distance(a []AlignedToken) int {
	d := 0
	for _, t := range a {
		if t.Op() != OpMatch {
			d++
		}
	}
	return d
}
