package recite

import (
	"strings"

	"github.com/MrWong99/recital/pkg/textnorm"
)

// Reference is a reference text split into tokens, holding both the verbatim
// substrings and their normalised forms, index for index. A token whose
// normalised form is empty keeps its slot so positions stay aligned with the
// original text.
//
// A Reference is read-only after [Prepare] and may be shared between
// goroutines.
type Reference struct {
	text       string
	tokens     []textnorm.Token
	normalized []string
}

// Prepare tokenises text with [textnorm.Tokens] and normalises each token
// with normalize.
func Prepare(text string, normalize textnorm.Func) *Reference {
	if normalize == nil {
		normalize = textnorm.Identity
	}
	tokens := textnorm.Tokens(text)
	normalized := make([]string, len(tokens))
	for i, t := range tokens {
		normalized[i] = normalize(t.Text)
	}
	return &Reference{text: text, tokens: tokens, normalized: normalized}
}

// Prepare prepares text using the matcher's normalisation.
func (m *Matcher) Prepare(text string) *Reference {
	return Prepare(text, m.normalize)
}

// Text returns the full reference text.
func (r *Reference) Text() string { return r.text }

// Len returns the number of reference tokens.
func (r *Reference) Len() int { return len(r.tokens) }

// Token returns the i-th verbatim token with its byte offsets.
func (r *Reference) Token(i int) textnorm.Token { return r.tokens[i] }

// Normalized returns the normalised form of the i-th token.
func (r *Reference) Normalized(i int) string { return r.normalized[i] }

// Words returns the verbatim tokens.
func (r *Reference) Words() []string {
	out := make([]string, len(r.tokens))
	for i, t := range r.tokens {
		out[i] = t.Text
	}
	return out
}

func (r *Reference) normalizedSpan(start, span int) string {
	if span == 1 {
		return r.normalized[start]
	}
	return strings.Join(r.normalized[start:start+span], " ")
}

func (r *Reference) originalSpan(start, span int) string {
	parts := make([]string, span)
	for k := range span {
		parts[k] = r.tokens[start+k].Text
	}
	return strings.Join(parts, " ")
}

func (r *Reference) unrevealed(mask []bool) []string {
	out := []string{}
	for i, t := range r.tokens {
		if !mask[i] {
			out = append(out, t.Text)
		}
	}
	return out
}
