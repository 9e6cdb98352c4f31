// Package textnorm provides the text normalisation and tokenisation steps
// shared by the batch aligner and the streaming recitation matcher.
//
// Normalisation removes everything that should not count as a difference
// between a reference text and a speech-recognition transcript: diacritics,
// case, punctuation, and runs of whitespace. Script-specific letter folding
// (for example Arabic alef variants) is a separate, pluggable step so that
// callers can choose the locale behaviour they need.
//
// Tokenisers keep track of the verbatim substrings they produce so that
// results can be displayed using the exact original text while matching runs
// on normalised forms.
//
// All functions are pure and safe for concurrent use.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Func is a text-to-text normalisation step. Locale-specific folding is
// supplied by callers as a Func.
type Func func(string) string

// Identity returns s unchanged.
func Identity(s string) string { return s }

// Chain composes fns left to right. Nil entries are skipped. An empty chain
// behaves like [Identity].
func Chain(fns ...Func) Func {
	return func(s string) string {
		for _, fn := range fns {
			if fn != nil {
				s = fn(s)
			}
		}
		return s
	}
}

// arabicMarks covers Arabic diacritics that are stripped in addition to the
// generic combining-mark categories: Quranic annotation signs, tashkil,
// superscript alef, small high/low signs, and tatweel (U+0640), which Unicode
// classifies as a modifier letter rather than a mark.
var arabicMarks = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0610, Hi: 0x061a, Stride: 1},
		{Lo: 0x0640, Hi: 0x0640, Stride: 1},
		{Lo: 0x064b, Hi: 0x065f, Stride: 1},
		{Lo: 0x0670, Hi: 0x0670, Stride: 1},
		{Lo: 0x06d6, Hi: 0x06dc, Stride: 1},
		{Lo: 0x06df, Hi: 0x06e8, Stride: 1},
		{Lo: 0x06ea, Hi: 0x06ed, Stride: 1},
	},
}

// IsDiacritic reports whether r is removed by [Normalize]: a non-spacing or
// enclosing combining mark, or one of the Arabic diacritic code points.
func IsDiacritic(r rune) bool {
	return unicode.In(r, unicode.Mn, unicode.Me, arabicMarks)
}

// Normalize applies the default normalisation:
//
//  1. Unicode compatibility decomposition (NFKD).
//  2. Removal of diacritics (see [IsDiacritic]).
//  3. Lowercasing.
//  4. Every rune that is not a letter, mark, number, or space becomes a space.
//  5. Whitespace runs collapse to a single space; the result is trimmed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	// transform.Chain and cases.Caser keep internal buffers, so they are
	// built per call.
	stripped, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(IsDiacritic))),
		text,
	)
	if err != nil {
		stripped = text
	}
	lowered := cases.Lower(language.Und).String(stripped)

	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsMark(r), unicode.IsNumber(r):
			return r
		default:
			return ' '
		}
	}, lowered)

	return strings.Join(strings.Fields(mapped), " ")
}

// arabicFold maps Arabic letter variants to the base letter they are treated
// as equivalent to when comparing recitations.
var arabicFold = map[rune]rune{
	'أ': 'ا', // alef with hamza above
	'إ': 'ا', // alef with hamza below
	'آ': 'ا', // alef with madda
	'ٱ': 'ا', // alef wasla
	'ة': 'ه', // ta marbuta
	'ى': 'ي', // alef maksura
	'ؤ': 'و', // waw with hamza
	'ئ': 'ي', // ya with hamza
}

// FoldArabic folds orthographic letter variants of Arabic to their base
// forms. It is meant to run after [Normalize] and leaves all other runes
// untouched.
func FoldArabic(text string) string {
	return strings.Map(func(r rune) rune {
		if f, ok := arabicFold[r]; ok {
			return f
		}
		return r
	}, text)
}

// Fold returns the locale folding step registered under name. The empty
// name and "none" return [Identity]. ok is false for unknown names.
func Fold(name string) (fn Func, ok bool) {
	switch strings.ToLower(name) {
	case "", "none":
		return Identity, true
	case "arabic", "ar":
		return FoldArabic, true
	}
	return nil, false
}
