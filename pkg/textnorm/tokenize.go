package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenizer splits text into tokens.
type Tokenizer func(string) []string

// Token is a verbatim substring of a source text together with its byte
// offsets, so that text[Start:End] == Text.
type Token struct {
	Text  string
	Start int
	End   int
}

type runeClass uint8

const (
	classSeparator runeClass = iota
	classLetter
	classDigit
	classMark
)

func classify(r rune) runeClass {
	switch {
	case unicode.IsMark(r):
		return classMark
	case unicode.IsLetter(r):
		return classLetter
	case unicode.IsDigit(r):
		return classDigit
	}
	return classSeparator
}

// Tokens splits text into maximal runs of letters and maximal runs of
// decimal digits. A combining mark belongs to the run before it, whatever
// its class; a mark with no run before it starts a letter run. Everything
// else separates tokens and is dropped. A letter run directly followed by a
// digit run yields two tokens.
//
// The result is deterministic: the same input always yields the same
// offsets, which lets callers recover original substrings at any position.
func Tokens(text string) []Token {
	var (
		tokens []Token
		start  = -1
		cur    runeClass
	)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		c := classify(r)
		if c == classMark {
			if start >= 0 {
				i += size
				continue
			}
			c = classLetter
		}
		if start >= 0 && c != cur {
			tokens = append(tokens, Token{Text: text[start:i], Start: start, End: i})
			start = -1
		}
		if start < 0 && c != classSeparator {
			start = i
			cur = c
		}
		i += size
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: text[start:], Start: start, End: len(text)})
	}
	return tokens
}

// Words is the default tokenizer of the recitation matcher. It returns the
// texts of [Tokens].
func Words(text string) []string {
	toks := Tokens(text)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

// Fields is plain whitespace splitting after trimming. It is the default
// tokenizer of the batch aligner.
func Fields(text string) []string {
	return strings.Fields(text)
}

// TokenizerByName resolves a tokenizer by its configuration name:
// "whitespace" (or empty) for [Fields] and "words" for [Words].
func TokenizerByName(name string) (Tokenizer, bool) {
	switch strings.ToLower(name) {
	case "", "whitespace":
		return Fields, true
	case "words":
		return Words, true
	}
	return nil, false
}
