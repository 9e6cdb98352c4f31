package textnorm_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/recital/pkg/textnorm"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "case and punctuation", in: "Héllo, WORLD!!  ", want: "hello world"},
		{name: "apostrophe splits", in: "don't", want: "don t"},
		{name: "whitespace runs", in: "  a\t\n b ", want: "a b"},
		{name: "compatibility ligature", in: "ﬁne", want: "fine"},
		{name: "digits kept", in: "Room 101.", want: "room 101"},
		{name: "only punctuation", in: "?!…", want: ""},
		{name: "symbols become spaces", in: "a+b=c", want: "a b c"},
		{name: "arabic tashkil", in: "بِسْمِ", want: "بسم"},
		{name: "arabic tatweel", in: "كـتـاب", want: "كتاب"},
		{name: "arabic hamza decomposes", in: "أحمد", want: "احمد"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := textnorm.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"Héllo, WORLD", "بِسْمِ اللَّهِ", "to be, or not to be"} {
		once := textnorm.Normalize(in)
		if twice := textnorm.Normalize(once); twice != once {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestFoldArabic(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"أإآٱ", "اااا"},
		{"مدرسة", "مدرسه"},
		{"على", "علي"},
		{"مؤمن", "مومن"},
		{"سئل", "سيل"},
		{"hello", "hello"},
	}
	for _, tt := range tests {
		if got := textnorm.FoldArabic(tt.in); got != tt.want {
			t.Errorf("FoldArabic(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	fn := textnorm.Chain(textnorm.Normalize, nil, textnorm.FoldArabic)
	if got, want := fn("الصَّلاة"), "الصلاه"; got != want {
		t.Errorf("Chain(Normalize, FoldArabic)(%q) = %q, want %q", "الصَّلاة", got, want)
	}

	if got := textnorm.Chain()("As Is"); got != "As Is" {
		t.Errorf("empty Chain changed input: got %q", got)
	}
}

func TestFold_ByName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "none", "arabic", "AR"} {
		if _, ok := textnorm.Fold(name); !ok {
			t.Errorf("Fold(%q): ok=false, want true", name)
		}
	}
	if _, ok := textnorm.Fold("klingon"); ok {
		t.Error("Fold(klingon): ok=true, want false")
	}
}

func TestTokens_Offsets(t *testing.T) {
	t.Parallel()

	text := "Hello, world!"
	got := textnorm.Tokens(text)
	want := []textnorm.Token{
		{Text: "Hello", Start: 0, End: 5},
		{Text: "world", Start: 7, End: 12},
	}
	if !slices.Equal(got, want) {
		t.Fatalf("Tokens(%q) = %+v, want %+v", text, got, want)
	}
}

func TestTokens_VerbatimAndDeterministic(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"to be, or not to be: that is the question",
		"بِسْمِ اللَّهِ الرَّحْمَٰنِ",
		"abc123def 4,5",
		"été",
	}
	for _, text := range inputs {
		first := textnorm.Tokens(text)
		for _, tok := range first {
			if text[tok.Start:tok.End] != tok.Text {
				t.Errorf("Tokens(%q): token %q has offsets [%d,%d) pointing at %q",
					text, tok.Text, tok.Start, tok.End, text[tok.Start:tok.End])
			}
		}
		if second := textnorm.Tokens(text); !slices.Equal(first, second) {
			t.Errorf("Tokens(%q) not deterministic: %+v vs %+v", text, first, second)
		}
	}
}

func TestWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: []string{}},
		{name: "punctuation dropped", in: "to be, or not", want: []string{"to", "be", "or", "not"}},
		{name: "letters and digits split", in: "abc123def", want: []string{"abc", "123", "def"}},
		{name: "combining mark joins letter", in: "ét", want: []string{"ét"}},
		{name: "arabic with marks", in: "بِسْمِ اللَّهِ", want: []string{"بِسْمِ", "اللَّهِ"}},
		{name: "separators only", in: " -- ", want: []string{}},
		{name: "mark after digit stays with digit", in: "x1\u0301y", want: []string{"x", "1\u0301", "y"}},
		{name: "leading mark starts letter run", in: "\u0301ab 1", want: []string{"\u0301ab", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := textnorm.Words(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("Words(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFields(t *testing.T) {
	t.Parallel()

	if got, want := textnorm.Fields("  jumps,  over\tthe "), []string{"jumps,", "over", "the"}; !slices.Equal(got, want) {
		t.Errorf("Fields = %q, want %q", got, want)
	}
}

func TestTokenizerByName(t *testing.T) {
	t.Parallel()

	ws, ok := textnorm.TokenizerByName("whitespace")
	if !ok {
		t.Fatal("TokenizerByName(whitespace): ok=false")
	}
	if got := ws("a,b c"); !slices.Equal(got, []string{"a,b", "c"}) {
		t.Errorf("whitespace tokenizer = %q", got)
	}

	words, ok := textnorm.TokenizerByName("words")
	if !ok {
		t.Fatal("TokenizerByName(words): ok=false")
	}
	if got := words("a,b c"); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("words tokenizer = %q", got)
	}

	if _, ok := textnorm.TokenizerByName("sentencepiece"); ok {
		t.Error("TokenizerByName(sentencepiece): ok=true, want false")
	}
}
