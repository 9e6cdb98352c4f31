package passage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const seedYAML = `
passages:
  - id: al-ikhlas-1
    title: "Al-Ikhlas, verse 1"
    language: ar
    tags: [quran, short]
    text: "قُلْ هُوَ اللَّهُ أَحَدٌ"
  - id: psalm-23-1
    language: en
    text: "The Lord is my shepherd; I shall not want."
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()
	ps, err := LoadFromReader(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("got %d passages, want 2", len(ps))
	}
	if ps[0].ID != "al-ikhlas-1" || ps[0].Language != "ar" || len(ps[0].Tags) != 2 {
		t.Errorf("passages[0] = %+v", ps[0])
	}
	if ps[1].Title != "" || ps[1].Tags != nil {
		t.Errorf("passages[1] = %+v, want no title or tags", ps[1])
	}
}

func TestLoadFromReader_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown field", yaml: "passages:\n  - id: a\n    text: x\n    author: me\n", want: "author"},
		{name: "invalid passage", yaml: "passages:\n  - id: a\n", want: "passages[0]"},
		{name: "duplicate id", yaml: "passages:\n  - {id: a, text: x}\n  - {id: a, text: y}\n", want: "already used"},
		{name: "malformed", yaml: "passages: [", want: "decode seed yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "passages.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	ps, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(ps) != 2 {
		t.Errorf("got %d passages, want 2", len(ps))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadFile missing = %v, want ErrNotExist", err)
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ps, err := LoadFromReader(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatal(err)
	}

	s := NewMemStore()
	n, err := Seed(ctx, s, ps)
	if err != nil || n != 2 {
		t.Fatalf("Seed = (%d, %v), want (2, nil)", n, err)
	}
	// Seeding twice upserts instead of failing.
	if n, err := Seed(ctx, s, ps); err != nil || n != 2 {
		t.Fatalf("second Seed = (%d, %v), want (2, nil)", n, err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestSeed_AbortsOnError(t *testing.T) {
	t.Parallel()
	ps := []Passage{{ID: "ok", Text: "x"}, {ID: "Not OK", Text: "x"}, {ID: "later", Text: "x"}}
	s := NewMemStore()
	n, err := Seed(context.Background(), s, ps)
	if err == nil || n != 1 {
		t.Fatalf("Seed = (%d, %v), want (1, error)", n, err)
	}
	if !strings.Contains(err.Error(), `seed "Not OK"`) {
		t.Errorf("error = %q", err)
	}
}

func TestLoadFile_ExampleSeed(t *testing.T) {
	t.Parallel()
	ps, err := LoadFile(filepath.Join("..", "..", "configs", "passages.yaml"))
	if err != nil {
		t.Fatalf("example seed does not load: %v", err)
	}
	if len(ps) != 3 {
		t.Errorf("got %d passages, want 3", len(ps))
	}
}
