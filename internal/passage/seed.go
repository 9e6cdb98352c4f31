package passage

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a passage seed file.
//
// Example:
//
//	passages:
//	  - id: al-fatiha-1
//	    title: "Al-Fatiha, verse 1"
//	    language: ar
//	    tags: [quran, short]
//	    text: "بِسْمِ اللَّهِ الرَّحْمَٰنِ الرَّحِيمِ"
type File struct {
	Passages []Passage `yaml:"passages"`
}

// LoadFile reads and parses a passage seed file from disk.
func LoadFile(path string) ([]Passage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("passage: open seed file %q: %w", path, err)
	}
	defer f.Close()

	ps, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("passage: parse seed file %q: %w", path, err)
	}
	return ps, nil
}

// LoadFromReader parses seed YAML from r and validates every passage.
// Duplicate IDs within one file are rejected.
func LoadFromReader(r io.Reader) ([]Passage, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("passage: decode seed yaml: %w", err)
	}

	seen := make(map[string]int, len(f.Passages))
	for i := range f.Passages {
		p := &f.Passages[i]
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("passages[%d]: %w", i, err)
		}
		if j, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("passages[%d]: id %q already used by passages[%d]: %w", i, p.ID, j, ErrDuplicateID)
		}
		seen[p.ID] = i
	}
	return f.Passages, nil
}

// Seed upserts passages into store and returns how many were written.
// A store error aborts the import and returns the count so far.
func Seed(ctx context.Context, store Store, passages []Passage) (int, error) {
	for i := range passages {
		p := passages[i]
		if err := store.Put(ctx, &p); err != nil {
			return i, fmt.Errorf("passage: seed %q: %w", p.ID, err)
		}
	}
	return len(passages), nil
}
