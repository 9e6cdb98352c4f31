// Package passage stores the reference texts learners practise reciting.
//
// A [Passage] is a named reference text plus light metadata. Passages are
// kept in a [Store]; [MemStore] serves tests and single-process deployments,
// [PostgresStore] persists them across restarts. Seed files in YAML are read
// with [LoadFile] and written into a store with [Seed].
package passage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned when the requested passage does not exist.
var ErrNotFound = errors.New("passage not found")

// ErrDuplicateID is returned by Create when a passage with the same ID
// already exists.
var ErrDuplicateID = errors.New("passage with that ID already exists")

// ErrInvalid wraps every validation failure so callers can map it to a
// client error with [errors.Is].
var ErrInvalid = errors.New("invalid passage")

// maxIDLen bounds passage identifiers so they stay usable in URLs.
const maxIDLen = 128

// Passage is one practice item.
type Passage struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title,omitempty" yaml:"title"`
	Text     string   `json:"text" yaml:"text"`
	Language string   `json:"language,omitempty" yaml:"language"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks that p can be stored. The ID must be non-empty and use
// only lowercase ASCII letters, digits, '-' and '_'; the text must contain
// something other than whitespace.
func (p *Passage) Validate() error {
	var errs []error
	switch {
	case p.ID == "":
		errs = append(errs, errors.New("id must not be empty"))
	case len(p.ID) > maxIDLen:
		errs = append(errs, fmt.Errorf("id must be at most %d bytes", maxIDLen))
	case !validID(p.ID):
		errs = append(errs, fmt.Errorf("id %q may only contain a-z, 0-9, '-' and '_'", p.ID))
	}
	if strings.TrimSpace(p.Text) == "" {
		errs = append(errs, errors.New("text must not be empty"))
	}
	for i, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, fmt.Errorf("tags[%d] must not be empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("passage: %w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func validID(id string) bool {
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// Store persists passages. All implementations must be safe for concurrent
// use.
type Store interface {
	// Create adds a new passage.
	// Returns [ErrDuplicateID] if the ID is already taken.
	Create(ctx context.Context, p *Passage) error

	// Put creates or replaces a passage. CreatedAt is preserved when the
	// passage already exists.
	Put(ctx context.Context, p *Passage) error

	// Get retrieves a passage by ID.
	// Returns [ErrNotFound] when no passage with that ID exists.
	Get(ctx context.Context, id string) (*Passage, error)

	// List returns the passages matching opts ordered by ID.
	List(ctx context.Context, opts ListOptions) ([]Passage, error)

	// Delete removes a passage.
	// Returns [ErrNotFound] when no passage with that ID exists.
	Delete(ctx context.Context, id string) error
}

// ListOptions narrows [Store.List]. Zero fields match everything.
type ListOptions struct {
	// Language restricts results to passages in this language (case-insensitive).
	Language string

	// Tag restricts results to passages carrying this tag.
	Tag string
}

// Matches reports whether p satisfies the filter.
func (o ListOptions) Matches(p *Passage) bool {
	if o.Language != "" && !strings.EqualFold(o.Language, p.Language) {
		return false
	}
	if o.Tag != "" && !slices.Contains(p.Tags, o.Tag) {
		return false
	}
	return true
}

func clonePassage(p *Passage) *Passage {
	c := *p
	c.Tags = slices.Clone(p.Tags)
	return &c
}
