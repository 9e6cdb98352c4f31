package passage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store]. The zero value is ready to
// use. Stored passages are copied on the way in and out.
type MemStore struct {
	mu       sync.RWMutex
	passages map[string]*Passage

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{passages: make(map[string]*Passage)}
}

func (s *MemStore) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// Create implements [Store.Create].
func (s *MemStore) Create(_ context.Context, p *Passage) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passages == nil {
		s.passages = make(map[string]*Passage)
	}
	if _, exists := s.passages[p.ID]; exists {
		return ErrDuplicateID
	}
	now := s.clock()
	p.CreatedAt, p.UpdatedAt = now, now
	s.passages[p.ID] = clonePassage(p)
	return nil
}

// Put implements [Store.Put].
func (s *MemStore) Put(_ context.Context, p *Passage) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passages == nil {
		s.passages = make(map[string]*Passage)
	}
	now := s.clock()
	p.CreatedAt = now
	if old, ok := s.passages[p.ID]; ok {
		p.CreatedAt = old.CreatedAt
	}
	p.UpdatedAt = now
	s.passages[p.ID] = clonePassage(p)
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (*Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.passages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePassage(p), nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context, opts ListOptions) ([]Passage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Passage, 0, len(s.passages))
	for _, p := range s.passages {
		if opts.Matches(p) {
			out = append(out, *clonePassage(p))
		}
	}
	slices.SortFunc(out, func(a, b Passage) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.passages[id]; !ok {
		return ErrNotFound
	}
	delete(s.passages, id)
	return nil
}

// Len returns the number of stored passages.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.passages)
}
