package passage

import (
	"context"
	"errors"

	"github.com/MrWong99/recital/internal/resilience"
)

// GuardedStore wraps a remote [Store] with a circuit breaker. Lookups of
// missing passages, duplicate IDs, and validation failures are answers from
// a healthy backend and never trip the breaker.
type GuardedStore struct {
	next    Store
	breaker *resilience.Breaker
}

var _ Store = (*GuardedStore)(nil)

// NewGuardedStore wraps next. cfg.IsFailure is replaced by the passage-aware
// predicate.
func NewGuardedStore(next Store, cfg resilience.Config) *GuardedStore {
	cfg.IsFailure = IsBackendFailure
	return &GuardedStore{next: next, breaker: resilience.New(cfg)}
}

// IsBackendFailure reports whether err indicates a problem with the storage
// backend rather than with the request.
func IsBackendFailure(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateID), errors.Is(err, ErrInvalid):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Breaker exposes the breaker, for health checks.
func (g *GuardedStore) Breaker() *resilience.Breaker { return g.breaker }

func (g *GuardedStore) Create(ctx context.Context, p *Passage) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error { return g.next.Create(ctx, p) })
}

func (g *GuardedStore) Put(ctx context.Context, p *Passage) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error { return g.next.Put(ctx, p) })
}

func (g *GuardedStore) Get(ctx context.Context, id string) (*Passage, error) {
	var p *Passage
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		p, err = g.next.Get(ctx, id)
		return err
	})
	return p, err
}

func (g *GuardedStore) List(ctx context.Context, opts ListOptions) ([]Passage, error) {
	var ps []Passage
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		ps, err = g.next.List(ctx, opts)
		return err
	})
	return ps, err
}

func (g *GuardedStore) Delete(ctx context.Context, id string) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error { return g.next.Delete(ctx, id) })
}
