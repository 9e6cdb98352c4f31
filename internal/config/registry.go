package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/recital/pkg/align"
	"github.com/MrWong99/recital/pkg/recite"
	"github.com/MrWong99/recital/pkg/similarity"
	"github.com/MrWong99/recital/pkg/textnorm"
)

// ErrNotRegistered is returned when a configured scorer, locale, or
// tokenizer name has no implementation.
var ErrNotRegistered = errors.New("config: name not registered")

// Registry maps the names used in configuration to scorers, locale folds,
// and tokenizers. Lookups fall back to the built-in implementations of
// [similarity.ByName], [textnorm.Fold], and [textnorm.TokenizerByName], so an
// empty Registry resolves everything [Validate] accepts.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	scorers    map[string]similarity.Scorer
	folds      map[string]textnorm.Func
	tokenizers map[string]textnorm.Tokenizer
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		scorers:    make(map[string]similarity.Scorer),
		folds:      make(map[string]textnorm.Func),
		tokenizers: make(map[string]textnorm.Tokenizer),
	}
}

// RegisterScorer registers a similarity scorer under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterScorer(name string, s similarity.Scorer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[strings.ToLower(name)] = s
}

// RegisterFold registers a locale folding step under name.
func (r *Registry) RegisterFold(name string, fn textnorm.Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.folds[strings.ToLower(name)] = fn
}

// RegisterTokenizer registers a tokenizer under name.
func (r *Registry) RegisterTokenizer(name string, tok textnorm.Tokenizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenizers[strings.ToLower(name)] = tok
}

// Scorer resolves a scorer name.
func (r *Registry) Scorer(name string) (similarity.Scorer, error) {
	r.mu.RLock()
	s, ok := r.scorers[strings.ToLower(name)]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	if s, ok := similarity.ByName(name); ok {
		return s, nil
	}
	return nil, fmt.Errorf("scorer %q: %w", name, ErrNotRegistered)
}

// Fold resolves a locale name.
func (r *Registry) Fold(name string) (textnorm.Func, error) {
	r.mu.RLock()
	fn, ok := r.folds[strings.ToLower(name)]
	r.mu.RUnlock()
	if ok {
		return fn, nil
	}
	if fn, ok := textnorm.Fold(name); ok {
		return fn, nil
	}
	return nil, fmt.Errorf("locale %q: %w", name, ErrNotRegistered)
}

// Tokenizer resolves a tokenizer name.
func (r *Registry) Tokenizer(name string) (textnorm.Tokenizer, error) {
	r.mu.RLock()
	tok, ok := r.tokenizers[strings.ToLower(name)]
	r.mu.RUnlock()
	if ok {
		return tok, nil
	}
	if tok, ok := textnorm.TokenizerByName(name); ok {
		return tok, nil
	}
	return nil, fmt.Errorf("tokenizer %q: %w", name, ErrNotRegistered)
}

// NewMatcher builds the recitation matcher described by mc.
func (r *Registry) NewMatcher(mc MatcherConfig) (*recite.Matcher, error) {
	scorer, err := r.Scorer(mc.Scorer)
	if err != nil {
		return nil, fmt.Errorf("config: matcher: %w", err)
	}
	fold, err := r.Fold(mc.Locale)
	if err != nil {
		return nil, fmt.Errorf("config: matcher: %w", err)
	}
	return recite.New(
		recite.WithThreshold(mc.Threshold),
		recite.WithLocaleNormalization(mc.LocaleNormalization),
		recite.WithFold(fold),
		recite.WithScorer(scorer),
	), nil
}

// AlignOptions returns the batch alignment options described by ac.
func (r *Registry) AlignOptions(ac AlignmentConfig) ([]align.Option, error) {
	tok, err := r.Tokenizer(ac.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("config: alignment: %w", err)
	}
	return []align.Option{
		align.WithCaseSensitive(ac.CaseSensitive),
		align.WithTokenizer(tok),
	}, nil
}
