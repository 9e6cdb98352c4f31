// Package practice manages live recitation practice sessions.
//
// A session binds one stored passage to a [recite.Session] that accumulates
// the learner's transcript. The [Manager] hands out session IDs, routes
// transcript updates to the right session, records metrics, and evicts
// sessions that have gone idle.
package practice

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/internal/passage"
	"github.com/MrWong99/recital/pkg/recite"
)

// ErrSessionNotFound is returned when a session ID is unknown or the
// session was stopped or evicted.
var ErrSessionNotFound = errors.New("practice: session not found")

// ErrTooManySessions is returned by Start when the active-session cap is
// reached.
var ErrTooManySessions = errors.New("practice: too many active sessions")

// DefaultIdleTimeout is how long a session may go without updates before
// [Manager.Sweep] evicts it.
const DefaultIdleTimeout = 30 * time.Minute

// Info describes one session.
type Info struct {
	SessionID  string          `json:"session_id"`
	PassageID  string          `json:"passage_id"`
	StartedAt  time.Time       `json:"started_at"`
	LastActive time.Time       `json:"last_active"`
	Progress   recite.Progress `json:"progress"`
}

type entry struct {
	id        string
	passageID string
	started   time.Time
	sess      *recite.Session

	// mu orders updates so revealed-token deltas are attributed once.
	mu         sync.Mutex
	lastActive time.Time
	revealed   int
}

func (e *entry) info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Info{
		SessionID:  e.id,
		PassageID:  e.passageID,
		StartedAt:  e.started,
		LastActive: e.lastActive,
		Progress:   e.sess.Progress(),
	}
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMatcher sets the matcher used for new sessions.
func WithMatcher(m *recite.Matcher) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.matcher = m
		}
	}
}

// WithIdleTimeout sets the idle eviction timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(mgr *Manager) {
		if d > 0 {
			mgr.idleTimeout = d
		}
	}
}

// WithMaxActive caps the number of concurrent sessions. Zero means no cap.
func WithMaxActive(n int) Option {
	return func(mgr *Manager) {
		if n >= 0 {
			mgr.maxActive = n
		}
	}
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) {
		if m != nil {
			mgr.metrics = m
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		if now != nil {
			mgr.now = now
		}
	}
}

// Manager owns the live sessions. All exported methods are safe for
// concurrent use.
type Manager struct {
	store   passage.Store
	metrics *observe.Metrics
	now     func() time.Time

	mu          sync.RWMutex
	matcher     *recite.Matcher
	idleTimeout time.Duration
	maxActive   int
	sessions    map[string]*entry
}

// NewManager creates a [Manager] that looks passages up in store.
func NewManager(store passage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		now:         time.Now,
		matcher:     recite.New(),
		idleTimeout: DefaultIdleTimeout,
		sessions:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// SetMatcher replaces the matcher. Running sessions keep the matcher they
// started with.
func (m *Manager) SetMatcher(matcher *recite.Matcher) {
	if matcher == nil {
		return
	}
	m.mu.Lock()
	m.matcher = matcher
	m.mu.Unlock()
}

// SetLimits updates the idle timeout and session cap. Non-positive idle
// timeouts and negative caps are ignored.
func (m *Manager) SetLimits(idleTimeout time.Duration, maxActive int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idleTimeout > 0 {
		m.idleTimeout = idleTimeout
	}
	if maxActive >= 0 {
		m.maxActive = maxActive
	}
}

// Start opens a session for the given passage.
func (m *Manager) Start(ctx context.Context, passageID string) (Info, error) {
	p, err := m.store.Get(ctx, passageID)
	if err != nil {
		return Info{}, fmt.Errorf("practice: start: %w", err)
	}
	id, err := generateID()
	if err != nil {
		return Info{}, fmt.Errorf("practice: generate id: %w", err)
	}

	m.mu.Lock()
	if m.maxActive > 0 && len(m.sessions) >= m.maxActive {
		m.mu.Unlock()
		return Info{}, ErrTooManySessions
	}
	now := m.now()
	e := &entry{
		id:         id,
		passageID:  p.ID,
		started:    now,
		lastActive: now,
		sess:       recite.NewSession(m.matcher, m.matcher.Prepare(p.Text)),
	}
	m.sessions[id] = e
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Info("practice session started",
		"session_id", id, "passage_id", p.ID, "tokens", e.sess.Reference().Len())
	return e.info(), nil
}

// Get returns the current state of a session.
func (m *Manager) Get(id string) (Info, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return e.info(), nil
}

// Result returns the full match result of the committed transcript.
func (m *Manager) Result(id string) (recite.Result, error) {
	e, err := m.lookup(id)
	if err != nil {
		return recite.Result{}, err
	}
	return e.sess.Result(), nil
}

// Update replaces the session transcript with the cumulative one.
func (m *Manager) Update(ctx context.Context, id string, cumulative []string) (recite.Progress, error) {
	return m.commit(ctx, id, func(s *recite.Session) recite.Progress { return s.Update(cumulative) })
}

// Append extends the session transcript with final tokens.
func (m *Manager) Append(ctx context.Context, id string, tokens ...string) (recite.Progress, error) {
	return m.commit(ctx, id, func(s *recite.Session) recite.Progress { return s.Append(tokens...) })
}

// Preview reports the progress the session would reach with the interim
// tokens appended, without committing them.
func (m *Manager) Preview(ctx context.Context, id string, interim []string) (recite.Progress, error) {
	e, err := m.lookup(id)
	if err != nil {
		return recite.Progress{}, err
	}
	start := time.Now()
	p := e.sess.Preview(interim)
	m.metrics.RecordRecitation(ctx, observe.ModeSession, time.Since(start))
	m.touch(e)
	return p, nil
}

// Reset clears the progress of a session.
func (m *Manager) Reset(ctx context.Context, id string) (recite.Progress, error) {
	e, err := m.lookup(id)
	if err != nil {
		return recite.Progress{}, err
	}
	e.mu.Lock()
	e.sess.Reset()
	e.revealed = 0
	e.lastActive = m.now()
	e.mu.Unlock()
	observe.Logger(ctx).Debug("practice session reset", "session_id", id)
	return e.sess.Progress(), nil
}

// Stop ends a session.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	m.metrics.ActiveSessions.Add(ctx, -1)
	p := e.sess.Progress()
	observe.Logger(ctx).Info("practice session stopped",
		"session_id", id, "revealed", p.Revealed, "total", p.Total, "complete", p.Complete)
	return nil
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Capacity returns the number of live sessions and the configured cap
// (zero when uncapped).
func (m *Manager) Capacity() (active, limit int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), m.maxActive
}

// Sweep evicts sessions idle since before now minus the idle timeout and
// returns how many were evicted.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	cutoff := now.Add(-m.idleTimeout)
	var evicted []string
	for id, e := range m.sessions {
		e.mu.Lock()
		idle := e.lastActive.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			evicted = append(evicted, id)
		}
	}
	m.mu.Unlock()

	if len(evicted) > 0 {
		m.metrics.ActiveSessions.Add(context.Background(), -int64(len(evicted)))
		slog.Info("practice sessions evicted", "count", len(evicted), "ids", evicted)
	}
	return len(evicted)
}

// RunSweeper calls [Manager.Sweep] every interval until ctx is cancelled.
// It always returns nil so it can run inside an errgroup.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

func (m *Manager) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

func (m *Manager) touch(e *entry) {
	e.mu.Lock()
	e.lastActive = m.now()
	e.mu.Unlock()
}

func (m *Manager) commit(ctx context.Context, id string, apply func(*recite.Session) recite.Progress) (recite.Progress, error) {
	e, err := m.lookup(id)
	if err != nil {
		return recite.Progress{}, err
	}

	e.mu.Lock()
	start := time.Now()
	p := apply(e.sess)
	took := time.Since(start)
	delta := p.Revealed - e.revealed
	e.revealed = p.Revealed
	e.lastActive = m.now()
	e.mu.Unlock()

	m.metrics.RecordRecitation(ctx, observe.ModeSession, took)
	m.metrics.RecordRevealed(ctx, delta)
	if p.Complete && delta > 0 {
		observe.Logger(ctx).Info("practice session complete", "session_id", id, "total", p.Total)
	}
	return p, nil
}

// generateID returns a random 16-character hex identifier.
func generateID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
