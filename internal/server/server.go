// Package server exposes recital over HTTP.
//
// Routes:
//
//	POST   /v1/align                    align one reference/hypothesis pair
//	POST   /v1/evaluate                 align many pairs and aggregate WER
//	POST   /v1/recite                   stateless recitation match
//	GET    /v1/passages                 list passages (?language=&tag=)
//	POST   /v1/passages                 create a passage
//	GET    /v1/passages/{id}            fetch a passage
//	PUT    /v1/passages/{id}            create or replace a passage
//	DELETE /v1/passages/{id}            delete a passage
//	POST   /v1/sessions                 start a practice session
//	GET    /v1/sessions/{id}            session progress
//	DELETE /v1/sessions/{id}            stop a session
//	PUT    /v1/sessions/{id}/transcript replace the cumulative transcript
//	POST   /v1/sessions/{id}/tokens     append final tokens
//	GET    /v1/sessions/{id}/result     match result of the committed transcript
//	GET    /v1/sessions/{id}/stream     WebSocket live recitation
//	GET    /healthz, /readyz, /metrics
//
// All request and response bodies are JSON. Errors are reported as
// {"error": "..."} with a status derived from the error kind.
package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/MrWong99/recital/internal/config"
	"github.com/MrWong99/recital/internal/health"
	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/internal/passage"
	"github.com/MrWong99/recital/internal/practice"
	"github.com/MrWong99/recital/pkg/align"
	"github.com/MrWong99/recital/pkg/recite"
)

// Config holds the dependencies of a [Server].
type Config struct {
	Store    passage.Store
	Sessions *practice.Manager

	// Health serves /healthz and /readyz when non-nil.
	Health *health.Handler

	// Metrics records request and alignment metrics. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics when non-nil.
	MetricsHandler http.Handler

	// Registry resolves scorer, locale, and tokenizer names. Defaults to an
	// empty registry with the built-ins.
	Registry *config.Registry

	Matcher   config.MatcherConfig
	Alignment config.AlignmentConfig

	// OriginPatterns lists extra host patterns allowed to open the
	// WebSocket stream from a browser.
	OriginPatterns []string
}

// Server is the recital HTTP API. The matcher and alignment settings can be
// swapped at runtime with [Server.SetMatcher] and [Server.SetAlignment].
type Server struct {
	store          passage.Store
	sessions       *practice.Manager
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	registry       *config.Registry
	originPatterns []string

	mu         sync.RWMutex
	matcherCfg config.MatcherConfig
	matcher    *recite.Matcher
	alignment  alignSettings
}

type alignSettings struct {
	cfg  config.AlignmentConfig
	opts []align.Option
}

// New validates cfg and builds a [Server].
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("server: session manager is required")
	}
	s := &Server{
		store:          cfg.Store,
		sessions:       cfg.Sessions,
		health:         cfg.Health,
		metrics:        cfg.Metrics,
		metricsHandler: cfg.MetricsHandler,
		registry:       cfg.Registry,
		originPatterns: cfg.OriginPatterns,
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.registry == nil {
		s.registry = config.NewRegistry()
	}
	if err := s.SetMatcher(cfg.Matcher); err != nil {
		return nil, err
	}
	if err := s.SetAlignment(cfg.Alignment); err != nil {
		return nil, err
	}
	return s, nil
}

// SetMatcher rebuilds the matcher used by stateless recite calls and by
// sessions started afterwards.
func (s *Server) SetMatcher(mc config.MatcherConfig) error {
	m, err := s.registry.NewMatcher(mc)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	s.mu.Lock()
	s.matcherCfg = mc
	s.matcher = m
	s.mu.Unlock()
	s.sessions.SetMatcher(m)
	return nil
}

// SetAlignment replaces the batch alignment settings.
func (s *Server) SetAlignment(ac config.AlignmentConfig) error {
	opts, err := s.registry.AlignOptions(ac)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if ac.MaxParallel < 1 {
		ac.MaxParallel = 1
	}
	s.mu.Lock()
	s.alignment = alignSettings{cfg: ac, opts: opts}
	s.mu.Unlock()
	return nil
}

func (s *Server) currentMatcher() (config.MatcherConfig, *recite.Matcher) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.matcherCfg, s.matcher
}

func (s *Server) currentAlignment() alignSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alignment
}

// Handler returns the routed HTTP handler wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/align", s.handleAlign)
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /v1/recite", s.handleRecite)

	mux.HandleFunc("GET /v1/passages", s.handleListPassages)
	mux.HandleFunc("POST /v1/passages", s.handleCreatePassage)
	mux.HandleFunc("GET /v1/passages/{id}", s.handleGetPassage)
	mux.HandleFunc("PUT /v1/passages/{id}", s.handlePutPassage)
	mux.HandleFunc("DELETE /v1/passages/{id}", s.handleDeletePassage)

	mux.HandleFunc("POST /v1/sessions", s.handleStartSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleStopSession)
	mux.HandleFunc("PUT /v1/sessions/{id}/transcript", s.handleUpdateTranscript)
	mux.HandleFunc("POST /v1/sessions/{id}/tokens", s.handleAppendTokens)
	mux.HandleFunc("GET /v1/sessions/{id}/result", s.handleSessionResult)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)

	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	return observe.Middleware(s.metrics)(mux)
}
