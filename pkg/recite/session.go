package recite

import (
	"slices"
	"sync"
)

// Progress is a snapshot of a [Session].
type Progress struct {
	// Revealed is the number of revealed reference tokens.
	Revealed int `json:"revealed"`

	// Total is the number of reference tokens.
	Total int `json:"total"`

	// Pointer is the highest pointer reached so far.
	Pointer int `json:"pointer"`

	// Complete reports whether every reference token is revealed.
	Complete bool `json:"complete"`

	// Mask has one entry per reference token.
	Mask []bool `json:"mask"`

	// Unrevealed lists the verbatim reference tokens still hidden.
	Unrevealed []string `json:"unrevealed"`
}

// Session keeps recitation progress across transcript updates. It owns the
// cumulative transcript and a revealed mask that only ever gains bits: an
// update never hides a token that an earlier update revealed, and the
// pointer never moves back.
//
// A Session is safe for concurrent use. Updates are applied in the order in
// which they acquire the session.
type Session struct {
	matcher *Matcher
	ref     *Reference

	mu         sync.Mutex
	transcript []string
	mask       []bool
	pointer    int
	last       Result
}

// NewSession starts a session over ref. A nil matcher uses [New] defaults.
func NewSession(m *Matcher, ref *Reference) *Session {
	if m == nil {
		m = New()
	}
	s := &Session{matcher: m, ref: ref}
	s.resetLocked()
	return s
}

// Reference returns the prepared reference of the session.
func (s *Session) Reference() *Reference { return s.ref }

// Update replaces the cumulative transcript, re-runs the matcher over it and
// merges the result into the session progress.
func (s *Session) Update(cumulative []string) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = slices.Clone(cumulative)
	return s.commitLocked()
}

// Append extends the cumulative transcript with tokens and updates the
// progress.
func (s *Session) Append(tokens ...string) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, tokens...)
	return s.commitLocked()
}

// Preview reports the progress the session would have if interim were
// appended to the transcript, without committing anything. Interim results
// from a speech recogniser are typically revised before they become final.
func (s *Session) Preview(interim []string) Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidate := append(slices.Clone(s.transcript), interim...)
	res := s.matcher.Match(s.ref, candidate)
	mask := slices.Clone(s.mask)
	orInto(mask, res.Revealed)
	return s.progress(mask, max(s.pointer, res.Pointer))
}

// Reset clears the transcript and all progress.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Progress returns the current progress.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress(s.mask, s.pointer)
}

// Result returns the matcher result of the last committed update.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Transcript returns a copy of the cumulative transcript.
func (s *Session) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transcript)
}

func (s *Session) resetLocked() {
	s.transcript = nil
	s.mask = make([]bool, s.ref.Len())
	s.pointer = 0
	s.last = s.matcher.Match(s.ref, nil)
}

func (s *Session) commitLocked() Progress {
	res := s.matcher.Match(s.ref, s.transcript)
	orInto(s.mask, res.Revealed)
	s.pointer = max(s.pointer, res.Pointer)
	s.last = res
	return s.progress(s.mask, s.pointer)
}

func (s *Session) progress(mask []bool, pointer int) Progress {
	p := Progress{
		Total:      len(mask),
		Pointer:    pointer,
		Mask:       slices.Clone(mask),
		Unrevealed: s.ref.unrevealed(mask),
	}
	for _, v := range mask {
		if v {
			p.Revealed++
		}
	}
	p.Complete = p.Revealed == p.Total
	return p
}

func orInto(dst, src []bool) {
	for i := range min(len(dst), len(src)) {
		dst[i] = dst[i] || src[i]
	}
}
