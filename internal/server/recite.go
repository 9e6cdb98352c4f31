package server

import (
	"net/http"
	"time"

	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/pkg/recite"
)

type reciteRequest struct {
	Reference           *string  `json:"reference,omitempty"`
	PassageID           string   `json:"passage_id,omitempty"`
	Transcript          []string `json:"transcript"`
	Threshold           *float64 `json:"threshold,omitempty"`
	LocaleNormalization *bool    `json:"locale_normalization,omitempty"`
}

// matcherFor returns the configured matcher, or a one-off matcher when the
// request overrides its settings.
func (s *Server) matcherFor(threshold *float64, locale *bool) (*recite.Matcher, error) {
	mc, m := s.currentMatcher()
	if threshold == nil && locale == nil {
		return m, nil
	}
	if threshold != nil {
		if *threshold < 0 || *threshold > 1 {
			return nil, badRequest("threshold %v is out of range [0, 1]", *threshold)
		}
		mc.Threshold = *threshold
	}
	if locale != nil {
		mc.LocaleNormalization = *locale
	}
	return s.registry.NewMatcher(mc)
}

func (s *Server) handleRecite(w http.ResponseWriter, r *http.Request) {
	var req reciteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var text string
	switch {
	case req.Reference != nil && req.PassageID != "":
		writeError(w, r, badRequest("set either reference or passage_id, not both"))
		return
	case req.Reference != nil:
		text = *req.Reference
	case req.PassageID != "":
		p, err := s.store.Get(r.Context(), req.PassageID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		text = p.Text
	default:
		writeError(w, r, badRequest("reference or passage_id is required"))
		return
	}

	m, err := s.matcherFor(req.Threshold, req.LocaleNormalization)
	if err != nil {
		writeError(w, r, err)
		return
	}

	start := time.Now()
	res := m.Match(m.Prepare(text), req.Transcript)
	s.metrics.RecordRecitation(r.Context(), observe.ModeStateless, time.Since(start))

	writeJSON(w, http.StatusOK, res)
}
