package server

import (
	"context"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/pkg/align"
)

type alignRequest struct {
	Reference     string  `json:"reference"`
	Hypothesis    string  `json:"hypothesis"`
	CaseSensitive *bool   `json:"case_sensitive,omitempty"`
	Tokenizer     *string `json:"tokenizer,omitempty"`
}

type alignResponse struct {
	Alignment []align.AlignedToken `json:"alignment"`
	WER       align.WERMetrics     `json:"wer"`
	CER       float64              `json:"cer"`
	Stats     align.Stats          `json:"stats"`
}

// alignOptions applies per-request overrides on top of the configured
// alignment options.
func (s *Server) alignOptions(caseSensitive *bool, tokenizer *string) ([]align.Option, alignSettings, error) {
	settings := s.currentAlignment()
	opts := slices.Clone(settings.opts)
	if caseSensitive != nil {
		opts = append(opts, align.WithCaseSensitive(*caseSensitive))
	}
	if tokenizer != nil {
		tok, err := s.registry.Tokenizer(*tokenizer)
		if err != nil {
			return nil, settings, badRequest("%v", err)
		}
		opts = append(opts, align.WithTokenizer(tok))
	}
	return opts, settings, nil
}

func (s *Server) alignOne(ctx context.Context, endpoint, reference, hypothesis string, opts []align.Option) alignResponse {
	start := time.Now()
	a := align.Align(reference, hypothesis, opts...)
	resp := alignResponse{
		Alignment: a,
		WER:       align.ComputeWER(a),
		CER:       align.ComputeCER(a),
		Stats:     align.ComputeStats(a),
	}
	s.metrics.RecordAlignment(ctx, endpoint, time.Since(start), resp.WER.WER)
	return resp
}

func (s *Server) handleAlign(w http.ResponseWriter, r *http.Request) {
	var req alignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opts, _, err := s.alignOptions(req.CaseSensitive, req.Tokenizer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.alignOne(r.Context(), "align", req.Reference, req.Hypothesis, opts))
}

type evaluatePair struct {
	ID         string `json:"id,omitempty"`
	Reference  string `json:"reference"`
	Hypothesis string `json:"hypothesis"`
}

type evaluateRequest struct {
	Pairs            []evaluatePair `json:"pairs"`
	CaseSensitive    *bool          `json:"case_sensitive,omitempty"`
	Tokenizer        *string        `json:"tokenizer,omitempty"`
	IncludeAlignment bool           `json:"include_alignment,omitempty"`
}

type evaluateResult struct {
	ID        string               `json:"id,omitempty"`
	Alignment []align.AlignedToken `json:"alignment,omitempty"`
	WER       align.WERMetrics     `json:"wer"`
	CER       float64              `json:"cer"`
	Stats     align.Stats          `json:"stats"`
}

type evaluateResponse struct {
	Results   []evaluateResult `json:"results"`
	Aggregate align.WERMetrics `json:"aggregate"`
}

// handleEvaluate aligns every pair with bounded parallelism and reports
// per-pair metrics plus the corpus-level WER.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opts, settings, err := s.alignOptions(req.CaseSensitive, req.Tokenizer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Pairs) == 0 {
		writeError(w, r, badRequest("pairs must not be empty"))
		return
	}
	if len(req.Pairs) > settings.cfg.MaxPairs {
		writeError(w, r, badRequest("%d pairs exceed the limit of %d", len(req.Pairs), settings.cfg.MaxPairs))
		return
	}

	ctx, span := observe.StartSpan(r.Context(), "recital.evaluate")
	results := make([]evaluateResult, len(req.Pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settings.cfg.MaxParallel)
	for i, pair := range req.Pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := s.alignOne(gctx, "evaluate", pair.Reference, pair.Hypothesis, opts)
			results[i] = evaluateResult{ID: pair.ID, WER: res.WER, CER: res.CER, Stats: res.Stats}
			if req.IncludeAlignment {
				results[i].Alignment = res.Alignment
			}
			return nil
		})
	}
	err = g.Wait()

	metrics := make([]align.WERMetrics, len(results))
	for i, res := range results {
		metrics[i] = res.WER
	}
	agg := align.Aggregate(metrics...)
	observe.EndSpan(span, err,
		attribute.Int("recital.pairs", len(req.Pairs)),
		attribute.Float64("recital.wer", agg.WER),
	)
	if err != nil {
		// Only cancellation can fail the group; the client has gone away.
		observe.Logger(ctx).Debug("evaluate cancelled", "err", err)
		return
	}

	writeJSON(w, http.StatusOK, evaluateResponse{Results: results, Aggregate: agg})
}
