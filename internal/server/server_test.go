package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/recital/internal/config"
	"github.com/MrWong99/recital/internal/health"
	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/internal/passage"
	"github.com/MrWong99/recital/internal/practice"
	"github.com/MrWong99/recital/internal/resilience"
	"github.com/MrWong99/recital/pkg/align"
	"github.com/MrWong99/recital/pkg/recite"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	store    *passage.MemStore
	sessions *practice.Manager
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	store := passage.NewMemStore()
	for _, p := range []passage.Passage{
		{ID: "fox", Text: "the quick brown fox", Language: "en", Tags: []string{"pangram"}},
		{ID: "ikhlas", Text: "قُلْ هُوَ اللَّهُ أَحَدٌ", Language: "ar", Tags: []string{"quran"}},
	} {
		if err := store.Put(ctx, &p); err != nil {
			t.Fatal(err)
		}
	}

	defaults := config.Default()
	sessions := practice.NewManager(store, practice.WithMetrics(met))
	cfg := Config{
		Store:          store,
		Sessions:       sessions,
		Health:         health.New("test"),
		Metrics:        met,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "# metrics\n") }),
		Matcher:        defaults.Matcher,
		Alignment:      defaults.Alignment,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testEnv{srv: srv, http: hs, store: store, sessions: sessions}
}

// do sends a request with an optional JSON body and decodes the response
// into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.http.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-4 }

// ── construction ─────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	store := passage.NewMemStore()
	sessions := practice.NewManager(store)
	defaults := config.Default()

	if _, err := New(Config{Sessions: sessions}); err == nil {
		t.Error("New without store = nil error")
	}
	if _, err := New(Config{Store: store}); err == nil {
		t.Error("New without sessions = nil error")
	}
	bad := defaults.Matcher
	bad.Scorer = "soundex"
	_, err := New(Config{Store: store, Sessions: sessions, Matcher: bad, Alignment: defaults.Alignment})
	if !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("New with unknown scorer = %v, want ErrNotRegistered", err)
	}
}

// ── align / evaluate ─────────────────────────────────────────────────────────

func TestAlign(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	var resp struct {
		Alignment []map[string]any `json:"alignment"`
		WER       align.WERMetrics `json:"wer"`
		CER       float64          `json:"cer"`
		Stats     align.Stats      `json:"stats"`
	}
	code := e.do(t, "POST", "/v1/align", map[string]string{
		"reference":  "The cat sat",
		"hypothesis": "the cat sit down",
	}, &resp)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Alignment) != 4 {
		t.Fatalf("alignment has %d steps, want 4: %v", len(resp.Alignment), resp.Alignment)
	}
	if resp.Alignment[0]["op"] != "match" || resp.Alignment[0]["ref"] != "The" {
		t.Errorf("first step = %v, want case-insensitive match keeping original text", resp.Alignment[0])
	}
	w := resp.WER
	if w.Matches != 2 || w.Substitutions != 1 || w.Insertions != 1 || w.Deletions != 0 {
		t.Errorf("counts = %+v", w.OperationCounts)
	}
	if !approx(w.WER, 2.0/3.0) || w.TotalReferenceWords != 3 || w.TotalHypothesisWords != 4 {
		t.Errorf("wer = %+v", w)
	}
	if resp.Stats.LongestMatchRun != 2 || resp.Stats.TotalErrors != 2 {
		t.Errorf("stats = %+v", resp.Stats)
	}
}

func TestAlign_Overrides(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	var resp struct {
		WER align.WERMetrics `json:"wer"`
	}
	e.do(t, "POST", "/v1/align", map[string]any{
		"reference": "Hello", "hypothesis": "hello", "case_sensitive": true,
	}, &resp)
	if resp.WER.Substitutions != 1 {
		t.Errorf("case-sensitive align = %+v, want one substitution", resp.WER)
	}

	e.do(t, "POST", "/v1/align", map[string]any{
		"reference": "hello, world", "hypothesis": "hello world", "tokenizer": "words",
	}, &resp)
	if resp.WER.WER != 0 {
		t.Errorf("words tokenizer WER = %v, want 0", resp.WER.WER)
	}
}

func TestAlign_BadRequests(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "empty body", body: nil, want: "empty"},
		{name: "malformed", body: `{"reference":`, want: "decode body"},
		{name: "unknown field", body: `{"reference":"a","hypothesis":"b","mode":"x"}`, want: "unknown field"},
		{name: "trailing data", body: `{"reference":"a","hypothesis":"b"} {}`, want: "single JSON value"},
		{name: "unknown tokenizer", body: map[string]string{"reference": "a", "hypothesis": "b", "tokenizer": "bpe"}, want: "bpe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var body errorBody
			if code := e.do(t, "POST", "/v1/align", tt.body, &body); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if !strings.Contains(body.Error, tt.want) {
				t.Errorf("error = %q, want it to contain %q", body.Error, tt.want)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	var resp struct {
		Results []struct {
			ID        string           `json:"id"`
			Alignment []map[string]any `json:"alignment"`
			WER       align.WERMetrics `json:"wer"`
		} `json:"results"`
		Aggregate align.WERMetrics `json:"aggregate"`
	}
	code := e.do(t, "POST", "/v1/evaluate", map[string]any{
		"pairs": []map[string]string{
			{"id": "one", "reference": "a", "hypothesis": "a b"},
			{"id": "two", "reference": "x y", "hypothesis": "x"},
			{"id": "three", "reference": "p", "hypothesis": "p"},
		},
		"include_alignment": true,
	}, &resp)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	for i, id := range []string{"one", "two", "three"} {
		if resp.Results[i].ID != id {
			t.Errorf("results[%d].ID = %q, want %q (input order)", i, resp.Results[i].ID, id)
		}
	}
	if len(resp.Results[0].Alignment) != 2 {
		t.Errorf("results[0] alignment = %v, want 2 steps", resp.Results[0].Alignment)
	}
	agg := resp.Aggregate
	if agg.TotalReferenceWords != 4 || agg.Matches != 3 || agg.Deletions != 1 || agg.Insertions != 1 {
		t.Errorf("aggregate = %+v", agg)
	}
	if !approx(agg.WER, 0.5) || !approx(agg.Accuracy, 75) {
		t.Errorf("aggregate wer/accuracy = %v/%v, want 0.5/75", agg.WER, agg.Accuracy)
	}
}

func TestEvaluate_Limits(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t, func(c *Config) {
		c.Alignment.MaxPairs = 2
		c.Alignment.MaxParallel = 1
	})

	pairs := make([]map[string]string, 3)
	for i := range pairs {
		pairs[i] = map[string]string{"reference": "a", "hypothesis": "a"}
	}
	var body errorBody
	if code := e.do(t, "POST", "/v1/evaluate", map[string]any{"pairs": pairs}, &body); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
	if !strings.Contains(body.Error, "limit of 2") {
		t.Errorf("error = %q", body.Error)
	}
	if code := e.do(t, "POST", "/v1/evaluate", map[string]any{"pairs": []any{}}, nil); code != http.StatusBadRequest {
		t.Errorf("empty pairs status = %d, want 400", code)
	}

	// Hot-reloaded limits apply to the next request.
	ac := config.Default().Alignment
	ac.MaxPairs = 5
	if err := e.srv.SetAlignment(ac); err != nil {
		t.Fatal(err)
	}
	if code := e.do(t, "POST", "/v1/evaluate", map[string]any{"pairs": pairs}, nil); code != http.StatusOK {
		t.Errorf("status after SetAlignment = %d, want 200", code)
	}
}

// ── recite ───────────────────────────────────────────────────────────────────

func TestRecite(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	var res recite.Result
	code := e.do(t, "POST", "/v1/recite", map[string]any{
		"reference":  "The quick brown fox",
		"transcript": []string{"the", "quick"},
	}, &res)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if res.Pointer != 2 || len(res.Matches) != 2 || res.Matches[0].RevealedText != "The" {
		t.Errorf("result = %+v", res)
	}
	if strings.Join(res.Unrevealed, " ") != "brown fox" {
		t.Errorf("unrevealed = %v", res.Unrevealed)
	}
}

func TestRecite_Passage(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	var res recite.Result
	code := e.do(t, "POST", "/v1/recite", map[string]any{
		"passage_id": "ikhlas",
		"transcript": []string{"قل", "هو", "الله", "احد"},
	}, &res)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if res.Pointer != 4 || len(res.Unmatched) != 0 {
		t.Errorf("result = %+v, want all four words matched", res)
	}
}

func TestRecite_Overrides(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	var res recite.Result
	e.do(t, "POST", "/v1/recite", map[string]any{
		"reference": "hello world", "transcript": []string{"helo"}, "threshold": 1.0,
	}, &res)
	if res.Pointer != 0 || len(res.Unmatched) != 1 {
		t.Errorf("threshold 1.0 result = %+v, want unmatched", res)
	}

	e.do(t, "POST", "/v1/recite", map[string]any{
		"reference": "Héllo", "transcript": []string{"hello"}, "locale_normalization": false,
	}, &res)
	if len(res.Matches) != 1 || !approx(res.Matches[0].Similarity, 0.8) {
		t.Errorf("verbatim result = %+v, want similarity 0.8", res)
	}
}

func TestRecite_Errors(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{name: "neither source", body: map[string]any{"transcript": []string{"a"}}, want: http.StatusBadRequest},
		{name: "both sources", body: map[string]any{"reference": "a", "passage_id": "fox"}, want: http.StatusBadRequest},
		{name: "missing passage", body: map[string]any{"passage_id": "nope"}, want: http.StatusNotFound},
		{name: "threshold too high", body: map[string]any{"reference": "a", "threshold": 1.5}, want: http.StatusBadRequest},
		{name: "threshold negative", body: map[string]any{"reference": "a", "threshold": -0.1}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if code := e.do(t, "POST", "/v1/recite", tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}
}

// ── passages ─────────────────────────────────────────────────────────────────

func TestPassages_CRUD(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	newP := map[string]any{"id": "psalm-23", "text": "The Lord is my shepherd", "language": "en"}
	var created passage.Passage
	if code := e.do(t, "POST", "/v1/passages", newP, &created); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	if code := e.do(t, "POST", "/v1/passages", newP, nil); code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", code)
	}
	if code := e.do(t, "POST", "/v1/passages", map[string]any{"id": "Bad Id", "text": "x"}, nil); code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", code)
	}

	var got passage.Passage
	if code := e.do(t, "GET", "/v1/passages/psalm-23", nil, &got); code != http.StatusOK || got.Text != "The Lord is my shepherd" {
		t.Errorf("get = %d %+v", code, got)
	}

	if code := e.do(t, "PUT", "/v1/passages/psalm-23", map[string]any{"id": "other", "text": "x"}, nil); code != http.StatusBadRequest {
		t.Errorf("mismatched put status = %d, want 400", code)
	}
	if code := e.do(t, "PUT", "/v1/passages/psalm-23", map[string]any{"text": "I shall not want", "language": "en"}, &got); code != http.StatusOK {
		t.Errorf("put status = %d", code)
	}
	if got.ID != "psalm-23" || got.Text != "I shall not want" || !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("put result = %+v", got)
	}

	var list passageList
	e.do(t, "GET", "/v1/passages?language=en", nil, &list)
	if len(list.Passages) != 2 || list.Passages[0].ID != "fox" || list.Passages[1].ID != "psalm-23" {
		t.Errorf("list en = %+v", list.Passages)
	}
	e.do(t, "GET", "/v1/passages?tag=quran", nil, &list)
	if len(list.Passages) != 1 || list.Passages[0].ID != "ikhlas" {
		t.Errorf("list quran = %+v", list.Passages)
	}
	e.do(t, "GET", "/v1/passages?tag=none", nil, &list)
	if list.Passages == nil || len(list.Passages) != 0 {
		t.Errorf("empty list = %#v, want []", list.Passages)
	}

	if code := e.do(t, "DELETE", "/v1/passages/psalm-23", nil, nil); code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", code)
	}
	var body errorBody
	if code := e.do(t, "GET", "/v1/passages/psalm-23", nil, &body); code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", code)
	}
	if body.Error != passage.ErrNotFound.Error() {
		t.Errorf("error body = %q", body.Error)
	}
	if code := e.do(t, "DELETE", "/v1/passages/psalm-23", nil, nil); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
}

// ── sessions ─────────────────────────────────────────────────────────────────

func TestSessions_REST(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	var info practice.Info
	if code := e.do(t, "POST", "/v1/sessions", map[string]string{"passage_id": "fox"}, &info); code != http.StatusCreated {
		t.Fatalf("start status = %d", code)
	}
	base := "/v1/sessions/" + info.SessionID

	var p recite.Progress
	if code := e.do(t, "POST", base+"/tokens", map[string]any{"tokens": []string{"the", "quick"}}, &p); code != http.StatusOK {
		t.Fatalf("append status = %d", code)
	}
	if p.Revealed != 2 || p.Total != 4 {
		t.Errorf("after append = %+v", p)
	}

	e.do(t, "PUT", base+"/transcript", map[string]any{"tokens": []string{"the", "quick", "brown", "fox"}}, &p)
	if !p.Complete {
		t.Errorf("after update = %+v, want complete", p)
	}

	var res recite.Result
	e.do(t, "GET", base+"/result", nil, &res)
	if res.Pointer != 4 {
		t.Errorf("result pointer = %d, want 4", res.Pointer)
	}

	e.do(t, "GET", base, nil, &info)
	if info.Progress.Revealed != 4 || info.PassageID != "fox" {
		t.Errorf("get = %+v", info)
	}

	if code := e.do(t, "DELETE", base, nil, nil); code != http.StatusNoContent {
		t.Errorf("stop status = %d", code)
	}
	if code := e.do(t, "GET", base, nil, nil); code != http.StatusNotFound {
		t.Errorf("get after stop = %d, want 404", code)
	}
}

func TestSessions_Errors(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	if code := e.do(t, "POST", "/v1/sessions", map[string]string{}, nil); code != http.StatusBadRequest {
		t.Errorf("start without passage = %d, want 400", code)
	}
	if code := e.do(t, "POST", "/v1/sessions", map[string]string{"passage_id": "nope"}, nil); code != http.StatusNotFound {
		t.Errorf("start unknown passage = %d, want 404", code)
	}
	if code := e.do(t, "POST", "/v1/sessions/nope/tokens", map[string]any{"tokens": []string{"a"}}, nil); code != http.StatusNotFound {
		t.Errorf("append unknown session = %d, want 404", code)
	}
}

func TestSessions_Capacity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := passage.NewMemStore()
	_ = store.Put(ctx, &passage.Passage{ID: "p", Text: "x"})
	e := newTestEnv(t, func(c *Config) {
		c.Store = store
		c.Sessions = practice.NewManager(store, practice.WithMaxActive(1), practice.WithMetrics(c.Metrics))
	})

	if code := e.do(t, "POST", "/v1/sessions", map[string]string{"passage_id": "p"}, nil); code != http.StatusCreated {
		t.Fatalf("first start = %d", code)
	}
	if code := e.do(t, "POST", "/v1/sessions", map[string]string{"passage_id": "p"}, nil); code != http.StatusServiceUnavailable {
		t.Errorf("second start = %d, want 503", code)
	}
}

// ── hot reload ───────────────────────────────────────────────────────────────

func TestSetMatcher(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	mc := config.Default().Matcher
	mc.Threshold = 1.0
	if err := e.srv.SetMatcher(mc); err != nil {
		t.Fatal(err)
	}
	var res recite.Result
	e.do(t, "POST", "/v1/recite", map[string]any{"reference": "hello", "transcript": []string{"helo"}}, &res)
	if len(res.Matches) != 0 {
		t.Errorf("matches = %+v after raising threshold", res.Matches)
	}

	mc.Locale = "klingon"
	if err := e.srv.SetMatcher(mc); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("SetMatcher unknown locale = %v", err)
	}
	if err := e.srv.SetAlignment(config.AlignmentConfig{Tokenizer: "bpe"}); !errors.Is(err, config.ErrNotRegistered) {
		t.Errorf("SetAlignment unknown tokenizer = %v", err)
	}
}

// ── infrastructure routes ────────────────────────────────────────────────────

func TestInfraRoutes(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := e.http.Client().Get(e.http.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err := e.http.Client().Get(e.http.URL + "/v1/align")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /v1/align = %d, want 405", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{passage.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("practice: start: %w", passage.ErrNotFound), http.StatusNotFound},
		{practice.ErrSessionNotFound, http.StatusNotFound},
		{badRequest("x"), http.StatusBadRequest},
		{(&passage.Passage{}).Validate(), http.StatusBadRequest},
		{passage.ErrDuplicateID, http.StatusConflict},
		{practice.ErrTooManySessions, http.StatusServiceUnavailable},
		{fmt.Errorf("practice: start: %w", resilience.ErrOpen), http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
