package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/recital/internal/config"
)

func newTestApp(t *testing.T, mutate func(*config.Config)) (*application, *config.Config, *slog.LevelVar) {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "passages.yaml")
	if err := os.WriteFile(seed, []byte("passages:\n  - {id: fox, text: the quick brown fox}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Passages.File = seed
	if mutate != nil {
		mutate(cfg)
	}
	var level slog.LevelVar
	app, err := newApplication(context.Background(), cfg, &level)
	if err != nil {
		t.Fatalf("newApplication: %v", err)
	}
	t.Cleanup(app.close)
	return app, cfg, &level
}

func TestNewApplication_SeedsStore(t *testing.T) {
	app, _, _ := newTestApp(t, nil)
	p, err := app.store.Get(context.Background(), "fox")
	if err != nil || p.Text != "the quick brown fox" {
		t.Fatalf("seeded passage = (%+v, %v)", p, err)
	}
	if app.telemetry.Handler == nil {
		t.Error("metrics handler is nil with metrics enabled")
	}
}

func TestNewApplication_BadSeedFile(t *testing.T) {
	cfg := config.Default()
	cfg.Passages.File = filepath.Join(t.TempDir(), "missing.yaml")
	var level slog.LevelVar
	if _, err := newApplication(context.Background(), cfg, &level); err == nil {
		t.Fatal("newApplication with missing seed file = nil error")
	}
}

func TestReload(t *testing.T) {
	app, old, level := newTestApp(t, nil)
	ctx := context.Background()

	next := *old
	next.Server.LogLevel = config.LogDebug
	next.Sessions.MaxActive = 1
	next.Matcher.Threshold = 0.9
	next.Server.ListenAddr = ":9999" // restart required, logged only
	app.reload(old, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if _, limit := app.sessions.Capacity(); limit != 1 {
		t.Errorf("session cap = %d, want 1", limit)
	}

	// Readiness follows the reloaded cap.
	if err := app.sessionCapacity(ctx); err != nil {
		t.Errorf("sessionCapacity with no sessions = %v", err)
	}
	if _, err := app.sessions.Start(ctx, "fox"); err != nil {
		t.Fatal(err)
	}
	if err := app.sessionCapacity(ctx); err == nil {
		t.Error("sessionCapacity at cap = nil, want error")
	}

	// An unresolvable matcher keeps the previous one.
	broken := next
	broken.Matcher.Scorer = "soundex"
	app.reload(&next, &broken)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	app, cfg, _ := newTestApp(t, nil)
	sc := cfg.Server
	sc.ListenAddr = "127.0.0.1:0"
	sc.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, sc) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
