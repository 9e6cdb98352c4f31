// Command recital serves recitation alignment and live practice sessions
// over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/recital/internal/config"
	"github.com/MrWong99/recital/internal/health"
	"github.com/MrWong99/recital/internal/observe"
	"github.com/MrWong99/recital/internal/passage"
	"github.com/MrWong99/recital/internal/practice"
	"github.com/MrWong99/recital/internal/resilience"
	"github.com/MrWong99/recital/internal/server"
)

// version is set at build time with -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level is shared so config reloads can change it in place.
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Configuration ─────────────────────────────────────────────────────────
	var app *application
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		app.reload(old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "recital: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "recital: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(cfg.Server.LogLevel.Level())

	slog.Info("recital starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err = newApplication(ctx, cfg, &level)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer app.close()

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.serve(gctx, cfg.Server) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error { return app.sessions.RunSweeper(gctx, cfg.Sessions.SweepInterval) })

	slog.Info("server ready; press Ctrl+C to shut down")
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// application holds the long-lived components wired from one config.
type application struct {
	level     *slog.LevelVar
	telemetry *observe.Telemetry
	pool      *pgxpool.Pool
	store     passage.Store
	sessions  *practice.Manager
	health    *health.Handler
	api       *server.Server
}

func newApplication(ctx context.Context, cfg *config.Config, level *slog.LevelVar) (*application, error) {
	app := &application{level: level}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Metrics:        cfg.Telemetry.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	app.telemetry = tel
	metrics := observe.DefaultMetrics()

	// ── Passage store ─────────────────────────────────────────────────────────
	var checks []health.Checker
	if dsn := cfg.Passages.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("passages: connect postgres: %w", err)
		}
		app.pool = pool
		pg := passage.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			app.close()
			return nil, err
		}
		bc := cfg.Passages.Breaker
		guarded := passage.NewGuardedStore(pg, resilience.Config{
			Name:           "passages",
			MaxFailures:    bc.MaxFailures,
			ResetTimeout:   bc.ResetTimeout,
			HalfOpenProbes: bc.HalfOpenProbes,
		})
		app.store = guarded
		checks = append(checks, health.Checker{Name: "passages", Check: func(ctx context.Context) error {
			if st := guarded.Breaker().State(); st == resilience.StateOpen {
				return fmt.Errorf("circuit breaker %s", st)
			}
			return pg.Ping(ctx)
		}})
		slog.Info("passage store: postgres", "breaker_max_failures", bc.MaxFailures, "breaker_reset_timeout", bc.ResetTimeout)
	} else {
		app.store = passage.NewMemStore()
		slog.Info("passage store: in-memory")
	}

	if path := cfg.Passages.File; path != "" {
		ps, err := passage.LoadFile(path)
		if err != nil {
			app.close()
			return nil, err
		}
		n, err := passage.Seed(ctx, app.store, ps)
		if err != nil {
			app.close()
			return nil, err
		}
		slog.Info("passages seeded", "file", path, "count", n)
	}

	// ── Sessions and API ──────────────────────────────────────────────────────
	app.sessions = practice.NewManager(app.store,
		practice.WithIdleTimeout(cfg.Sessions.IdleTimeout),
		practice.WithMaxActive(cfg.Sessions.MaxActive),
		practice.WithMetrics(metrics),
	)
	checks = append(checks, health.Checker{Name: "sessions", Check: app.sessionCapacity})
	app.health = health.New(version, checks...)

	api, err := server.New(server.Config{
		Store:          app.store,
		Sessions:       app.sessions,
		Health:         app.health,
		Metrics:        metrics,
		MetricsHandler: tel.Handler,
		Matcher:        cfg.Matcher,
		Alignment:      cfg.Alignment,
	})
	if err != nil {
		app.close()
		return nil, err
	}
	app.api = api
	return app, nil
}

// sessionCapacity fails readiness while the session cap is exhausted, so a
// load balancer sends new learners elsewhere.
func (a *application) sessionCapacity(context.Context) error {
	if active, limit := a.sessions.Capacity(); limit > 0 && active >= limit {
		return fmt.Errorf("%d of %d sessions in use", active, limit)
	}
	return nil
}

// serve runs the HTTP server until ctx is cancelled, then drains it.
func (a *application) serve(ctx context.Context, sc config.ServerConfig) error {
	srv := &http.Server{
		Addr:              sc.ListenAddr,
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if sc.TLS != nil {
			err = srv.ListenAndServeTLS(sc.TLS.CertFile, sc.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, draining…")
	a.health.SetDraining(true)

	timeout := sc.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return <-errCh
}

// reload applies the hot-reloadable parts of a new config.
func (a *application) reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("config reload: log level changed", "level", d.NewLogLevel)
	}
	if d.MatcherChanged {
		if err := a.api.SetMatcher(new.Matcher); err != nil {
			slog.Warn("config reload: matcher not applied", "err", err)
		} else {
			slog.Info("config reload: matcher updated",
				"threshold", new.Matcher.Threshold, "scorer", new.Matcher.Scorer, "locale", new.Matcher.Locale)
		}
	}
	if d.AlignmentChanged {
		if err := a.api.SetAlignment(new.Alignment); err != nil {
			slog.Warn("config reload: alignment not applied", "err", err)
		} else {
			slog.Info("config reload: alignment updated")
		}
	}
	if d.SessionsChanged {
		a.sessions.SetLimits(new.Sessions.IdleTimeout, new.Sessions.MaxActive)
		slog.Info("config reload: session limits updated",
			"idle_timeout", new.Sessions.IdleTimeout, "max_active", new.Sessions.MaxActive)
	}
	for _, key := range d.RestartRequired {
		slog.Warn("config reload: setting changed but requires a restart", "key", key)
	}
}

func (a *application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
