package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/recital/pkg/similarity"
	"github.com/MrWong99/recital/pkg/textnorm"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Matcher
	if t := cfg.Matcher.Threshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("matcher.threshold %.2f is out of range [0, 1]", t))
	}
	if _, ok := similarity.ByName(cfg.Matcher.Scorer); !ok {
		errs = append(errs, fmt.Errorf("matcher.scorer %q is invalid; valid values: osa, jaro-winkler", cfg.Matcher.Scorer))
	}
	if _, ok := textnorm.Fold(cfg.Matcher.Locale); !ok {
		errs = append(errs, fmt.Errorf("matcher.locale %q is invalid; valid values: arabic, none", cfg.Matcher.Locale))
	}
	if !cfg.Matcher.LocaleNormalization && cfg.Matcher.Locale != "" && cfg.Matcher.Locale != "none" {
		slog.Warn("matcher.locale has no effect while matcher.locale_normalization is false", "locale", cfg.Matcher.Locale)
	}

	// Alignment
	if _, ok := textnorm.TokenizerByName(cfg.Alignment.Tokenizer); !ok {
		errs = append(errs, fmt.Errorf("alignment.tokenizer %q is invalid; valid values: whitespace, words", cfg.Alignment.Tokenizer))
	}
	if cfg.Alignment.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("alignment.max_parallel %d must be at least 1", cfg.Alignment.MaxParallel))
	}
	if cfg.Alignment.MaxPairs < 1 {
		errs = append(errs, fmt.Errorf("alignment.max_pairs %d must be at least 1", cfg.Alignment.MaxPairs))
	}

	// Passages
	if cfg.Passages.File == "" && cfg.Passages.PostgresDSN == "" {
		slog.Warn("no passages.file or passages.postgres_dsn configured; the passage store starts empty")
	}
	if b := cfg.Passages.Breaker; b.MaxFailures < 1 || b.HalfOpenProbes < 1 || b.ResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("passages.breaker needs max_failures >= 1, half_open_probes >= 1 and a positive reset_timeout (got %d, %d, %s)",
			b.MaxFailures, b.HalfOpenProbes, b.ResetTimeout))
	}

	// Telemetry
	if cfg.Telemetry.ServiceName == "" {
		errs = append(errs, errors.New("telemetry.service_name is required"))
	}

	// Sessions
	if cfg.Sessions.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_timeout %s must be positive", cfg.Sessions.IdleTimeout))
	}
	if cfg.Sessions.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sessions.sweep_interval %s must be positive", cfg.Sessions.SweepInterval))
	}
	if cfg.Sessions.MaxActive < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_active %d must not be negative", cfg.Sessions.MaxActive))
	}

	return errors.Join(errs...)
}
