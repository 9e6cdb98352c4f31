package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatcherChanged is set when any matcher setting changed. New practice
	// sessions and stateless recite calls pick up the new matcher.
	MatcherChanged bool

	// AlignmentChanged is set when any batch alignment setting changed.
	AlignmentChanged bool

	// SessionsChanged is set when the idle timeout or session cap changed.
	SessionsChanged bool

	// RestartRequired lists the settings that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether d carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MatcherChanged || d.AlignmentChanged ||
		d.SessionsChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.MatcherChanged = old.Matcher != new.Matcher
	d.AlignmentChanged = old.Alignment != new.Alignment
	d.SessionsChanged = old.Sessions.IdleTimeout != new.Sessions.IdleTimeout ||
		old.Sessions.MaxActive != new.Sessions.MaxActive

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server.tls")
	}
	if old.Passages != new.Passages {
		d.RestartRequired = append(d.RestartRequired, "passages")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	if old.Sessions.SweepInterval != new.Sessions.SweepInterval {
		d.RestartRequired = append(d.RestartRequired, "sessions.sweep_interval")
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
