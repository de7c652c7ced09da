package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateAuth(cfg, ve)
	validateConnection(cfg, ve)
	validateQuery(cfg, ve)
	validateSimulator(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	checkURL(ve, "server.ws_url", cfg.Server.WSURL, "ws", "wss")
	checkURL(ve, "server.api_url", cfg.Server.APIURL, "http", "https")
}

func checkURL(ve *ValidationError, field, raw string, schemes ...string) {
	if raw == "" {
		ve.Add("%s must not be empty", field)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		ve.Add("%s %q is not a valid URL", field, raw)
		return
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return
		}
	}
	ve.Add("%s scheme must be one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}

func validateAuth(cfg *Config, ve *ValidationError) {
	if cfg.Auth.UserID == "" {
		ve.Add("auth.user_id must not be empty")
	}
}

func validateConnection(cfg *Config, ve *ValidationError) {
	c := cfg.Connection
	if c.HeartbeatInterval < 0 {
		ve.Add("connection.heartbeat_interval must be >= 0")
	}
	if c.BackoffBase <= 0 {
		ve.Add("connection.backoff_base must be > 0")
	}
	if c.BackoffMax < c.BackoffBase {
		ve.Add("connection.backoff_max must be >= backoff_base")
	}
	if c.MaxAttempts < 0 {
		ve.Add("connection.max_attempts must be >= 0")
	}
	if c.DialTimeout <= 0 {
		ve.Add("connection.dial_timeout must be > 0")
	}
	if c.WriteTimeout <= 0 {
		ve.Add("connection.write_timeout must be > 0")
	}
}

func validateQuery(cfg *Config, ve *ValidationError) {
	q := cfg.Query
	if q.Timeout <= 0 {
		ve.Add("query.timeout must be > 0")
	}
	if q.RatePerSecond < 0 {
		ve.Add("query.rate_per_second must be >= 0")
	}
	if q.RatePerSecond > 0 && q.Burst < 1 {
		ve.Add("query.burst must be >= 1 when rate_per_second is set")
	}
	if q.CompletionGrace < 0 {
		ve.Add("query.completion_grace must be >= 0")
	}
	if q.Breaker.MaxFailures == 0 {
		ve.Add("query.breaker.max_failures must be > 0")
	}
	if q.Breaker.Timeout <= 0 {
		ve.Add("query.breaker.timeout must be > 0")
	}
}

func validateSimulator(cfg *Config, ve *ValidationError) {
	s := cfg.Simulator
	if s.Addr == "" {
		ve.Add("simulator.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		ve.Add("simulator.addr %q is not a valid host:port", s.Addr)
	}
	if s.StepDelay < 0 {
		ve.Add("simulator.step_delay must be >= 0")
	}
	if s.RequestsPerMin < 0 {
		ve.Add("simulator.requests_per_min must be >= 0")
	}
	if s.RequestsPerMin > 0 && s.Burst < 1 {
		ve.Add("simulator.burst must be >= 1 when requests_per_min is set")
	}
	for i, tok := range s.Tokens {
		if tok.Token == "" {
			ve.Add("simulator.tokens[%d].token must not be empty", i)
		}
		if tok.UserID == "" {
			ve.Add("simulator.tokens[%d].user_id must not be empty", i)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported (noop, stdout)", cfg.Tracer.Exporter)
	}
}
