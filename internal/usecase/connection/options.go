package connection

import (
	"log/slog"
	"time"

	"tutorstream/internal/domain"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultMaxAttempts       = 5
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithObserver sets the observability hook.
func WithObserver(obs domain.Observer) Option {
	return func(m *Manager) { m.obs = obs }
}

// WithBus sets the event bus inbound events are dispatched on.
func WithBus(bus domain.EventBus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithHeartbeatInterval sets the ping interval while authenticated.
// Zero disables the heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.heartbeat = d }
}

// WithBackoff sets the reconnect backoff policy.
func WithBackoff(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithMaxAttempts sets the reconnect attempt ceiling.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithDialTimeout bounds each dial.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}
