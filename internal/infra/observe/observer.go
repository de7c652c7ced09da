// Package observe provides domain.Observer implementations: structured
// logging, counters, and fan-out.
package observe

import (
	"context"
	"log/slog"

	"tutorstream/internal/domain"
)

// LogObserver writes every observation to a slog.Logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger falls back to slog.Default().
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// Observe implements domain.Observer.
func (l *LogObserver) Observe(ctx context.Context, o domain.Observation) {
	attrs := make([]slog.Attr, 0, 8)
	attrs = append(attrs, slog.String("signal", string(o.Signal)))
	if o.Component != "" {
		attrs = append(attrs, slog.String("component", o.Component))
	}
	if o.Event != "" {
		attrs = append(attrs, slog.String("event", string(o.Event)))
	}
	if o.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", o.RequestID))
	}
	if o.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", o.SessionID))
	}
	if o.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", o.Attempt))
	}
	if o.Reason != "" {
		attrs = append(attrs, slog.String("reason", o.Reason))
	}
	if o.Err != nil {
		attrs = append(attrs, slog.String("error", o.Err.Error()))
	}
	l.logger.LogAttrs(ctx, levelFor(o.Signal), "observation", attrs...)
}

// levelFor maps signals to a log level. Routine traffic stays at debug so
// a streaming trace does not flood info-level output.
func levelFor(s domain.Signal) slog.Level {
	switch s {
	case domain.SignalAuthRejected, domain.SignalReconnectGaveUp, domain.SignalQueryFailed:
		return slog.LevelError
	case domain.SignalDialFailed, domain.SignalHeartbeatMissed, domain.SignalSendFailed,
		domain.SignalEventMalformed:
		return slog.LevelWarn
	case domain.SignalStateChanged, domain.SignalReconnectSchedule, domain.SignalRoomRejoined,
		domain.SignalTraceCompleted:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Multi fans an observation out to several observers in order.
type Multi []domain.Observer

// Observe implements domain.Observer.
func (m Multi) Observe(ctx context.Context, o domain.Observation) {
	for _, obs := range m {
		if obs != nil {
			obs.Observe(ctx, o)
		}
	}
}
