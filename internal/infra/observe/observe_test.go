package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorstream/internal/domain"
)

func TestLogObserverWritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewLogObserver(logger).Observe(context.Background(), domain.Observation{
		Signal:    domain.SignalEventDropped,
		Component: "correlation",
		Event:     domain.EventReasoning,
		RequestID: "r1",
		Reason:    "stale request id",
	})

	out := buf.String()
	assert.Contains(t, out, "signal=events.dropped")
	assert.Contains(t, out, "component=correlation")
	assert.Contains(t, out, "event=reasoning")
	assert.Contains(t, out, "request_id=r1")
	assert.Contains(t, out, `reason="stale request id"`)
	assert.Contains(t, out, "level=DEBUG")
	assert.NotContains(t, out, "attempt=")
}

func TestLogObserverLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	obs := NewLogObserver(logger)

	obs.Observe(context.Background(), domain.Observation{Signal: domain.SignalEventApplied})
	assert.Empty(t, buf.String(), "routine signals stay at debug")

	obs.Observe(context.Background(), domain.Observation{
		Signal: domain.SignalAuthRejected,
		Err:    domain.ErrAuthRejected,
	})
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "authentication failed")
}

func TestNewLogObserverNilLogger(t *testing.T) {
	obs := NewLogObserver(nil)
	require.NotNil(t, obs.logger)
}

func TestMultiFansOut(t *testing.T) {
	var a, b []domain.Signal
	m := Multi{
		domain.ObserverFunc(func(_ context.Context, o domain.Observation) { a = append(a, o.Signal) }),
		nil,
		domain.ObserverFunc(func(_ context.Context, o domain.Observation) { b = append(b, o.Signal) }),
	}
	m.Observe(context.Background(), domain.Observation{Signal: domain.SignalRoomJoined})

	assert.Equal(t, []domain.Signal{domain.SignalRoomJoined}, a)
	assert.Equal(t, []domain.Signal{domain.SignalRoomJoined}, b)
}

func TestMetricsCounts(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()

	m.Observe(ctx, domain.Observation{Signal: domain.SignalEventApplied})
	m.Observe(ctx, domain.Observation{Signal: domain.SignalEventApplied})
	m.Observe(ctx, domain.Observation{Signal: domain.SignalEventDropped, Reason: "stale request id"})

	assert.Equal(t, int64(2), m.Count(domain.SignalEventApplied))
	assert.Equal(t, int64(1), m.Count(domain.SignalEventDropped))
	assert.Equal(t, int64(0), m.Count(domain.SignalQueryFailed))
}

func TestMetricsTracksState(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, domain.StateDisconnected, m.State())

	m.Observe(context.Background(), domain.Observation{
		Signal: domain.SignalStateChanged,
		Reason: string(domain.StateAuthenticated),
	})
	assert.Equal(t, domain.StateAuthenticated, m.State())
}

func TestMetricsConcurrentObserve(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Observe(context.Background(), domain.Observation{Signal: domain.SignalEventApplied})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1600), m.Count(domain.SignalEventApplied))
}

func TestWritePrometheus(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()
	m.Observe(ctx, domain.Observation{Signal: domain.SignalEventDropped, Reason: "not a member"})
	m.Observe(ctx, domain.Observation{Signal: domain.SignalStateChanged, Reason: string(domain.StateConnected)})
	m.Observe(ctx, domain.Observation{Signal: domain.SignalDialFailed, Err: errors.New("refused")})

	var buf bytes.Buffer
	m.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, `tutorstream_observations_total{signal="events.dropped"} 1`)
	assert.Contains(t, out, `tutorstream_observations_total{signal="connection.dial_failed"} 1`)
	assert.Contains(t, out, `tutorstream_events_dropped_total{reason="not_a_member"} 1`)
	assert.Contains(t, out, `tutorstream_connection_state{state="connected"} 1`)
	assert.Contains(t, out, `tutorstream_connection_state{state="authenticated"} 0`)
	assert.Contains(t, out, "go_goroutines")

	// Signals are emitted in sorted order.
	assert.Less(t,
		strings.Index(out, `signal="connection.dial_failed"`),
		strings.Index(out, `signal="events.dropped"`))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Observe(context.Background(), domain.Observation{Signal: domain.SignalRoomJoined})

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), `signal="rooms.joined"`)

	rec = httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
