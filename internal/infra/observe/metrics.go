package observe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tutorstream/internal/domain"
)

// Metrics counts observations per signal and tracks the latest connection
// state. It is itself a domain.Observer.
type Metrics struct {
	start time.Time

	mu       sync.RWMutex
	counters map[domain.Signal]*atomic.Int64
	dropped  map[string]*atomic.Int64 // by reason

	state atomic.Value // domain.ConnectionState
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		start:    time.Now(),
		counters: make(map[domain.Signal]*atomic.Int64),
		dropped:  make(map[string]*atomic.Int64),
	}
	m.state.Store(domain.StateDisconnected)
	return m
}

// Observe implements domain.Observer.
func (m *Metrics) Observe(_ context.Context, o domain.Observation) {
	counterFor(&m.mu, m.counters, o.Signal).Add(1)
	if o.Signal == domain.SignalEventDropped && o.Reason != "" {
		counterFor(&m.mu, m.dropped, o.Reason).Add(1)
	}
	if o.Signal == domain.SignalStateChanged && o.Reason != "" {
		m.state.Store(domain.ConnectionState(o.Reason))
	}
}

// Count returns the number of observations recorded for s.
func (m *Metrics) Count(s domain.Signal) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.counters[s]; ok {
		return c.Load()
	}
	return 0
}

// State returns the last connection state observed.
func (m *Metrics) State() domain.ConnectionState {
	return m.state.Load().(domain.ConnectionState)
}

func counterFor[K comparable](mu *sync.RWMutex, set map[K]*atomic.Int64, key K) *atomic.Int64 {
	mu.RLock()
	c, ok := set[key]
	mu.RUnlock()
	if ok {
		return c
	}
	mu.Lock()
	defer mu.Unlock()
	if c, ok = set[key]; !ok {
		c = new(atomic.Int64)
		set[key] = c
	}
	return c
}

// WritePrometheus writes all counters in the Prometheus text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.mu.RLock()
	signals := make([]string, 0, len(m.counters))
	for s := range m.counters {
		signals = append(signals, string(s))
	}
	reasons := make([]string, 0, len(m.dropped))
	for r := range m.dropped {
		reasons = append(reasons, r)
	}
	m.mu.RUnlock()
	sort.Strings(signals)
	sort.Strings(reasons)

	fmt.Fprintf(w, "# HELP tutorstream_observations_total Observations recorded, by signal.\n")
	fmt.Fprintf(w, "# TYPE tutorstream_observations_total counter\n")
	for _, s := range signals {
		fmt.Fprintf(w, "tutorstream_observations_total{signal=%q} %d\n", s, m.Count(domain.Signal(s)))
	}

	fmt.Fprintf(w, "# HELP tutorstream_events_dropped_total Inbound events dropped, by reason.\n")
	fmt.Fprintf(w, "# TYPE tutorstream_events_dropped_total counter\n")
	for _, r := range reasons {
		m.mu.RLock()
		n := m.dropped[r].Load()
		m.mu.RUnlock()
		fmt.Fprintf(w, "tutorstream_events_dropped_total{reason=%q} %d\n", metricLabel(r), n)
	}

	state := m.State()
	fmt.Fprintf(w, "# HELP tutorstream_connection_state Current connection state (1 for the active state).\n")
	fmt.Fprintf(w, "# TYPE tutorstream_connection_state gauge\n")
	for _, s := range []domain.ConnectionState{
		domain.StateDisconnected, domain.StateConnecting, domain.StateConnected, domain.StateAuthenticated,
	} {
		v := 0
		if s == state {
			v = 1
		}
		fmt.Fprintf(w, "tutorstream_connection_state{state=%q} %d\n", s, v)
	}

	fmt.Fprintf(w, "# HELP tutorstream_uptime_seconds Seconds since the client started.\n")
	fmt.Fprintf(w, "# TYPE tutorstream_uptime_seconds gauge\n")
	fmt.Fprintf(w, "tutorstream_uptime_seconds %.0f\n", time.Since(m.start).Seconds())

	fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
	fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
	fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())
}

// Handler serves WritePrometheus on GET.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.WritePrometheus(w)
	}
}

func metricLabel(s string) string {
	return strings.ReplaceAll(s, " ", "_")
}
