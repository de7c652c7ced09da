// Package connection owns the single logical channel between the client and
// the backend: dial, authenticate, heartbeat, reconnect with backoff and
// disconnect. Inbound events are dispatched synchronously to subscribers in
// arrival order.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tutorstream/internal/domain"
	"tutorstream/internal/infra/tracer"
	"tutorstream/internal/usecase/eventbus"
)

// Conn is one established transport connection.
type Conn interface {
	// Receive blocks until the next inbound event arrives.
	Receive(ctx context.Context) (domain.Event, error)
	// Send writes one outbound frame.
	Send(ctx context.Context, event domain.EventType, payload any) error
	// Close tears the connection down.
	Close(reason string) error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Manager is the connection lifecycle manager. Create one per authenticated
// user session and pass it to dependents.
type Manager struct {
	dialer      Dialer
	bus         domain.EventBus
	logger      *slog.Logger
	obs         domain.Observer
	heartbeat   time.Duration
	backoff     Backoff
	maxAttempts int
	dialTimeout time.Duration

	mu     sync.Mutex
	status domain.ConnectionStatus
	creds  domain.Credentials
	conn   Conn
	cancel context.CancelFunc
	retry  *time.Timer
	// gen is bumped by every dial and disconnect. Read loops, heartbeats and
	// timers carry the generation they were started under and go inert once
	// it moves on.
	gen             uint64
	active          bool
	pingOutstanding bool
}

// New creates a disconnected Manager.
func New(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:      dialer,
		logger:      slog.Default(),
		obs:         domain.NopObserver,
		heartbeat:   DefaultHeartbeatInterval,
		backoff:     DefaultBackoff(),
		maxAttempts: DefaultMaxAttempts,
		dialTimeout: DefaultDialTimeout,
		status:      domain.ConnectionStatus{State: domain.StateDisconnected},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.bus == nil {
		m.bus = eventbus.New(m.logger)
	}
	return m
}

// Connect dials the backend and sends the authenticate handshake. It returns
// once the transport is connected; use WaitFor to block until authenticated.
//
// A failed initial dial is returned to the caller and also starts the
// reconnect schedule, exactly as a later transport loss would. Call
// Disconnect to stop it.
func (m *Manager) Connect(ctx context.Context, creds domain.Credentials) (domain.ConnectionStatus, error) {
	if creds.UserID == "" {
		return m.Status(), domain.NewDomainError("Manager.Connect", domain.ErrInvalidInput, "user id is required")
	}

	m.mu.Lock()
	if m.active && m.creds == creds {
		st := m.status
		m.mu.Unlock()
		return st, nil
	}
	m.mu.Unlock()

	// Switching identity tears the previous channel down first.
	m.Disconnect()

	m.mu.Lock()
	m.creds = creds
	m.active = true
	m.status = domain.ConnectionStatus{State: domain.StateDisconnected, UserID: creds.UserID}
	m.mu.Unlock()

	if err := m.dial(ctx); err != nil {
		return m.Status(), domain.WrapOp("Manager.Connect", err)
	}
	return m.Status(), nil
}

// Disconnect closes the channel and clears pending reconnect timers.
// It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	wasActive := m.active
	m.active = false
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.pingOutstanding = false
	prev := m.status.State
	m.status = domain.ConnectionStatus{State: domain.StateDisconnected, UserID: m.creds.UserID}
	st := m.status
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close("client disconnect")
	}
	if prev != domain.StateDisconnected {
		m.logger.Info("connection closed", "user_id", st.UserID)
		m.publish(context.Background(), domain.Disconnected{Reason: "client disconnect"})
	}
	// Abandoning a pending reconnect is a state change too, even though the
	// transport was already down.
	if prev != domain.StateDisconnected || wasActive {
		m.stateChanged(context.Background(), st)
	}
}

// On registers a handler for one event type. Handlers run synchronously in
// arrival order and must not block.
func (m *Manager) On(eventType domain.EventType, handler domain.EventHandler) func() {
	return m.bus.Subscribe(eventType, handler)
}

// OnAny registers a handler for every event.
func (m *Manager) OnAny(handler domain.EventHandler) func() {
	return m.bus.SubscribeAll(handler)
}

// Send writes one outbound frame on the current connection.
func (m *Manager) Send(ctx context.Context, eventType domain.EventType, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return domain.NewDomainError("Manager.Send", domain.ErrNotConnected, string(eventType))
	}
	if err := conn.Send(ctx, eventType, payload); err != nil {
		m.obs.Observe(ctx, domain.Observation{
			Signal:    domain.SignalSendFailed,
			Component: "connection",
			Event:     eventType,
			Err:       err,
		})
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

// Status returns a snapshot of the connection state.
func (m *Manager) Status() domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// WaitFor blocks until the connection reaches state. It returns early with
// the terminal error if the manager gives up, ErrClosed once Disconnect
// stopped the lifecycle, or ctx.Err().
func (m *Manager) WaitFor(ctx context.Context, state domain.ConnectionState) (domain.ConnectionStatus, error) {
	changed := make(chan struct{}, 1)
	unsub := m.On(domain.EventConnectionState, func(context.Context, domain.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	for {
		m.mu.Lock()
		st, active := m.status, m.active
		m.mu.Unlock()
		if st.State == state {
			return st, nil
		}
		if st.Terminal() {
			return st, st.LastErr
		}
		if !active {
			return st, domain.NewDomainError("Manager.WaitFor", domain.ErrClosed, "disconnected")
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return m.Status(), ctx.Err()
		}
	}
}

// Close disconnects and releases the event bus.
func (m *Manager) Close() {
	m.Disconnect()
	m.bus.Close()
}

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return domain.ErrClosed
	}
	m.gen++
	gen := m.gen
	creds := m.creds
	m.status.State = domain.StateConnecting
	st := m.status
	m.mu.Unlock()
	m.stateChanged(ctx, st)

	ctx, span := tracer.StartSpan(ctx, "connection.dial")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("user_id", creds.UserID),
		tracer.IntAttr("attempt", st.Attempt),
	)

	dctx, cancel := ctx, context.CancelFunc(func() {})
	if m.dialTimeout > 0 {
		dctx, cancel = context.WithTimeout(ctx, m.dialTimeout)
	}
	conn, err := m.dialer.Dial(dctx)
	cancel()
	if err != nil {
		tracer.RecordError(span, err)
		m.dialFailed(ctx, gen, err)
		return err
	}

	m.mu.Lock()
	if gen != m.gen || !m.active {
		m.mu.Unlock()
		_ = conn.Close("superseded")
		return domain.ErrClosed
	}
	loopCtx, loopCancel := context.WithCancel(context.Background())
	m.conn = conn
	m.cancel = loopCancel
	m.pingOutstanding = false
	m.status.State = domain.StateConnected
	m.status.LastErr = nil
	st = m.status
	m.mu.Unlock()

	m.logger.Info("connection established", "user_id", creds.UserID, "attempt", st.Attempt)
	m.publish(ctx, domain.Connected{})
	m.stateChanged(ctx, st)

	go m.readLoop(loopCtx, gen, conn)

	auth := domain.AuthenticatePayload{UserID: creds.UserID, Token: creds.Token}
	if err := conn.Send(ctx, domain.EventAuthenticate, auth); err != nil {
		tracer.RecordError(span, err)
		m.lost(gen, conn, fmt.Errorf("send authenticate: %w", err))
		return err
	}
	tracer.SetOK(span)
	return nil
}

func (m *Manager) dialFailed(ctx context.Context, gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || !m.active {
		m.mu.Unlock()
		return
	}
	m.status.State = domain.StateDisconnected
	m.status.LastErr = err
	st := m.status
	m.mu.Unlock()

	m.logger.Warn("connection dial failed", "attempt", st.Attempt, "error", err)
	m.obs.Observe(ctx, domain.Observation{
		Signal:    domain.SignalDialFailed,
		Component: "connection",
		Attempt:   st.Attempt,
		Err:       err,
	})
	m.publish(ctx, domain.ConnectError{Err: err, Attempt: st.Attempt})
	m.stateChanged(ctx, st)
	m.scheduleReconnect(gen)
}

// lost handles a transport failure on conn. Only the first report for the
// current connection has any effect.
func (m *Manager) lost(gen uint64, conn Conn, err error) {
	m.mu.Lock()
	if gen != m.gen || conn == nil || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.pingOutstanding = false
	m.status.State = domain.StateDisconnected
	m.status.LastErr = err
	st := m.status
	m.mu.Unlock()

	_ = conn.Close("transport lost")

	ctx := context.Background()
	m.logger.Warn("connection lost", "user_id", st.UserID, "error", err)
	m.publish(ctx, domain.Disconnected{Reason: err.Error()})
	m.stateChanged(ctx, st)
	m.scheduleReconnect(gen)
}

func (m *Manager) scheduleReconnect(gen uint64) {
	ctx := context.Background()

	m.mu.Lock()
	if gen != m.gen || !m.active {
		m.mu.Unlock()
		return
	}
	attempt := m.status.Attempt + 1
	if m.maxAttempts > 0 && attempt > m.maxAttempts {
		m.active = false
		m.status.LastErr = domain.ErrReconnectExhausted
		st := m.status
		m.mu.Unlock()

		m.logger.Error("reconnect attempts exhausted", "attempts", st.Attempt)
		m.obs.Observe(ctx, domain.Observation{
			Signal:    domain.SignalReconnectGaveUp,
			Component: "connection",
			Attempt:   st.Attempt,
			Err:       domain.ErrReconnectExhausted,
		})
		m.publish(ctx, domain.ConnectError{Err: domain.ErrReconnectExhausted, Attempt: st.Attempt, Terminal: true})
		m.stateChanged(ctx, st)
		return
	}
	m.status.Attempt = attempt
	delay := m.backoff.Delay(attempt)
	m.retry = time.AfterFunc(delay, func() { m.reconnect(gen) })
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	m.obs.Observe(ctx, domain.Observation{
		Signal:    domain.SignalReconnectSchedule,
		Component: "connection",
		Attempt:   attempt,
		Reason:    delay.String(),
	})
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.active {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.mu.Unlock()
	_ = m.dial(context.Background())
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, conn Conn) {
	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, domain.ErrTransportClosed) {
				err = fmt.Errorf("%w: %v", domain.ErrTransportClosed, err)
			}
			m.lost(gen, conn, err)
			return
		}
		if !m.handleInbound(ctx, gen, conn, ev) {
			return
		}
	}
}

// handleInbound processes one event and reports whether the read loop
// should continue.
func (m *Manager) handleInbound(ctx context.Context, gen uint64, conn Conn, ev domain.Event) bool {
	switch msg := ev.Message.(type) {
	case domain.Authenticated:
		if !msg.Success {
			m.rejected(ctx, gen, conn, ev, msg)
			return false
		}
		m.authenticated(ctx, gen, conn, ev, msg)
		return true
	case domain.Ping:
		if err := conn.Send(ctx, domain.EventPong, domain.Pong{}); err != nil {
			m.obs.Observe(ctx, domain.Observation{
				Signal:    domain.SignalSendFailed,
				Component: "connection",
				Event:     domain.EventPong,
				Err:       err,
			})
		}
	case domain.Pong:
		m.mu.Lock()
		if gen == m.gen {
			m.pingOutstanding = false
		}
		m.mu.Unlock()
	case domain.Unrecognized:
		m.obs.Observe(ctx, domain.Observation{
			Signal:    domain.SignalEventUnrecognized,
			Component: "connection",
			Event:     ev.Type,
		})
		return true
	case domain.Malformed:
		m.logger.Debug("malformed event dropped", "event", ev.Type, "reason", msg.Reason)
		m.obs.Observe(ctx, domain.Observation{
			Signal:    domain.SignalEventMalformed,
			Component: "connection",
			Event:     ev.Type,
			Reason:    msg.Reason,
		})
		return true
	}

	m.mu.Lock()
	current := gen == m.gen
	m.mu.Unlock()
	if current {
		m.bus.Publish(ctx, ev)
	}
	return current
}

func (m *Manager) authenticated(ctx context.Context, gen uint64, conn Conn, ev domain.Event, msg domain.Authenticated) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.status.State = domain.StateAuthenticated
	m.status.Attempt = 0
	m.status.LastErr = nil
	if msg.UserID != "" {
		m.status.UserID = msg.UserID
	}
	st := m.status
	m.mu.Unlock()

	m.logger.Info("connection authenticated", "user_id", st.UserID)
	if m.heartbeat > 0 {
		go m.heartbeatLoop(ctx, gen, conn)
	}
	m.bus.Publish(ctx, ev)
	m.stateChanged(ctx, st)
}

func (m *Manager) rejected(ctx context.Context, gen uint64, conn Conn, ev domain.Event, msg domain.Authenticated) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	err := domain.ErrAuthRejected
	if msg.Error != "" {
		err = fmt.Errorf("%w: %s", domain.ErrAuthRejected, msg.Error)
	}
	m.active = false
	m.gen++
	m.conn = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.status.State = domain.StateDisconnected
	m.status.LastErr = err
	st := m.status
	m.mu.Unlock()

	_ = conn.Close("authentication rejected")

	m.logger.Error("authentication rejected", "user_id", st.UserID, "error", err)
	m.obs.Observe(ctx, domain.Observation{
		Signal:    domain.SignalAuthRejected,
		Component: "connection",
		Err:       err,
	})
	bg := context.Background()
	m.bus.Publish(bg, ev)
	m.publish(bg, domain.ConnectError{Err: err, Attempt: st.Attempt, Terminal: true})
	m.stateChanged(bg, st)
}

// heartbeatLoop pings while authenticated. A missing pong is only reported;
// reconnection is left to the transport's own failure signalling.
func (m *Manager) heartbeatLoop(ctx context.Context, gen uint64, conn Conn) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		missed := m.pingOutstanding
		m.pingOutstanding = true
		m.mu.Unlock()

		if missed {
			m.logger.Warn("heartbeat not acknowledged")
			m.obs.Observe(ctx, domain.Observation{
				Signal:    domain.SignalHeartbeatMissed,
				Component: "connection",
			})
		}
		if err := conn.Send(ctx, domain.EventPing, domain.Ping{}); err != nil && ctx.Err() == nil {
			m.obs.Observe(ctx, domain.Observation{
				Signal:    domain.SignalSendFailed,
				Component: "connection",
				Event:     domain.EventPing,
				Err:       err,
			})
		}
	}
}

func (m *Manager) publish(ctx context.Context, msg domain.Message) {
	m.bus.Publish(ctx, domain.NewEvent(msg))
}

func (m *Manager) stateChanged(ctx context.Context, st domain.ConnectionStatus) {
	m.obs.Observe(ctx, domain.Observation{
		Signal:    domain.SignalStateChanged,
		Component: "connection",
		Attempt:   st.Attempt,
		Reason:    string(st.State),
		Err:       st.LastErr,
	})
	m.publish(ctx, domain.ConnectionChanged{Status: st})
}
