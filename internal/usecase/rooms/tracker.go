// Package rooms tracks which chat-session rooms the client wants to be in and
// re-asserts that membership after every (re)authentication.
package rooms

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"tutorstream/internal/domain"
)

// Transport is the subset of the connection manager the tracker needs.
type Transport interface {
	Send(ctx context.Context, eventType domain.EventType, payload any) error
	Status() domain.ConnectionStatus
	On(eventType domain.EventType, handler domain.EventHandler) func()
}

// Tracker owns the desired room set. The set is the source of truth; the
// server's view is rebuilt from it on every authenticated transition.
type Tracker struct {
	transport Transport
	logger    *slog.Logger
	obs       domain.Observer

	mu      sync.Mutex
	desired map[string]struct{}
	unsub   func()
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithObserver sets the observability hook.
func WithObserver(obs domain.Observer) Option {
	return func(t *Tracker) { t.obs = obs }
}

// New creates a Tracker bound to transport.
func New(transport Transport, opts ...Option) *Tracker {
	t := &Tracker{
		transport: transport,
		logger:    slog.Default(),
		obs:       domain.NopObserver,
		desired:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.unsub = transport.On(domain.EventConnectionState, t.onState)
	return t
}

// Join adds room to the desired set. The join is sent now if the connection
// is authenticated, otherwise on the next authenticated transition. Joining a
// room already in the set is a no-op.
func (t *Tracker) Join(ctx context.Context, room string) error {
	if room == "" {
		return domain.NewDomainError("Tracker.Join", domain.ErrInvalidInput, "empty room id")
	}
	t.mu.Lock()
	if _, ok := t.desired[room]; ok {
		t.mu.Unlock()
		return nil
	}
	t.desired[room] = struct{}{}
	t.mu.Unlock()

	if t.transport.Status().State != domain.StateAuthenticated {
		return nil
	}
	return t.send(ctx, domain.EventJoinChatSession, room, domain.SignalRoomJoined)
}

// Leave removes room from the desired set and sends the leave if connected.
// Leaving a room that was never joined is not an error.
func (t *Tracker) Leave(ctx context.Context, room string) error {
	t.mu.Lock()
	_, ok := t.desired[room]
	delete(t.desired, room)
	t.mu.Unlock()

	if !ok || t.transport.Status().State != domain.StateAuthenticated {
		return nil
	}
	return t.send(ctx, domain.EventLeaveChatSession, room, domain.SignalRoomLeft)
}

// Rooms returns the desired set, sorted.
func (t *Tracker) Rooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.desired))
	for r := range t.desired {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether room is in the desired set.
func (t *Tracker) Contains(room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.desired[room]
	return ok
}

// Admit reports whether a session-scoped event belongs to a joined room.
// Events that are not session-scoped are always admitted.
func (t *Tracker) Admit(ev domain.Event) bool {
	ss, ok := ev.Message.(domain.SessionScoped)
	if !ok {
		return true
	}
	if t.Contains(ss.ChatSessionID()) {
		return true
	}
	t.obs.Observe(context.Background(), domain.Observation{
		Signal:    domain.SignalEventDropped,
		Component: "rooms",
		Event:     ev.Type,
		SessionID: ss.ChatSessionID(),
		Reason:    "not a member",
	})
	return false
}

// Close stops reacting to connection changes and forgets the desired set.
func (t *Tracker) Close() {
	t.mu.Lock()
	unsub := t.unsub
	t.unsub = nil
	t.desired = make(map[string]struct{})
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (t *Tracker) onState(ctx context.Context, ev domain.Event) {
	cc, ok := ev.Message.(domain.ConnectionChanged)
	if !ok || cc.Status.State != domain.StateAuthenticated {
		return
	}
	rooms := t.Rooms()
	for _, room := range rooms {
		if err := t.send(ctx, domain.EventJoinChatSession, room, domain.SignalRoomRejoined); err != nil {
			t.logger.Warn("rejoin failed", "room", room, "error", err)
		}
	}
	if len(rooms) > 0 {
		t.logger.Debug("rooms rejoined", "count", len(rooms))
	}
}

func (t *Tracker) send(ctx context.Context, eventType domain.EventType, room string, signal domain.Signal) error {
	if err := t.transport.Send(ctx, eventType, domain.RoomPayload{SessionID: room}); err != nil {
		return domain.WrapOp("rooms."+string(eventType), err)
	}
	t.obs.Observe(ctx, domain.Observation{
		Signal:    signal,
		Component: "rooms",
		Event:     eventType,
		SessionID: room,
	})
	return nil
}
