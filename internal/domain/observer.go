package domain

import "context"

// Signal names an observable occurrence inside the stream client.
type Signal string

const (
	SignalStateChanged      Signal = "connection.state_changed"
	SignalDialFailed        Signal = "connection.dial_failed"
	SignalReconnectSchedule Signal = "connection.reconnect_scheduled"
	SignalReconnectGaveUp   Signal = "connection.reconnect_exhausted"
	SignalAuthRejected      Signal = "connection.auth_rejected"
	SignalHeartbeatMissed   Signal = "connection.heartbeat_missed"
	SignalSendFailed        Signal = "connection.send_failed"
	SignalRoomJoined        Signal = "rooms.joined"
	SignalRoomLeft          Signal = "rooms.left"
	SignalRoomRejoined      Signal = "rooms.rejoined"
	SignalEventDropped      Signal = "events.dropped"
	SignalEventMalformed    Signal = "events.malformed"
	SignalEventUnrecognized Signal = "events.unrecognized"
	SignalEventApplied      Signal = "trace.applied"
	SignalTraceCompleted    Signal = "trace.completed"
	SignalRequestBegun      Signal = "request.begun"
	SignalRequestCancelled  Signal = "request.cancelled"
	SignalQueryFailed       Signal = "request.query_failed"
)

// Observation is a structured record handed to an Observer.
type Observation struct {
	Signal    Signal
	Component string
	Event     EventType
	RequestID string
	SessionID string
	Attempt   int
	Reason    string
	Err       error
}

// Observer receives observations from the connection manager, room tracker,
// correlation router and reasoning reducer. Implementations must not block.
type Observer interface {
	Observe(ctx context.Context, o Observation)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, o Observation)

// Observe implements Observer.
func (f ObserverFunc) Observe(ctx context.Context, o Observation) { f(ctx, o) }

// NopObserver discards every observation.
var NopObserver Observer = ObserverFunc(func(context.Context, Observation) {})
