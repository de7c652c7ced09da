package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of event, either a wire event name or a
// locally synthesized lifecycle event.
type EventType string

const (
	// Transport lifecycle (local).
	EventConnect         EventType = "connect"
	EventDisconnect      EventType = "disconnect"
	EventConnectError    EventType = "connect_error"
	EventConnectionState EventType = "connection_state"

	// Handshake and heartbeat.
	EventAuthenticate  EventType = "authenticate"
	EventAuthenticated EventType = "authenticated"
	EventPing          EventType = "ping"
	EventPong          EventType = "pong"

	// Room membership (outbound).
	EventJoinChatSession  EventType = "join_chat_session"
	EventLeaveChatSession EventType = "leave_chat_session"

	// Session-scoped chat events.
	EventChatMessage EventType = "chat_message"
	EventChatTyping  EventType = "chat_typing"

	// Request-scoped reasoning stream.
	EventReasoning     EventType = "reasoning"
	EventToolProgress  EventType = "tool_progress"
	EventAgentComplete EventType = "agent_complete"
	EventAgentError    EventType = "agent_error"

	// Domain updates consumed outside the stream client.
	EventStudyUpdate      EventType = "study_update"
	EventPredictionUpdate EventType = "prediction_update"
)

// RequestScoped reports whether t is correlated by request id.
func (t EventType) RequestScoped() bool {
	switch t {
	case EventReasoning, EventToolProgress, EventAgentComplete, EventAgentError:
		return true
	}
	return false
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Message   Message   `json:"message,omitempty"`
}

// NewEvent wraps msg in an envelope stamped with the current time.
func NewEvent(msg Message) Event {
	return Event{Type: msg.EventType(), Timestamp: time.Now(), Message: msg}
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close prevents new publishes.
	Close()
}
