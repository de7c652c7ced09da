package domain

import (
	"encoding/json"
	"time"
)

// Message is the decoded body of an Event. It is a closed tagged union:
// every inbound wire event name and every local lifecycle event has one
// variant, and names the decoder does not know become Unrecognized.
type Message interface {
	EventType() EventType
	isMessage()
}

// RequestScoped is implemented by messages correlated to a user request.
type RequestScoped interface {
	Message
	CorrelationID() string
}

// SessionScoped is implemented by messages scoped to a logical chat session.
type SessionScoped interface {
	Message
	ChatSessionID() string
}

// --- handshake & heartbeat ---

// Authenticated acknowledges (or rejects) the authenticate handshake.
type Authenticated struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ping is a heartbeat probe.
type Ping struct{}

// Pong acknowledges a Ping.
type Pong struct{}

// --- session-scoped chat ---

// ChatMessage is a plain chat message broadcast to a session room.
type ChatMessage struct {
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ChatSessionID implements SessionScoped.
func (m ChatMessage) ChatSessionID() string { return m.SessionID }

// ChatTyping signals that the other side of a session is composing.
type ChatTyping struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	IsTyping  bool   `json:"is_typing"`
}

// ChatSessionID implements SessionScoped.
func (m ChatTyping) ChatSessionID() string { return m.SessionID }

// DomainUpdate carries study_update / prediction_update payloads untouched.
type DomainUpdate struct {
	Name EventType       `json:"-"`
	Data json.RawMessage `json:"data,omitempty"`
}

// --- local lifecycle ---

// Connected is emitted when the transport handshake succeeds.
type Connected struct{}

// Disconnected is emitted when the transport drops.
type Disconnected struct {
	Reason string `json:"reason,omitempty"`
}

// ConnectError is emitted when a dial fails or reconnection gives up.
type ConnectError struct {
	Err      error `json:"-"`
	Attempt  int   `json:"attempt"`
	Terminal bool  `json:"terminal"`
}

// ConnectionChanged is emitted on every ConnectionState transition.
type ConnectionChanged struct {
	Status ConnectionStatus `json:"status"`
}

// --- decode failures ---

// Unrecognized is an event whose name the decoder does not know.
type Unrecognized struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Malformed is a known event whose payload failed validation.
type Malformed struct {
	Name   EventType       `json:"name"`
	Reason string          `json:"reason"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// --- outbound payloads ---

// AuthenticatePayload is sent right after the transport connects.
type AuthenticatePayload struct {
	UserID string `json:"user_id"`
	Token  string `json:"token,omitempty"`
}

// RoomPayload is the body of join_chat_session / leave_chat_session.
type RoomPayload struct {
	SessionID string `json:"session_id"`
}

func (Authenticated) EventType() EventType     { return EventAuthenticated }
func (Ping) EventType() EventType              { return EventPing }
func (Pong) EventType() EventType              { return EventPong }
func (ChatMessage) EventType() EventType       { return EventChatMessage }
func (ChatTyping) EventType() EventType        { return EventChatTyping }
func (m DomainUpdate) EventType() EventType    { return m.Name }
func (Connected) EventType() EventType         { return EventConnect }
func (Disconnected) EventType() EventType      { return EventDisconnect }
func (ConnectError) EventType() EventType      { return EventConnectError }
func (ConnectionChanged) EventType() EventType { return EventConnectionState }
func (m Unrecognized) EventType() EventType    { return EventType(m.Name) }
func (m Malformed) EventType() EventType       { return m.Name }

func (Authenticated) isMessage()     {}
func (Ping) isMessage()              {}
func (Pong) isMessage()              {}
func (ChatMessage) isMessage()       {}
func (ChatTyping) isMessage()        {}
func (DomainUpdate) isMessage()      {}
func (Connected) isMessage()         {}
func (Disconnected) isMessage()      {}
func (ConnectError) isMessage()      {}
func (ConnectionChanged) isMessage() {}
func (Unrecognized) isMessage()      {}
func (Malformed) isMessage()         {}
