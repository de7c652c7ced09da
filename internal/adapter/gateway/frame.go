package gateway

import (
	"encoding/json"
	"fmt"

	"tutorstream/internal/domain"
)

// Frame is the envelope exchanged over the WebSocket in both directions:
// {"event": "<name>", "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for the named event. A nil payload produces a
// frame without data.
func Encode(event domain.EventType, payload any) (Frame, error) {
	f := Frame{Event: string(event)}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	f.Data = data
	return f, nil
}

// EncodeMessage builds a frame carrying msg under its own event name.
func EncodeMessage(msg domain.Message) (Frame, error) {
	if u, ok := msg.(domain.DomainUpdate); ok {
		return Frame{Event: string(u.Name), Data: u.Data}, nil
	}
	return Encode(msg.EventType(), msg)
}
