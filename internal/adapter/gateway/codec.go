package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"tutorstream/internal/domain"
)

// Payload schemas, keyed by event name. Events absent from this map carry
// free-form JSON.
var payloadSchemas = map[domain.EventType]string{
	domain.EventAuthenticated: `{
		"type": "object",
		"required": ["success"],
		"properties": {
			"success": {"type": "boolean"},
			"user_id": {"type": "string"},
			"error":   {"type": "string"}
		}
	}`,
	domain.EventPing: `{"type": "object"}`,
	domain.EventPong: `{"type": "object"}`,
	domain.EventChatMessage: `{
		"type": "object",
		"required": ["session_id", "content"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"message_id": {"type": "string"},
			"role":       {"type": "string"},
			"content":    {"type": "string"},
			"created_at": {"type": "string"}
		}
	}`,
	domain.EventChatTyping: `{
		"type": "object",
		"required": ["session_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"user_id":    {"type": "string"},
			"is_typing":  {"type": "boolean"}
		}
	}`,
	domain.EventReasoning: `{
		"type": "object",
		"required": ["request_id"],
		"properties": {
			"request_id":     {"type": "string"},
			"session_id":     {"type": "string"},
			"step":           {"type": "integer", "minimum": 0},
			"status":         {"type": "string"},
			"description":    {"type": "string"},
			"tool_name":      {"type": "string"},
			"tool_purpose":   {"type": "string"},
			"thought":        {"type": "string"},
			"action":         {"type": "string"},
			"action_input":   {"type": "string"},
			"observation":    {"type": "string"},
			"result_preview": {"type": "string"},
			"result_length":  {"type": "integer", "minimum": 0},
			"result_quality": {"type": "string"},
			"error":          {"type": "string"}
		}
	}`,
	domain.EventToolProgress: `{
		"type": "object",
		"required": ["request_id"],
		"properties": {
			"request_id": {"type": "string"},
			"session_id": {"type": "string"},
			"message":    {"type": "string"}
		}
	}`,
	domain.EventAgentComplete: `{
		"type": "object",
		"required": ["request_id"],
		"properties": {
			"request_id": {"type": "string"},
			"session_id": {"type": "string"}
		}
	}`,
	domain.EventAgentError: `{
		"type": "object",
		"required": ["request_id"],
		"properties": {
			"request_id": {"type": "string"},
			"session_id": {"type": "string"},
			"message":    {"type": "string"}
		}
	}`,

	// Client to server.
	domain.EventAuthenticate: `{
		"type": "object",
		"required": ["user_id"],
		"properties": {
			"user_id": {"type": "string", "minLength": 1},
			"token":   {"type": "string"}
		}
	}`,
	domain.EventJoinChatSession: `{
		"type": "object",
		"required": ["session_id"],
		"properties": {"session_id": {"type": "string", "minLength": 1}}
	}`,
	domain.EventLeaveChatSession: `{
		"type": "object",
		"required": ["session_id"],
		"properties": {"session_id": {"type": "string", "minLength": 1}}
	}`,
}

type decodeFunc func(json.RawMessage) (domain.Message, error)

// clientInbound lists every event a client understands. Anything else
// decodes to domain.Unrecognized.
var clientInbound = map[domain.EventType]decodeFunc{
	domain.EventAuthenticated:    decodeAs[domain.Authenticated],
	domain.EventPing:             decodeAs[domain.Ping],
	domain.EventPong:             decodeAs[domain.Pong],
	domain.EventChatMessage:      decodeAs[domain.ChatMessage],
	domain.EventChatTyping:       decodeAs[domain.ChatTyping],
	domain.EventReasoning:        decodeAs[domain.Reasoning],
	domain.EventToolProgress:     decodeAs[domain.ToolProgress],
	domain.EventAgentComplete:    decodeAs[domain.AgentComplete],
	domain.EventAgentError:       decodeAs[domain.AgentError],
	domain.EventStudyUpdate:      decodeUpdate(domain.EventStudyUpdate),
	domain.EventPredictionUpdate: decodeUpdate(domain.EventPredictionUpdate),
}

func decodeAs[T domain.Message](data json.RawMessage) (domain.Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeUpdate(name domain.EventType) decodeFunc {
	return func(data json.RawMessage) (domain.Message, error) {
		return domain.DomainUpdate{Name: name, Data: append(json.RawMessage(nil), data...)}, nil
	}
}

// Codec validates frame payloads against compiled JSON schemas and
// decodes them into domain messages.
type Codec struct {
	schemas map[domain.EventType]*jsonschema.Schema
}

// NewCodec compiles every payload schema.
func NewCodec() (*Codec, error) {
	compiler := jsonschema.NewCompiler()
	c := &Codec{schemas: make(map[domain.EventType]*jsonschema.Schema, len(payloadSchemas))}
	for name, src := range payloadSchemas {
		schema, err := compiler.Compile([]byte(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", name, err)
		}
		c.schemas[name] = schema
	}
	return c, nil
}

var defaultCodec = mustCodec()

func mustCodec() *Codec {
	c, err := NewCodec()
	if err != nil {
		panic(err)
	}
	return c
}

// Decode converts f into a domain message using the package codec.
func Decode(f Frame) domain.Message { return defaultCodec.Decode(f) }

// Decode converts f into a domain message. It never fails: unknown event
// names become domain.Unrecognized and payloads that do not match their
// schema become domain.Malformed.
func (c *Codec) Decode(f Frame) domain.Message {
	name := domain.EventType(f.Event)
	if f.Event == "" {
		return domain.Malformed{Reason: "missing event name", Data: f.Data}
	}
	decode, ok := clientInbound[name]
	if !ok {
		return domain.Unrecognized{Name: f.Event, Data: f.Data}
	}
	data := normalize(f.Data)
	if err := c.Validate(name, data); err != nil {
		return domain.Malformed{Name: name, Reason: err.Error(), Data: f.Data}
	}
	msg, err := decode(data)
	if err != nil {
		return domain.Malformed{Name: name, Reason: err.Error(), Data: f.Data}
	}
	return msg
}

// Validate checks data against the schema registered for name.
func (c *Codec) Validate(name domain.EventType, data json.RawMessage) error {
	data = normalize(data)
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	schema, ok := c.schemas[name]
	if !ok {
		return nil
	}
	if result := schema.Validate(v); !result.IsValid() {
		return fmt.Errorf("%w: %s", domain.ErrMalformedFrame, result.Error())
	}
	return nil
}

// DecodeInto validates data for name and unmarshals it into dst.
func (c *Codec) DecodeInto(name domain.EventType, data json.RawMessage, dst any) error {
	data = normalize(data)
	if err := c.Validate(name, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	return nil
}

// normalize treats absent and null payloads as an empty object.
func normalize(data json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return data
}
