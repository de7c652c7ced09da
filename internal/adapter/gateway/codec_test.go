package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorstream/internal/domain"
)

func frame(event, data string) Frame {
	f := Frame{Event: event}
	if data != "" {
		f.Data = json.RawMessage(data)
	}
	return f
}

func TestDecodeKnownEvents(t *testing.T) {
	tests := []struct {
		name string
		in   Frame
		want domain.Message
	}{
		{"authenticated", frame("authenticated", `{"success":true,"user_id":"u1"}`),
			domain.Authenticated{Success: true, UserID: "u1"}},
		{"ping without data", frame("ping", ""), domain.Ping{}},
		{"pong with null", frame("pong", "null"), domain.Pong{}},
		{"chat message", frame("chat_message", `{"session_id":"s1","content":"hi","role":"assistant"}`),
			domain.ChatMessage{SessionID: "s1", Content: "hi", Role: "assistant"}},
		{"chat typing", frame("chat_typing", `{"session_id":"s1","is_typing":true}`),
			domain.ChatTyping{SessionID: "s1", IsTyping: true}},
		{"reasoning", frame("reasoning", `{"request_id":"r1","step":2,"status":"executing","tool_name":"search"}`),
			domain.Reasoning{RequestID: "r1", Step: 2, Status: domain.StepExecuting, ToolName: "search"}},
		{"tool progress", frame("tool_progress", `{"request_id":"r1","message":"50%"}`),
			domain.ToolProgress{RequestID: "r1", Message: "50%"}},
		{"agent complete", frame("agent_complete", `{"request_id":"r1","session_id":"s1"}`),
			domain.AgentComplete{RequestID: "r1", SessionID: "s1"}},
		{"agent error", frame("agent_error", `{"request_id":"r1","message":"boom"}`),
			domain.AgentError{RequestID: "r1", Message: "boom"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.in))
		})
	}
}

func TestDecodeReasoningWithoutStepIsLeftToReducer(t *testing.T) {
	msg := Decode(frame("reasoning", `{"request_id":"r1","thought":"hmm"}`))
	r, ok := msg.(domain.Reasoning)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, 0, r.Step)
}

func TestDecodeUnknownEvent(t *testing.T) {
	msg := Decode(frame("quiz_started", `{"id":1}`))
	u, ok := msg.(domain.Unrecognized)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, "quiz_started", u.Name)
	assert.JSONEq(t, `{"id":1}`, string(u.Data))
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		in   Frame
	}{
		{"missing event name", frame("", `{}`)},
		{"step wrong type", frame("reasoning", `{"request_id":"r1","step":"two"}`)},
		{"negative step", frame("reasoning", `{"request_id":"r1","step":-1}`)},
		{"missing request id", frame("agent_complete", `{}`)},
		{"missing success", frame("authenticated", `{"user_id":"u1"}`)},
		{"empty session id", frame("chat_message", `{"session_id":"","content":"x"}`)},
		{"not an object", frame("ping", `[1,2]`)},
		{"invalid json", frame("tool_progress", `{"request_id":`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Decode(tt.in)
			m, ok := msg.(domain.Malformed)
			require.True(t, ok, "got %T", msg)
			assert.Equal(t, domain.EventType(tt.in.Event), m.Name)
			assert.NotEmpty(t, m.Reason)
		})
	}
}

func TestDecodeDomainUpdatePassesThrough(t *testing.T) {
	msg := Decode(frame("study_update", `{"deck":"bio","due":4}`))
	u, ok := msg.(domain.DomainUpdate)
	require.True(t, ok, "got %T", msg)
	assert.Equal(t, domain.EventStudyUpdate, u.EventType())
	assert.JSONEq(t, `{"deck":"bio","due":4}`, string(u.Data))

	f, err := EncodeMessage(u)
	require.NoError(t, err)
	assert.Equal(t, "study_update", f.Event)
	assert.JSONEq(t, `{"deck":"bio","due":4}`, string(f.Data))
}

func TestEncodeMessageDecodesBack(t *testing.T) {
	in := domain.Reasoning{RequestID: "r1", SessionID: "s1", Step: 3, Status: domain.StepCompleted,
		Observation: "done", ResultLength: 12}
	f, err := EncodeMessage(in)
	require.NoError(t, err)
	assert.Equal(t, "reasoning", f.Event)
	assert.Equal(t, in, Decode(f))
}

func TestEncodeNilPayload(t *testing.T) {
	f, err := Encode(domain.EventPing, nil)
	require.NoError(t, err)
	assert.Equal(t, Frame{Event: "ping"}, f)

	raw, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ping"}`, string(raw))
}

func TestEncodeUnsupportedPayload(t *testing.T) {
	_, err := Encode(domain.EventPing, make(chan int))
	assert.Error(t, err)
}

func TestCodecDecodeInto(t *testing.T) {
	c, err := NewCodec()
	require.NoError(t, err)

	var p domain.AuthenticatePayload
	require.NoError(t, c.DecodeInto(domain.EventAuthenticate, json.RawMessage(`{"user_id":"u1","token":"t"}`), &p))
	assert.Equal(t, domain.AuthenticatePayload{UserID: "u1", Token: "t"}, p)

	err = c.DecodeInto(domain.EventAuthenticate, json.RawMessage(`{"token":"t"}`), &p)
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)

	var room domain.RoomPayload
	err = c.DecodeInto(domain.EventJoinChatSession, nil, &room)
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)
}
