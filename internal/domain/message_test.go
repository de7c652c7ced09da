package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventStampsType(t *testing.T) {
	ev := NewEvent(AgentComplete{RequestID: "r1"})
	assert.Equal(t, EventAgentComplete, ev.Type)
	assert.False(t, ev.Timestamp.IsZero())

	msg, ok := ev.Message.(AgentComplete)
	require.True(t, ok)
	assert.Equal(t, "r1", msg.RequestID)
}

func TestEventTypeOfVariableVariants(t *testing.T) {
	assert.Equal(t, EventStudyUpdate, DomainUpdate{Name: EventStudyUpdate}.EventType())
	assert.Equal(t, EventType("mystery"), Unrecognized{Name: "mystery"}.EventType())
	assert.Equal(t, EventReasoning, Malformed{Name: EventReasoning}.EventType())
}

func TestRequestScopedMessages(t *testing.T) {
	msgs := []Message{
		Reasoning{RequestID: "a"},
		ToolProgress{RequestID: "a"},
		AgentComplete{RequestID: "a"},
		AgentError{RequestID: "a"},
	}
	for _, m := range msgs {
		rs, ok := m.(RequestScoped)
		require.True(t, ok, "%T", m)
		assert.Equal(t, "a", rs.CorrelationID())
		assert.True(t, m.EventType().RequestScoped())
	}

	_, ok := Message(ChatMessage{}).(RequestScoped)
	assert.False(t, ok)
	assert.False(t, EventChatMessage.RequestScoped())
}

func TestSessionScopedMessages(t *testing.T) {
	var m Message = ChatTyping{SessionID: "s1", IsTyping: true}
	ss, ok := m.(SessionScoped)
	require.True(t, ok)
	assert.Equal(t, "s1", ss.ChatSessionID())
}

func TestConnectionStatus(t *testing.T) {
	assert.True(t, ConnectionStatus{State: StateConnected}.Online())
	assert.True(t, ConnectionStatus{State: StateAuthenticated}.Online())
	assert.False(t, ConnectionStatus{State: StateConnecting}.Online())

	assert.True(t, ConnectionStatus{State: StateDisconnected, LastErr: ErrAuthRejected}.Terminal())
	assert.False(t, ConnectionStatus{State: StateDisconnected, LastErr: errors.New("eof")}.Terminal())
	assert.False(t, ConnectionStatus{State: StateConnecting, LastErr: ErrReconnectExhausted}.Terminal())
}

func TestStepStatus(t *testing.T) {
	assert.True(t, StepExecuting.Valid())
	assert.False(t, StepStatus("running").Valid())
	assert.False(t, StepStatus("").Valid())

	assert.True(t, StepCompleted.Terminal())
	assert.True(t, StepFailed.Terminal())
	assert.False(t, StepPending.Terminal())
}

func TestTraceCloneIsDeep(t *testing.T) {
	orig := Trace{
		IsProcessing: true,
		Steps: []ReasoningStep{
			{Index: 1, Status: StepExecuting, ProgressMessages: []string{"one"}},
		},
	}
	cp := orig.Clone()
	cp.Steps[0].ProgressMessages[0] = "changed"
	cp.Steps[0].Status = StepCompleted

	assert.Equal(t, "one", orig.Steps[0].ProgressMessages[0])
	assert.Equal(t, StepExecuting, orig.Steps[0].Status)
	assert.Nil(t, Trace{}.Clone().Steps)
}

func TestTraceFrozen(t *testing.T) {
	assert.False(t, Trace{IsProcessing: true}.Frozen())
	assert.True(t, Trace{IsCompleted: true}.Frozen())
	assert.True(t, Trace{IsCancelled: true}.Frozen())
}
