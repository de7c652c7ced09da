package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorstream/internal/adapter/tui/components"
	"tutorstream/internal/domain"
	chatsvc "tutorstream/internal/usecase/chat"
)

type fakeSurface struct {
	mu        sync.Mutex
	view      chatsvc.View
	asked     []string
	cancelled int
	drafts    int
	opened    []string
	result    *domain.QueryResult
	err       error
}

func (f *fakeSurface) Ask(_ context.Context, content string) (*domain.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, content)
	return f.result, f.err
}

func (f *fakeSurface) Cancel() {
	f.mu.Lock()
	f.cancelled++
	f.mu.Unlock()
}

func (f *fakeSurface) OpenSession(_ context.Context, id string) error {
	f.mu.Lock()
	f.opened = append(f.opened, id)
	f.view = chatsvc.View{SessionID: id}
	f.mu.Unlock()
	return nil
}

func (f *fakeSurface) OpenDraft(context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts++
	f.view = chatsvc.View{SessionID: "draft-1", Provisional: true}
	return "draft-1"
}

func (f *fakeSurface) Snapshot() chatsvc.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func newTestModel(t *testing.T, s *fakeSurface) Model {
	t.Helper()
	m := NewModel(ModelDeps{Surface: s, Status: domain.ConnectionStatus{State: domain.StateAuthenticated}})
	m.revealCfg = RevealConfigForSpeed(RevealInstant)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func lastMessage(m Model) components.ChatMessage {
	msgs := m.chatView.Messages.Messages
	return msgs[len(msgs)-1]
}

func TestModel_AskAndAnswer(t *testing.T) {
	trace := domain.Trace{IsCompleted: true, Steps: []domain.ReasoningStep{
		{Index: 1, Status: domain.StepCompleted, ToolName: "search_notes"},
	}}
	s := &fakeSurface{
		view:   chatsvc.View{SessionID: "s1", Trace: &trace},
		result: &domain.QueryResult{SessionID: "s1", MessageID: "m1", Answer: "Use the chain rule."},
	}
	m := newTestModel(t, s)

	m, cmd := update(t, m, components.InputSubmitMsg{Value: "How do I differentiate?"})
	require.NotNil(t, cmd)
	assert.True(t, m.waiting)
	assert.Equal(t, components.RoleUser, lastMessage(m).Role)

	done := cmd()
	require.IsType(t, AskDoneMsg{}, done)
	assert.Equal(t, []string{"How do I differentiate?"}, s.asked)

	m, _ = update(t, m, done)
	assert.False(t, m.waiting)
	last := lastMessage(m)
	assert.Equal(t, components.RoleAssistant, last.Role)
	assert.Equal(t, "Use the chain rule.", last.Content)
	require.NotNil(t, last.Trace)
	assert.Equal(t, 1, last.Trace.Steps)
	assert.Equal(t, []string{"search_notes"}, last.Trace.Tools)

	// The room broadcast of the same answer is not shown twice.
	count := len(m.chatView.Messages.Messages)
	m, _ = update(t, m, ChatMsg{Message: domain.ChatMessage{SessionID: "s1", MessageID: "m1", Role: "assistant", Content: "Use the chain rule."}})
	assert.Len(t, m.chatView.Messages.Messages, count)
}

func TestModel_StaleCompletionIgnored(t *testing.T) {
	s := &fakeSurface{result: &domain.QueryResult{Answer: "late"}}
	m := newTestModel(t, s)

	m, _ = update(t, m, components.InputSubmitMsg{Value: "first"})
	count := len(m.chatView.Messages.Messages)
	m, _ = update(t, m, AskDoneMsg{Result: s.result, Gen: m.gen - 1})
	assert.True(t, m.waiting)
	assert.Len(t, m.chatView.Messages.Messages, count)
}

func TestModel_AskErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantError bool
	}{
		{"query failed", domain.ErrQueryFailed, true},
		{"superseded", domain.ErrSuperseded, false},
		{"cancelled", domain.ErrCancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t, &fakeSurface{})
			m, _ = update(t, m, components.InputSubmitMsg{Value: "q"})
			count := len(m.chatView.Messages.Messages)

			m, _ = update(t, m, AskDoneMsg{Err: tt.err, Gen: m.gen})
			assert.False(t, m.waiting)
			if tt.wantError {
				assert.Equal(t, components.RoleError, lastMessage(m).Role)
			} else {
				assert.Len(t, m.chatView.Messages.Messages, count)
			}
		})
	}
}

func TestModel_CtrlCCancelsThenQuits(t *testing.T) {
	s := &fakeSurface{}
	m := newTestModel(t, s)
	m, _ = update(t, m, components.InputSubmitMsg{Value: "q"})
	gen := m.gen

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.False(t, m.waiting)
	assert.Equal(t, 1, s.cancelled)
	assert.Greater(t, m.gen, gen)
	assert.Contains(t, lastMessage(m).Content, "cancelled")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, m.quitting)
	require.NotNil(t, cmd)
}

func TestModel_SlashCommands(t *testing.T) {
	s := &fakeSurface{}
	m := newTestModel(t, s)

	m, _ = update(t, m, components.InputSubmitMsg{Value: "/new"})
	assert.Equal(t, 1, s.drafts)
	assert.True(t, m.statusBar.Draft)

	m, cmd := update(t, m, components.InputSubmitMsg{Value: "/session s9"})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, []string{"s9"}, s.opened)
	assert.Contains(t, lastMessage(m).Content, "s9")

	m, _ = update(t, m, components.InputSubmitMsg{Value: "/session"})
	assert.Contains(t, lastMessage(m).Content, "Usage")

	m, _ = update(t, m, components.InputSubmitMsg{Value: "/speed"})
	assert.Equal(t, RevealNormal, m.revealCfg.Speed)

	visible := m.split.Visible
	m, _ = update(t, m, components.InputSubmitMsg{Value: "/trace"})
	assert.NotEqual(t, visible, m.split.Visible)

	m, _ = update(t, m, components.InputSubmitMsg{Value: "/bogus"})
	assert.Contains(t, lastMessage(m).Content, "Unknown command")
}

func TestModel_StatusAndView(t *testing.T) {
	m := newTestModel(t, &fakeSurface{})
	m, _ = update(t, m, StatusMsg{Status: domain.ConnectionStatus{
		State: domain.StateDisconnected, LastErr: domain.ErrAuthRejected,
	}})
	assert.Equal(t, domain.StateDisconnected, m.statusBar.Conn.State)
	assert.Equal(t, components.RoleError, lastMessage(m).Role)

	trace := domain.Trace{IsProcessing: true, Steps: []domain.ReasoningStep{
		{Index: 1, Status: domain.StepExecuting, Description: "Search course notes"},
	}}
	m, _ = update(t, m, ViewMsg{View: chatsvc.View{SessionID: "s2", Trace: &trace}})
	assert.Equal(t, "s2", m.statusBar.Session)
	assert.Contains(t, m.View(), "Search course notes")
}

func TestModel_ChatFromOthers(t *testing.T) {
	m := newTestModel(t, &fakeSurface{})
	m, _ = update(t, m, ChatMsg{Message: domain.ChatMessage{SessionID: "s1", MessageID: "x", Role: "user", Content: "hello"}})
	assert.Equal(t, "hello", lastMessage(m).Content)
	assert.Equal(t, components.RoleUser, lastMessage(m).Role)

	m, _ = update(t, m, TypingMsg{Typing: domain.ChatTyping{SessionID: "s1", IsTyping: true}})
	assert.Contains(t, m.statusBar.Extra, "typing")
}

func TestRevealSpeed(t *testing.T) {
	assert.Equal(t, RevealFast, NextRevealSpeed(RevealNormal))
	assert.Equal(t, RevealInstant, NextRevealSpeed(RevealFast))
	assert.Equal(t, RevealNormal, NextRevealSpeed(RevealInstant))
	assert.Equal(t, "fast", RevealFast.String())
	assert.Equal(t, 0, RevealConfigForSpeed(RevealInstant).ChunkSize)
}

func TestAskCmdPassesError(t *testing.T) {
	s := &fakeSurface{err: errors.New("boom")}
	msg := askCmd(context.Background(), s, "q", 7)().(AskDoneMsg)
	assert.EqualError(t, msg.Err, "boom")
	assert.Equal(t, uint64(7), msg.Gen)
}
