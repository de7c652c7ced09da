package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tutorstream/internal/adapter/tui/components"
	"tutorstream/internal/adapter/tui/theme"
	"tutorstream/internal/adapter/tui/uxerror"
	"tutorstream/internal/domain"
	chatsvc "tutorstream/internal/usecase/chat"
)

// Surface is the part of the chat surface the model drives directly.
type Surface interface {
	Ask(ctx context.Context, content string) (*domain.QueryResult, error)
	Cancel()
	OpenSession(ctx context.Context, id string) error
	OpenDraft(ctx context.Context) string
	Snapshot() chatsvc.View
}

// ModelDeps are dependencies injected into the chat model.
type ModelDeps struct {
	Surface Surface
	Status  domain.ConnectionStatus // initial connection status
	Logger  *slog.Logger
}

var slashCommands = []components.CommandDef{
	{Name: "/help", Description: "Show available commands"},
	{Name: "/new", Description: "Start a new session"},
	{Name: "/session", Description: "Open an existing session"},
	{Name: "/cancel", Description: "Cancel the active question"},
	{Name: "/clear", Description: "Clear the conversation"},
	{Name: "/trace", Description: "Toggle the reasoning pane"},
	{Name: "/speed", Description: "Cycle answer reveal speed"},
	{Name: "/quit", Description: "Exit"},
}

// Model is the root Bubble Tea model for the chat screen.
type Model struct {
	deps ModelDeps

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	tracePane components.TracePaneModel
	split     components.SplitPaneModel
	spinner   spinner.Model

	view      chatsvc.View
	waiting   bool
	revealing bool
	revealBuf []rune
	revealPos int
	revealCfg RevealConfig
	width     int
	height    int
	quitting  bool

	// gen is bumped for every question; completions with an older gen are stale.
	gen      uint64
	cancelFn context.CancelFunc
	started  time.Time

	// shown holds message ids already in the conversation so the answer
	// returned by the query call and its room broadcast appear once.
	shown map[string]struct{}
}

// NewModel creates the chat model.
func NewModel(deps ModelDeps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	sb := components.NewStatusBar()
	sb.Hints = defaultHints()
	sb.Conn = deps.Status

	chatView := components.NewChatView()
	chatView.SetMaxMessages(1000)

	m := Model{
		deps:      deps,
		chatView:  chatView,
		input:     components.NewInputArea(slashCommands),
		statusBar: sb,
		tracePane: components.NewTracePane(),
		split:     components.NewSplitPane(0.6),
		spinner:   s,
		revealCfg: RevealConfigForSpeed(RevealNormal),
		shown:     make(map[string]struct{}),
	}
	if deps.Surface != nil {
		m.applyView(deps.Surface.Snapshot())
	}
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case ViewMsg:
		m.applyView(msg.View)
		m.layout()
		return m, nil

	case AskDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		return m.handleAskDone(msg)

	case ChatMsg:
		m.handleChat(msg.Message)
		return m, nil

	case TypingMsg:
		if !m.waiting {
			m.statusBar.Extra = ""
			if msg.Typing.IsTyping {
				m.statusBar.Extra = "someone is typing" + theme.SymbolEllipsis
			}
		}
		return m, nil

	case StatusMsg:
		m.statusBar.Conn = msg.Status
		if msg.Status.Terminal() {
			m.chatView.AddMessage(components.ChatMessage{
				Role:    components.RoleError,
				Content: uxerror.Humanize(msg.Status.LastErr).Render(),
			})
		}
		return m, nil

	case SessionOpenedMsg:
		if msg.Err != nil {
			m.chatView.AddMessage(components.ChatMessage{
				Role:    components.RoleError,
				Content: uxerror.Humanize(msg.Err).Render(),
			})
			return m, nil
		}
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: theme.SymbolSuccess + " Opened session " + msg.SessionID + ".",
		})
		return m, nil

	case RevealTickMsg:
		return m.handleRevealTick()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.tracePane.SetSpinner(m.spinner.View())
		cmds = append(cmds, cmd)
	}

	if !m.waiting {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	if m.split.Shown() && m.split.Focused == components.PaneRight {
		m.tracePane, cmd = m.tracePane.Update(msg)
	} else {
		m.chatView, cmd = m.chatView.Update(msg)
	}
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the entire chat UI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	main := m.chatView.View()
	switch {
	case m.split.Shown():
		main = m.split.Render(main, m.tracePane.View())
	case m.stacked():
		main = lipgloss.JoinVertical(lipgloss.Left, main, components.Divider(m.width), m.tracePane.View())
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = lipgloss.NewStyle().Faint(true).Render("> waiting for the answer...") +
			"\n" + m.spinner.View() + " " + m.statusBar.Extra
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		main,
		components.Divider(m.width),
		inputView,
		m.statusBar.View(),
	)
}

// stacked reports whether the trace is drawn under the chat because the
// terminal is too narrow for the side pane.
func (m Model) stacked() bool {
	return m.split.Visible && !m.split.Shown() && m.view.Trace != nil
}

func (m *Model) layout() {
	if m.width == 0 {
		return
	}
	const inputH, statusH, dividerH = 2, 1, 1
	contentH := m.height - inputH - statusH - dividerH
	if contentH < 5 {
		contentH = 5
	}

	m.statusBar.SetWidth(m.width)
	m.input.SetWidth(m.width)
	m.split.SetSize(m.width, contentH)

	switch {
	case m.split.Shown():
		m.chatView.SetSize(m.split.LeftWidth(), contentH)
		m.tracePane.SetSize(m.split.RightWidth(), contentH)
	case m.stacked():
		traceH := contentH / 3
		m.chatView.SetSize(m.width, contentH-traceH-dividerH)
		m.tracePane.SetSize(m.width, traceH)
	default:
		m.chatView.SetSize(m.width, contentH)
	}
}

func (m *Model) applyView(v chatsvc.View) {
	m.view = v
	m.tracePane.SetTrace(v.Trace)
	m.statusBar.Session = v.SessionID
	m.statusBar.Draft = v.Provisional
	if m.waiting && v.Trace != nil && v.Trace.IsProcessing {
		m.statusBar.Extra = "Thinking" + theme.SymbolEllipsis
		if n := len(v.Trace.Steps); n > 0 {
			if step := v.Trace.Steps[n-1]; step.ToolName != "" && step.Status == domain.StepExecuting {
				m.statusBar.Extra = "Calling " + step.ToolName + theme.SymbolEllipsis
			}
		}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelQuestion("Question cancelled.")
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlT:
		return m.handleSlashCommand("/trace", nil)

	case tea.KeyCtrlL:
		return m.handleSlashCommand("/clear", nil)

	case tea.KeyTab:
		m.split.SwitchFocus()
		if m.split.Focused == components.PaneRight {
			m.statusBar.Hints = []components.KeyHint{
				{Key: "Tab", Desc: "Chat"},
				{Key: "PgUp/PgDn", Desc: "Scroll"},
				{Key: "Ctrl+T", Desc: "Hide"},
			}
		} else {
			m.statusBar.Hints = defaultHints()
		}
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		if m.split.Shown() && m.split.Focused == components.PaneRight {
			m.tracePane, cmd = m.tracePane.Update(msg)
		} else {
			m.chatView, cmd = m.chatView.Update(msg)
		}
		return m, cmd
	}

	if m.waiting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}
	if m.deps.Surface == nil {
		return m, nil
	}

	m.chatView.AddMessage(components.ChatMessage{
		Role:      components.RoleUser,
		Content:   value,
		Timestamp: time.Now(),
	})

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel
	m.started = time.Now()
	m.waiting = true
	m.revealing = false
	m.input.SetEnabled(false)
	m.statusBar.Extra = "Thinking" + theme.SymbolEllipsis

	return m, askCmd(ctx, m.deps.Surface, value, m.gen)
}

func (m Model) handleAskDone(msg AskDoneMsg) (tea.Model, tea.Cmd) {
	m.cancelFn = nil
	if msg.Err != nil {
		m.finishWaiting()
		if !errors.Is(msg.Err, domain.ErrSuperseded) && !errors.Is(msg.Err, domain.ErrCancelled) {
			m.deps.Logger.Warn("question failed", "error", msg.Err)
			m.chatView.AddMessage(components.ChatMessage{
				Role:    components.RoleError,
				Content: uxerror.Humanize(msg.Err).Render(),
			})
		}
		return m, nil
	}

	res := msg.Result
	if res.MessageID != "" {
		m.shown[res.MessageID] = struct{}{}
	}
	var summary *components.TraceSummary
	if v := m.deps.Surface.Snapshot(); v.Trace != nil {
		summary = components.Summarize(*v.Trace)
		if summary != nil {
			summary.Elapsed = time.Since(m.started)
		}
	}
	m.chatView.AddMessage(components.ChatMessage{
		Role:      components.RoleAssistant,
		Timestamp: time.Now(),
		Trace:     summary,
	})

	if m.revealCfg.Speed == RevealInstant || res.Answer == "" {
		m.chatView.UpdateLastMessage(res.Answer)
		m.finishWaiting()
		return m, nil
	}
	m.revealBuf = []rune(res.Answer)
	m.revealPos = 0
	m.revealing = true
	return m, revealTickCmd(m.revealCfg.TickRate)
}

func (m Model) handleRevealTick() (tea.Model, tea.Cmd) {
	if !m.revealing {
		return m, nil
	}
	end := m.revealPos + m.revealCfg.ChunkSize
	if end >= len(m.revealBuf) {
		end = len(m.revealBuf)
	}
	m.revealPos = end
	m.chatView.UpdateLastMessage(string(m.revealBuf[:m.revealPos]))

	if m.revealPos >= len(m.revealBuf) {
		m.revealing = false
		m.finishWaiting()
		return m, nil
	}
	return m, revealTickCmd(m.revealCfg.TickRate)
}

func (m *Model) handleChat(msg domain.ChatMessage) {
	if msg.MessageID != "" {
		if _, ok := m.shown[msg.MessageID]; ok {
			return
		}
		m.shown[msg.MessageID] = struct{}{}
	}
	// The in-flight question's answer is shown when its query call returns.
	if m.waiting && msg.Role == string(components.RoleAssistant) {
		return
	}
	role := components.RoleSystem
	switch msg.Role {
	case string(components.RoleAssistant):
		role = components.RoleAssistant
	case string(components.RoleUser):
		role = components.RoleUser
	}
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	m.chatView.AddMessage(components.ChatMessage{Role: role, Content: msg.Content, Timestamp: ts})
}

func (m Model) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/help":
		m.chatView.AddMessage(components.ChatMessage{
			Role: components.RoleSystem,
			Content: `Available commands:
  /help          - Show this help
  /new           - Start a new session
  /session <id>  - Open an existing session
  /cancel        - Cancel the active question
  /clear         - Clear the conversation
  /trace         - Toggle the reasoning pane
  /speed         - Cycle answer reveal speed (normal/fast/instant)
  /quit          - Exit

Keybindings:
  Enter      - Send question
  Alt+Enter  - New line
  Ctrl+T     - Toggle reasoning pane
  Tab        - Switch pane focus
  Ctrl+L     - Clear conversation
  Ctrl+C     - Cancel/Quit
  PgUp/PgDn  - Scroll`,
		})
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/clear":
		m.chatView.Clear()
		m.shown = make(map[string]struct{})
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: theme.SymbolSuccess + " Conversation cleared.",
		})
		return m, nil

	case "/new":
		if m.deps.Surface == nil {
			return m, nil
		}
		if m.waiting {
			m.cancelQuestion("Question cancelled.")
		}
		m.deps.Surface.OpenDraft(context.Background())
		m.chatView.Clear()
		m.shown = make(map[string]struct{})
		m.applyView(m.deps.Surface.Snapshot())
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: "New session. The backend assigns its id with the first answer.",
		})
		return m, nil

	case "/session":
		if len(args) != 1 {
			m.chatView.AddMessage(components.ChatMessage{
				Role:    components.RoleSystem,
				Content: "Usage: /session <id>",
			})
			return m, nil
		}
		if m.deps.Surface == nil {
			return m, nil
		}
		if m.waiting {
			m.cancelQuestion("Question cancelled.")
		}
		m.chatView.Clear()
		m.shown = make(map[string]struct{})
		return m, openSessionCmd(context.Background(), m.deps.Surface, args[0])

	case "/cancel":
		if m.waiting {
			m.cancelQuestion("Question cancelled.")
		} else {
			m.chatView.AddMessage(components.ChatMessage{
				Role:    components.RoleSystem,
				Content: "No active question to cancel.",
			})
		}
		return m, nil

	case "/trace":
		m.split.Toggle()
		m.layout()
		return m, nil

	case "/speed":
		next := NextRevealSpeed(m.revealCfg.Speed)
		m.revealCfg = RevealConfigForSpeed(next)
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: fmt.Sprintf("Reveal speed: %s", next),
		})
		return m, nil

	default:
		m.chatView.AddMessage(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd),
		})
		return m, nil
	}
}

// cancelQuestion abandons the in-flight question and bumps gen so its
// completion is ignored.
func (m *Model) cancelQuestion(reason string) {
	if m.deps.Surface != nil {
		m.deps.Surface.Cancel()
	}
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.gen++
	m.revealing = false
	m.finishWaiting()
	m.chatView.AddMessage(components.ChatMessage{
		Role:    components.RoleSystem,
		Content: reason,
	})
}

func (m *Model) finishWaiting() {
	m.waiting = false
	m.input.SetEnabled(true)
	m.statusBar.Extra = ""
	m.statusBar.Hints = defaultHints()
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Ask"},
		{Key: "Ctrl+T", Desc: "Reasoning"},
		{Key: "?", Desc: "/help"},
		{Key: "Ctrl+C", Desc: "Cancel/Quit"},
	}
}
