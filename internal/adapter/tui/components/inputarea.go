package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tutorstream/internal/adapter/tui/theme"
)

// InputSubmitMsg is sent when the user presses Enter to submit input.
type InputSubmitMsg struct {
	Value string
}

// CommandDef describes one slash command offered while typing.
type CommandDef struct {
	Name        string
	Description string
}

// InputAreaModel wraps a textarea with slash-command hints and submit handling.
type InputAreaModel struct {
	Textarea textarea.Model
	Commands []CommandDef
	Enabled  bool
	width    int
}

// NewInputArea creates an input area with sensible defaults.
func NewInputArea(commands []CommandDef) InputAreaModel {
	ta := textarea.New()
	ta.Placeholder = "Ask a question..."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(2)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = theme.InputPrompt
	ta.FocusedStyle.Placeholder = theme.InputPlaceholder
	ta.Focus()

	return InputAreaModel{
		Textarea: ta,
		Commands: commands,
		Enabled:  true,
	}
}

// SetWidth updates the textarea width.
func (m *InputAreaModel) SetWidth(w int) {
	m.width = w
	m.Textarea.SetWidth(w - 2)
}

// SetEnabled enables or disables input (e.g. while a question is in flight).
func (m *InputAreaModel) SetEnabled(enabled bool) {
	m.Enabled = enabled
	if enabled {
		m.Textarea.Focus()
	} else {
		m.Textarea.Blur()
	}
}

// Value returns the current input text.
func (m InputAreaModel) Value() string {
	return m.Textarea.Value()
}

// ParseSlashCommand extracts command and args from slash command input.
func ParseSlashCommand(input string) (cmd string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	parts := strings.Fields(input)
	return strings.ToLower(parts[0]), parts[1:], true
}

// Matching returns the commands whose name starts with the typed prefix.
// Nothing matches once the user has typed past the command name.
func (m InputAreaModel) Matching() []CommandDef {
	value := m.Textarea.Value()
	if !strings.HasPrefix(value, "/") || strings.Contains(value, " ") {
		return nil
	}
	prefix := strings.ToLower(value)
	var out []CommandDef
	for _, c := range m.Commands {
		if strings.HasPrefix(c.Name, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Update handles key events. Enter submits; Alt+Enter inserts a newline.
func (m InputAreaModel) Update(msg tea.Msg) (InputAreaModel, tea.Cmd) {
	if !m.Enabled {
		return m, nil
	}
	if _, ok := msg.(tea.MouseMsg); ok {
		return m, nil
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && !keyMsg.Alt {
		value := strings.TrimSpace(m.Textarea.Value())
		if value == "" {
			return m, nil
		}
		m.Textarea.Reset()
		return m, func() tea.Msg {
			return InputSubmitMsg{Value: value}
		}
	}

	var cmd tea.Cmd
	m.Textarea, cmd = m.Textarea.Update(msg)
	return m, cmd
}

// View renders the input area with a one-line command hint above it.
func (m InputAreaModel) View() string {
	matches := m.Matching()
	if len(matches) == 0 {
		return m.Textarea.View()
	}
	hints := make([]string, 0, len(matches))
	for _, c := range matches {
		hints = append(hints, theme.StatusKey.Render(c.Name)+" "+theme.TextMuted.Render(c.Description))
	}
	return strings.Join(hints, "  ") + "\n" + m.Textarea.View()
}
