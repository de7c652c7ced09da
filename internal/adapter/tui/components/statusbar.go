package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tutorstream/internal/adapter/tui/theme"
	"tutorstream/internal/domain"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Enter"
	Desc string // e.g. "Send"
}

// StatusBarModel renders the bottom bar: key hints on the left, connection
// and session on the right.
type StatusBarModel struct {
	Hints   []KeyHint
	Conn    domain.ConnectionStatus
	Session string
	Draft   bool
	Extra   string // transient status text, e.g. "Thinking..."
	width   int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{Conn: domain.ConnectionStatus{State: domain.StateDisconnected}}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// ConnLabel renders the connection state with its color.
func ConnLabel(st domain.ConnectionStatus) string {
	label := string(st.State)
	switch {
	case st.State == domain.StateAuthenticated:
		return theme.ConnOnline.Render(theme.SymbolInfo + " " + label)
	case st.Terminal():
		return theme.ConnOffline.Render(theme.SymbolError + " " + label)
	case st.State == domain.StateDisconnected && st.Attempt > 0:
		return theme.ConnPending.Render(theme.SymbolWarning + " reconnecting")
	case st.State == domain.StateDisconnected:
		return theme.ConnOffline.Render(theme.SymbolInfo + " " + label)
	default:
		return theme.ConnPending.Render(theme.SymbolInfo + " " + label)
	}
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	parts := []string{ConnLabel(m.Conn)}
	switch {
	case m.Draft:
		parts = append(parts, theme.TextMuted.Render("new session"))
	case m.Session != "":
		parts = append(parts, theme.TextMuted.Render("session "+m.Session))
	}
	if m.Extra != "" {
		parts = append(parts, theme.TextInfo.Render(m.Extra))
	}
	right := strings.Join(parts, "  ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
