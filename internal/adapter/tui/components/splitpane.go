package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tutorstream/internal/adapter/tui/theme"
)

// Pane identifies which pane is focused.
type Pane int

const (
	PaneLeft Pane = iota
	PaneRight
)

// SplitPaneModel places the trace pane to the right of the chat.
type SplitPaneModel struct {
	Focused Pane
	Visible bool // whether the right pane is shown
	Ratio   float64
	width   int
	height  int
}

// NewSplitPane creates a split pane. ratio is the left pane's share of the width.
func NewSplitPane(ratio float64) SplitPaneModel {
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.65
	}
	return SplitPaneModel{
		Focused: PaneLeft,
		Visible: true,
		Ratio:   ratio,
	}
}

// SetSize updates the available dimensions.
func (m *SplitPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Shown reports whether the right pane is rendered at the current width.
func (m SplitPaneModel) Shown() bool {
	return m.Visible && m.width >= theme.MinSplitWidth
}

// Toggle shows/hides the right pane.
func (m *SplitPaneModel) Toggle() {
	m.Visible = !m.Visible
	if !m.Visible {
		m.Focused = PaneLeft
	}
}

// SwitchFocus moves focus to the other pane.
func (m *SplitPaneModel) SwitchFocus() {
	if !m.Shown() {
		return
	}
	if m.Focused == PaneLeft {
		m.Focused = PaneRight
	} else {
		m.Focused = PaneLeft
	}
}

// LeftWidth returns the width allocated to the left pane.
func (m SplitPaneModel) LeftWidth() int {
	if !m.Shown() {
		return m.width
	}
	divider := 1 // 1-char vertical divider
	return int(float64(m.width-divider) * m.Ratio)
}

// RightWidth returns the width allocated to the right pane.
func (m SplitPaneModel) RightWidth() int {
	if !m.Shown() {
		return 0
	}
	divider := 1
	return m.width - divider - m.LeftWidth()
}

// Height returns the content height.
func (m SplitPaneModel) Height() int {
	return m.height
}

// Render joins left and right content side-by-side with a focus-aware divider.
// The divider is highlighted when the right pane is focused.
func (m SplitPaneModel) Render(left, right string) string {
	if !m.Shown() {
		return left
	}

	divColor := theme.ColorBorder
	if m.Focused == PaneRight {
		divColor = theme.ColorBorderActive
	}
	divider := lipgloss.NewStyle().
		Foreground(divColor).
		Render("│")

	divCol := strings.TrimSuffix(strings.Repeat(divider+"\n", m.height), "\n")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, divCol, right)
}
