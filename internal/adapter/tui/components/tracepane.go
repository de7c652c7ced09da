package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"tutorstream/internal/adapter/tui/theme"
	"tutorstream/internal/domain"
)

// TracePaneModel shows the live reasoning trace of the current request.
type TracePaneModel struct {
	Viewport viewport.Model
	trace    *domain.Trace
	spinner  string
	width    int
	ready    bool
}

// NewTracePane creates an empty trace pane.
func NewTracePane() TracePaneModel {
	return TracePaneModel{}
}

// SetSize sets the pane dimensions.
func (m *TracePaneModel) SetSize(w, h int) {
	m.width = w
	if !m.ready {
		m.Viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.Viewport.Width = w
		m.Viewport.Height = h
	}
	m.refresh()
}

// SetTrace replaces the displayed trace. A nil trace clears the pane.
func (m *TracePaneModel) SetTrace(t *domain.Trace) {
	m.trace = t
	m.refresh()
	m.Viewport.GotoBottom()
}

// SetSpinner updates the frame shown next to executing steps.
func (m *TracePaneModel) SetSpinner(frame string) {
	m.spinner = frame
	if m.trace != nil && m.trace.IsProcessing {
		m.refresh()
	}
}

// Update handles scrolling.
func (m TracePaneModel) Update(msg tea.Msg) (TracePaneModel, tea.Cmd) {
	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	return m, cmd
}

// View renders the pane.
func (m TracePaneModel) View() string {
	if !m.ready {
		return ""
	}
	return m.Viewport.View()
}

func (m *TracePaneModel) refresh() {
	if !m.ready {
		return
	}
	if m.trace == nil {
		m.Viewport.SetContent(theme.TextMuted.Render("  No reasoning yet."))
		return
	}
	m.Viewport.SetContent(RenderTrace(*m.trace, m.width, m.spinner))
}

// RenderTrace renders t as a step list. spinner replaces the glyph of
// executing steps while the trace is still processing.
func RenderTrace(t domain.Trace, width int, spinner string) string {
	var sb strings.Builder
	sb.WriteString(theme.TraceHeader.Render("Reasoning") + "  " + traceState(t) + "\n")

	detailW := width - 6
	if detailW < 20 {
		detailW = 20
	}

	for _, step := range t.Steps {
		style, glyph := theme.StepStyle(string(step.Status))
		if step.Status == domain.StepExecuting && t.IsProcessing && spinner != "" {
			glyph = spinner
		}
		title := step.Description
		if title == "" {
			title = "Step " + fmt.Sprint(step.Index)
		}
		sb.WriteString(style.Render(fmt.Sprintf("%s %d. %s", glyph, step.Index, title)) + "\n")

		if step.ToolName != "" {
			tool := theme.ToolLabel.Render(step.ToolName)
			if step.ToolPurpose != "" {
				tool += theme.TraceDetail.Render(" " + theme.SymbolBullet + " " + step.ToolPurpose)
			}
			sb.WriteString("    " + tool + "\n")
		}
		writeDetail(&sb, "thought", step.Thought, detailW)
		if step.Action != "" {
			action := step.Action
			if step.ActionInput != "" {
				action += "(" + step.ActionInput + ")"
			}
			writeDetail(&sb, "action", action, detailW)
		}
		writeDetail(&sb, "observation", step.Observation, detailW)
		if step.ResultPreview != "" {
			result := step.ResultPreview
			if step.ResultLength > 0 || step.ResultQuality != "" {
				result += fmt.Sprintf(" [%d, %s]", step.ResultLength, orDash(step.ResultQuality))
			}
			writeDetail(&sb, "result", result, detailW)
		}
		for _, p := range step.ProgressMessages {
			sb.WriteString("    " + theme.TraceDetail.Render(theme.SymbolArrowR+" "+p) + "\n")
		}
		if step.Error != "" {
			sb.WriteString("    " + theme.TextError.Render(wrapText(step.Error, detailW)) + "\n")
		}
	}
	if t.Error != "" {
		sb.WriteString(theme.TextError.Render(theme.SymbolError+" "+wrapText(t.Error, width-2)) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func traceState(t domain.Trace) string {
	switch {
	case t.IsCancelled:
		return theme.TextWarning.Render("cancelled")
	case t.IsCompleted && t.Error != "":
		return theme.TextError.Render("failed")
	case t.IsCompleted:
		return theme.TextSuccess.Render("done")
	case t.IsProcessing:
		return theme.TextInfo.Render("thinking" + theme.SymbolEllipsis)
	default:
		return theme.TextMuted.Render("waiting")
	}
}

func writeDetail(sb *strings.Builder, label, value string, width int) {
	if value == "" {
		return
	}
	sb.WriteString("    " + theme.Dim.Render(label+":") + " " + theme.TraceDetail.Render(wrapText(value, width-len(label)-2)) + "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Summarize condenses t for the answer's header line.
func Summarize(t domain.Trace) *TraceSummary {
	if len(t.Steps) == 0 {
		return nil
	}
	sum := &TraceSummary{Steps: len(t.Steps), Failed: t.Error != ""}
	seen := make(map[string]struct{})
	for _, s := range t.Steps {
		if s.Status == domain.StepFailed {
			sum.Failed = true
		}
		if s.ToolName == "" {
			continue
		}
		if _, ok := seen[s.ToolName]; ok {
			continue
		}
		seen[s.ToolName] = struct{}{}
		sum.Tools = append(sum.Tools, s.ToolName)
	}
	return sum
}
