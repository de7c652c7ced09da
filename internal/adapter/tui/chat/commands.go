package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// askCmd runs the question in a background goroutine. gen identifies the
// question so a superseded completion can be discarded.
func askCmd(ctx context.Context, s Surface, content string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		res, err := s.Ask(ctx, content)
		return AskDoneMsg{Result: res, Err: err, Gen: gen}
	}
}

func openSessionCmd(ctx context.Context, s Surface, id string) tea.Cmd {
	return func() tea.Msg {
		return SessionOpenedMsg{SessionID: id, Err: s.OpenSession(ctx, id)}
	}
}

func revealTickCmd(rate time.Duration) tea.Cmd {
	if rate <= 0 {
		rate = 16 * time.Millisecond
	}
	return tea.Tick(rate, func(time.Time) tea.Msg {
		return RevealTickMsg{}
	})
}
