package chat

import (
	"context"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"tutorstream/internal/domain"
	chatsvc "tutorstream/internal/usecase/chat"
)

// Source is the chat surface the program renders.
type Source interface {
	Surface
	Watch(fn func(chatsvc.View)) func()
	OnMessage(fn domain.EventHandler) func()
}

// Connection reports connection state changes.
type Connection interface {
	Status() domain.ConnectionStatus
	On(eventType domain.EventType, handler domain.EventHandler) func()
}

// Program runs the chat screen in a Bubble Tea program.
type Program struct {
	source Source
	conn   Connection
	logger *slog.Logger
	opts   []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
}

// NewProgram creates a chat program. opts replace the default alt-screen and
// mouse options.
func NewProgram(source Source, conn Connection, logger *slog.Logger, opts ...tea.ProgramOption) *Program {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}
	}
	return &Program{source: source, conn: conn, logger: logger, opts: opts}
}

// Run starts the program and blocks until it exits or ctx is cancelled.
func (p *Program) Run(ctx context.Context) error {
	model := NewModel(ModelDeps{
		Surface: p.source,
		Status:  p.conn.Status(),
		Logger:  p.logger,
	})
	program := tea.NewProgram(model, p.opts...)
	p.mu.Lock()
	p.program = program
	p.mu.Unlock()

	unsubs := []func(){
		p.source.Watch(func(v chatsvc.View) { program.Send(ViewMsg{View: v}) }),
		p.source.OnMessage(func(_ context.Context, ev domain.Event) {
			switch msg := ev.Message.(type) {
			case domain.ChatMessage:
				program.Send(ChatMsg{Message: msg})
			case domain.ChatTyping:
				program.Send(TypingMsg{Typing: msg})
			}
		}),
		p.conn.On(domain.EventConnectionState, func(_ context.Context, ev domain.Event) {
			if cc, ok := ev.Message.(domain.ConnectionChanged); ok {
				program.Send(StatusMsg{Status: cc.Status})
			}
		}),
	}
	defer func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			program.Send(QuitMsg{})
		case <-done:
		}
	}()

	_, err := program.Run()
	return err
}

// Stop asks a running program to quit.
func (p *Program) Stop() {
	p.mu.Lock()
	program := p.program
	p.mu.Unlock()
	if program != nil {
		program.Send(QuitMsg{})
	}
}
