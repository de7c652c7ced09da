package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"tutorstream/internal/domain"
	"tutorstream/internal/usecase/chat"
)

func runAsk() error {
	args := positional()
	if len(args) == 0 {
		return fmt.Errorf("usage: tutorstream ask [--session ID] QUESTION")
	}
	question := strings.Join(args, " ")
	sessionID, _ := flagValue("--session")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := initRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	client := initClient(rt)
	defer client.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, rt.cfg.Connection.DialTimeout+5*time.Second)
	defer connectCancel()
	if _, err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if _, err := client.Manager.WaitFor(connectCtx, domain.StateAuthenticated); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	if sessionID != "" {
		if err := client.Surface.OpenSession(ctx, sessionID); err != nil {
			return fmt.Errorf("open session: %w", err)
		}
	} else {
		client.Surface.OpenDraft(ctx)
	}

	return ask(ctx, client.Surface, question, rt.cfg.Query.CompletionGrace, os.Stdout)
}

// asker is the part of the chat surface a one-shot question needs.
type asker interface {
	Ask(ctx context.Context, content string) (*domain.QueryResult, error)
	Cancel()
	Watch(fn func(chat.View)) func()
}

// ask prints trace changes to w as they arrive, then the answer once the
// trace has finished or grace has passed.
func ask(ctx context.Context, s asker, question string, grace time.Duration, w io.Writer) error {
	printer := &tracePrinter{w: w}
	finished := make(chan struct{})
	var once sync.Once
	unwatch := s.Watch(func(v chat.View) {
		printer.print(v)
		if v.Finished() {
			once.Do(func() { close(finished) })
		}
	})
	defer unwatch()

	res, err := s.Ask(ctx, question)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrCancelled) {
			s.Cancel()
		}
		return err
	}

	wait := grace + time.Second
	select {
	case <-finished:
	case <-time.After(wait):
	case <-ctx.Done():
		s.Cancel()
		return ctx.Err()
	}

	fmt.Fprintf(w, "\n%s\n", res.Answer)
	if res.SessionID != "" {
		fmt.Fprintf(w, "\n(session %s)\n", res.SessionID)
	}
	return nil
}

// tracePrinter writes each step line once per status change.
type tracePrinter struct {
	mu       sync.Mutex
	w        io.Writer
	seen     map[int]domain.StepStatus
	progress map[int]int
}

func (p *tracePrinter) print(v chat.View) {
	if v.Trace == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = make(map[int]domain.StepStatus)
		p.progress = make(map[int]int)
	}
	for _, step := range v.Trace.Steps {
		if p.seen[step.Index] != step.Status {
			p.seen[step.Index] = step.Status
			line := fmt.Sprintf("[%s] %d. %s", step.Status, step.Index, step.Description)
			if step.ToolName != "" {
				line += " (" + step.ToolName + ")"
			}
			fmt.Fprintln(p.w, strings.TrimSpace(line))
			if step.Status == domain.StepExecuting && step.Thought != "" {
				fmt.Fprintf(p.w, "    thought: %s\n", step.Thought)
			}
			if step.Status.Terminal() && step.Observation != "" {
				fmt.Fprintf(p.w, "    observation: %s\n", step.Observation)
			}
			if step.Error != "" {
				fmt.Fprintf(p.w, "    error: %s\n", step.Error)
			}
		}
		for _, msg := range step.ProgressMessages[p.progress[step.Index]:] {
			fmt.Fprintf(p.w, "    ... %s\n", msg)
		}
		p.progress[step.Index] = len(step.ProgressMessages)
	}
}
