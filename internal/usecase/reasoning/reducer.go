// Package reasoning folds request-scoped stream events into a reasoning trace.
//
// Apply is a pure function: it never mutates the trace it is given and never
// touches I/O, so it can be driven from tests, a terminal UI, or any other
// consumer. Correlation (deciding whether an event belongs to the active
// request) happens before Apply; the reducer assumes every event it sees is
// for the trace it is folding into.
package reasoning

import (
	"context"
	"fmt"

	"tutorstream/internal/domain"
)

// MaxSteps bounds the step index accepted from the backend. Larger indices
// are treated as invalid so a corrupt event cannot force a huge allocation.
const MaxSteps = 256

// Outcome describes what Apply did with an event.
type Outcome int

const (
	Applied Outcome = iota
	IgnoredFrozen
	IgnoredInvalidStep
	IgnoredNoStep
	IgnoredUnsupported
	IgnoredDuplicateTerminal
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case IgnoredFrozen:
		return "trace frozen"
	case IgnoredInvalidStep:
		return "invalid step index"
	case IgnoredNoStep:
		return "no step to attach to"
	case IgnoredUnsupported:
		return "unsupported event"
	case IgnoredDuplicateTerminal:
		return "already terminal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports the outcome of one Apply call.
type Result struct {
	Outcome  Outcome
	Terminal bool // the event ended the trace
}

// Reset returns the empty initial trace.
func Reset() domain.Trace {
	return domain.Trace{Steps: []domain.ReasoningStep{}}
}

// Apply folds msg into t and returns the new trace.
func Apply(t domain.Trace, msg domain.Message) (domain.Trace, Result) {
	if t.Frozen() {
		if _, ok := msg.(domain.AgentComplete); ok {
			return t, Result{Outcome: IgnoredDuplicateTerminal}
		}
		return t, Result{Outcome: IgnoredFrozen}
	}

	switch m := msg.(type) {
	case domain.Reasoning:
		return applyReasoning(t, m)
	case domain.ToolProgress:
		return applyProgress(t, m)
	case domain.AgentComplete:
		return complete(t.Clone()), Result{Outcome: Applied, Terminal: true}
	case domain.AgentError:
		return applyError(t, m.Message), Result{Outcome: Applied, Terminal: true}
	default:
		return t, Result{Outcome: IgnoredUnsupported}
	}
}

// Cancel marks t as locally cancelled. Steps are kept; cancellation is a
// terminal state distinct from failure.
func Cancel(t domain.Trace) domain.Trace {
	if t.Frozen() {
		return t
	}
	out := t.Clone()
	out.IsProcessing = false
	out.IsCancelled = true
	return out
}

// Halt stops processing without completing, keeping whatever partial state
// the trace reached. Used when the query call itself fails.
func Halt(t domain.Trace, reason string) domain.Trace {
	out := t.Clone()
	out.IsProcessing = false
	if reason != "" && out.Error == "" {
		out.Error = reason
	}
	return out
}

func applyReasoning(t domain.Trace, m domain.Reasoning) (domain.Trace, Result) {
	if m.Step < 1 || m.Step > MaxSteps {
		return t, Result{Outcome: IgnoredInvalidStep}
	}

	out := t.Clone()
	for len(out.Steps) < m.Step {
		out.Steps = append(out.Steps, placeholder(len(out.Steps)+1))
	}
	step := &out.Steps[m.Step-1]
	mergeStep(step, m)
	out.IsProcessing = true
	return out, Result{Outcome: Applied}
}

func applyProgress(t domain.Trace, m domain.ToolProgress) (domain.Trace, Result) {
	if len(t.Steps) == 0 {
		return t, Result{Outcome: IgnoredNoStep}
	}
	if m.Message == "" {
		return t, Result{Outcome: Applied}
	}
	out := t.Clone()
	last := &out.Steps[len(out.Steps)-1]
	last.ProgressMessages = append(last.ProgressMessages, m.Message)
	return out, Result{Outcome: Applied}
}

func applyError(t domain.Trace, message string) domain.Trace {
	out := t.Clone()
	if message == "" {
		message = "agent error"
	}
	if n := len(out.Steps); n > 0 {
		last := &out.Steps[n-1]
		last.Status = domain.StepFailed
		last.Error = message
	}
	out.Error = message
	return complete(out)
}

func complete(t domain.Trace) domain.Trace {
	t.IsProcessing = false
	t.IsCompleted = true
	return t
}

func placeholder(index int) domain.ReasoningStep {
	return domain.ReasoningStep{
		Index:            index,
		Status:           domain.StepPending,
		ProgressMessages: []string{},
	}
}

// mergeStep copies every non-empty field of m into s. Empty fields never
// clear existing values, and a terminal status is never downgraded.
func mergeStep(s *domain.ReasoningStep, m domain.Reasoning) {
	if m.Status.Valid() && !(s.Status.Terminal() && !m.Status.Terminal()) {
		s.Status = m.Status
	}
	mergeString(&s.Description, m.Description)
	mergeString(&s.ToolName, m.ToolName)
	mergeString(&s.ToolPurpose, m.ToolPurpose)
	mergeString(&s.Thought, m.Thought)
	mergeString(&s.Action, m.Action)
	mergeString(&s.ActionInput, m.ActionInput)
	mergeString(&s.Observation, m.Observation)
	mergeString(&s.ResultPreview, m.ResultPreview)
	mergeString(&s.ResultQuality, m.ResultQuality)
	mergeString(&s.Error, m.Error)
	if m.ResultLength > 0 {
		s.ResultLength = m.ResultLength
	}
	if s.ProgressMessages == nil {
		s.ProgressMessages = []string{}
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Reducer applies events and reports what it dropped to an Observer.
type Reducer struct {
	Observer domain.Observer
}

// Apply folds ev into t, reporting ignored and terminal events.
func (r Reducer) Apply(ctx context.Context, t domain.Trace, ev domain.Event) domain.Trace {
	next, res := Apply(t, ev.Message)
	obs := r.Observer
	if obs == nil {
		return next
	}

	o := domain.Observation{Component: "reasoning", Event: ev.Type}
	if rs, ok := ev.Message.(domain.RequestScoped); ok {
		o.RequestID = rs.CorrelationID()
	}
	_, malformed := ev.Message.(domain.Malformed)
	switch {
	case res.Outcome == IgnoredInvalidStep || malformed:
		o.Signal = domain.SignalEventMalformed
		o.Reason = res.Outcome.String()
		obs.Observe(ctx, o)
	case res.Outcome != Applied:
		o.Signal = domain.SignalEventDropped
		o.Reason = res.Outcome.String()
		obs.Observe(ctx, o)
	case res.Terminal:
		o.Signal = domain.SignalTraceCompleted
		obs.Observe(ctx, o)
	}
	return next
}
