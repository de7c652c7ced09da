package domain

import "time"

// StepStatus is the lifecycle status of one reasoning step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepExecuting, StepCompleted, StepFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a step.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// ReasoningStep is one agent tool-use step. Index is 1-based.
type ReasoningStep struct {
	Index            int        `json:"index"`
	Status           StepStatus `json:"status"`
	Description      string     `json:"description,omitempty"`
	ToolName         string     `json:"tool_name,omitempty"`
	ToolPurpose      string     `json:"tool_purpose,omitempty"`
	Thought          string     `json:"thought,omitempty"`
	Action           string     `json:"action,omitempty"`
	ActionInput      string     `json:"action_input,omitempty"`
	Observation      string     `json:"observation,omitempty"`
	ResultPreview    string     `json:"result_preview,omitempty"`
	ResultLength     int        `json:"result_length,omitempty"`
	ResultQuality    string     `json:"result_quality,omitempty"`
	Error            string     `json:"error,omitempty"`
	ProgressMessages []string   `json:"progress_messages"`
}

// Trace is the incrementally built record of one request's reasoning.
type Trace struct {
	Steps        []ReasoningStep `json:"steps"`
	IsProcessing bool            `json:"is_processing"`
	IsCompleted  bool            `json:"is_completed"`
	IsCancelled  bool            `json:"is_cancelled,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Frozen reports whether the trace reached a terminal state.
func (t Trace) Frozen() bool { return t.IsCompleted || t.IsCancelled }

// Clone returns a deep copy of t.
func (t Trace) Clone() Trace {
	out := t
	if t.Steps != nil {
		out.Steps = make([]ReasoningStep, len(t.Steps))
		for i, s := range t.Steps {
			out.Steps[i] = s.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s ReasoningStep) Clone() ReasoningStep {
	out := s
	if s.ProgressMessages != nil {
		out.ProgressMessages = make([]string, len(s.ProgressMessages))
		copy(out.ProgressMessages, s.ProgressMessages)
	}
	return out
}

// RequestContext identifies one user-initiated long-running request.
// SessionID is empty until the backend assigns a logical session.
type RequestContext struct {
	RequestID string    `json:"request_id"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
