package domain

// Reasoning is a partial update for one step of an agent reasoning trace.
// Fields left empty carry no information and never clear existing values.
// Step is 1-based; zero means the backend omitted it.
type Reasoning struct {
	RequestID     string     `json:"request_id"`
	SessionID     string     `json:"session_id,omitempty"`
	Step          int        `json:"step"`
	Status        StepStatus `json:"status,omitempty"`
	Description   string     `json:"description,omitempty"`
	ToolName      string     `json:"tool_name,omitempty"`
	ToolPurpose   string     `json:"tool_purpose,omitempty"`
	Thought       string     `json:"thought,omitempty"`
	Action        string     `json:"action,omitempty"`
	ActionInput   string     `json:"action_input,omitempty"`
	Observation   string     `json:"observation,omitempty"`
	ResultPreview string     `json:"result_preview,omitempty"`
	ResultLength  int        `json:"result_length,omitempty"`
	ResultQuality string     `json:"result_quality,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ToolProgress is a free-form progress line for the step currently running.
type ToolProgress struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// AgentComplete ends a reasoning stream.
type AgentComplete struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
}

// AgentError ends a reasoning stream with a failure.
type AgentError struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

func (m Reasoning) CorrelationID() string     { return m.RequestID }
func (m ToolProgress) CorrelationID() string  { return m.RequestID }
func (m AgentComplete) CorrelationID() string { return m.RequestID }
func (m AgentError) CorrelationID() string    { return m.RequestID }

func (Reasoning) EventType() EventType     { return EventReasoning }
func (ToolProgress) EventType() EventType  { return EventToolProgress }
func (AgentComplete) EventType() EventType { return EventAgentComplete }
func (AgentError) EventType() EventType    { return EventAgentError }

func (Reasoning) isMessage()     {}
func (ToolProgress) isMessage()  {}
func (AgentComplete) isMessage() {}
func (AgentError) isMessage()    {}
