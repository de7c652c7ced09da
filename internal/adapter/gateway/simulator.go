package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"tutorstream/internal/domain"
	"tutorstream/internal/infra/middleware"
)

// Emitter delivers server-originated messages to rooms.
type Emitter interface {
	EmitToUser(userID string, msg domain.Message) int
	EmitToSession(sessionID string, msg domain.Message) int
}

// Scenario is the scripted agent run for one question. Events are
// Reasoning, ToolProgress or AgentError values without correlation ids;
// the simulator stamps them. An AgentError ends the run with a failure.
type Scenario struct {
	Events []domain.Message
	Answer string
}

// Script produces the scenario for a question.
type Script func(question string) Scenario

// Simulator serves the query endpoint: it authenticates the caller,
// streams a scripted reasoning trace to the caller's user room, then
// answers the HTTP request.
type Simulator struct {
	emit      Emitter
	auth      Authenticator
	stepDelay time.Duration
	script    Script
	logger    *slog.Logger
	newID     func() string
}

// SimulatorOption configures a Simulator.
type SimulatorOption func(*Simulator)

// WithScript replaces DefaultScript.
func WithScript(s Script) SimulatorOption {
	return func(sim *Simulator) { sim.script = s }
}

// WithStepDelay sets the pause before each streamed event.
func WithStepDelay(d time.Duration) SimulatorOption {
	return func(sim *Simulator) { sim.stepDelay = d }
}

// WithSimulatorLogger sets the logger.
func WithSimulatorLogger(l *slog.Logger) SimulatorOption {
	return func(sim *Simulator) { sim.logger = l }
}

// NewSimulator creates a Simulator emitting through emit.
func NewSimulator(emit Emitter, auth Authenticator, opts ...SimulatorOption) *Simulator {
	sim := &Simulator{
		emit:   emit,
		auth:   auth,
		script: DefaultScript,
		logger: slog.Default(),
		newID:  func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim
}

type queryBody struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ServeHTTP implements http.Handler for POST /api/chat/query.
func (sim *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token, _ := middleware.BearerToken(r)
	info, err := sim.auth.Authenticate(token)
	if err != nil || info.UserID == "" {
		middleware.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	var body queryBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	body.Message = strings.TrimSpace(body.Message)
	switch {
	case body.RequestID == "":
		middleware.WriteError(w, http.StatusBadRequest, "request_id is required")
		return
	case body.Message == "":
		middleware.WriteError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := body.SessionID
	if sessionID == "" {
		sessionID = sim.newID()
	}

	res, err := sim.run(r.Context(), info.UserID, body.RequestID, sessionID, body.Message)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		middleware.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (sim *Simulator) run(ctx context.Context, userID, requestID, sessionID, question string) (*domain.QueryResult, error) {
	logger := sim.logger.With("request_id", requestID, "session_id", sessionID, "user_id", userID)
	logger.Info("simulator: run started")

	sc := sim.script(question)
	for _, ev := range sc.Events {
		if err := sim.pause(ctx); err != nil {
			logger.Info("simulator: caller went away")
			return nil, err
		}
		msg := stamp(ev, requestID, sessionID)
		sim.emit.EmitToUser(userID, msg)
		if failed, ok := msg.(domain.AgentError); ok {
			logger.Warn("simulator: run failed", "message", failed.Message)
			return nil, fmt.Errorf("agent error: %s", failed.Message)
		}
	}
	if err := sim.pause(ctx); err != nil {
		return nil, err
	}

	messageID := sim.newID()
	sim.emit.EmitToUser(userID, domain.AgentComplete{RequestID: requestID, SessionID: sessionID})
	sim.emit.EmitToSession(sessionID, domain.ChatMessage{
		SessionID: sessionID,
		MessageID: messageID,
		Role:      "assistant",
		Content:   sc.Answer,
		CreatedAt: time.Now().UTC(),
	})
	logger.Info("simulator: run completed", "steps", len(sc.Events))

	return &domain.QueryResult{SessionID: sessionID, MessageID: messageID, Answer: sc.Answer}, nil
}

func (sim *Simulator) pause(ctx context.Context) error {
	if sim.stepDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(sim.stepDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// stamp sets the correlation ids on a scripted event.
func stamp(msg domain.Message, requestID, sessionID string) domain.Message {
	switch m := msg.(type) {
	case domain.Reasoning:
		m.RequestID, m.SessionID = requestID, sessionID
		return m
	case domain.ToolProgress:
		m.RequestID, m.SessionID = requestID, sessionID
		return m
	case domain.AgentError:
		m.RequestID, m.SessionID = requestID, sessionID
		return m
	case domain.AgentComplete:
		m.RequestID, m.SessionID = requestID, sessionID
		return m
	default:
		return msg
	}
}

// DefaultScript answers any question with a three-step tutoring trace:
// understand the question, search course notes, compose the answer.
func DefaultScript(question string) Scenario {
	topic := question
	if r := []rune(topic); len(r) > 60 {
		topic = string(r[:60]) + "..."
	}
	return Scenario{
		Events: []domain.Message{
			domain.Reasoning{Step: 1, Status: domain.StepExecuting,
				Description: "Understand the question",
				Thought:     fmt.Sprintf("The student is asking about %q. Identify the core concept first.", topic)},
			domain.Reasoning{Step: 1, Status: domain.StepCompleted},
			domain.Reasoning{Step: 2, Status: domain.StepExecuting,
				Description: "Search course notes",
				ToolName:    "search_notes",
				ToolPurpose: "Find lecture material related to the question",
				Action:      "search_notes",
				ActionInput: topic},
			domain.ToolProgress{Message: "Searching lecture notes..."},
			domain.ToolProgress{Message: "Ranking 3 matching sections"},
			domain.Reasoning{Step: 2, Status: domain.StepCompleted,
				Observation:   "Found 3 relevant sections in the lecture notes.",
				ResultPreview: "Section 2.1, Section 4.3, Worked example 7",
				ResultLength:  3,
				ResultQuality: "good"},
			domain.Reasoning{Step: 3, Status: domain.StepExecuting,
				Description: "Compose the answer",
				Thought:     "Explain the concept, then walk through the worked example."},
			domain.Reasoning{Step: 3, Status: domain.StepCompleted},
		},
		Answer: fmt.Sprintf("Here is how to think about **%s**:\n\n1. Start from the definition in Section 2.1.\n2. Apply it as in Worked example 7.\n3. Check your result against Section 4.3.", topic),
	}
}
