// Package chat implements the Bubble Tea chat screen: an input line, the
// conversation, and the live reasoning trace of the current question.
package chat

import (
	"tutorstream/internal/domain"
	chatsvc "tutorstream/internal/usecase/chat"
)

// ViewMsg carries a new surface snapshot into the update loop.
type ViewMsg struct {
	View chatsvc.View
}

// ChatMsg is a chat message posted to the open session.
type ChatMsg struct {
	Message domain.ChatMessage
}

// TypingMsg reports another participant typing in the open session.
type TypingMsg struct {
	Typing domain.ChatTyping
}

// StatusMsg carries a connection status change.
type StatusMsg struct {
	Status domain.ConnectionStatus
}

// AskDoneMsg signals that a question's query call returned.
// Gen identifies the question so stale completions can be discarded.
type AskDoneMsg struct {
	Result *domain.QueryResult
	Err    error
	Gen    uint64
}

// SessionOpenedMsg reports the outcome of /session.
type SessionOpenedMsg struct {
	SessionID string
	Err       error
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}

// RevealTickMsg drives the progressive reveal of an answer.
type RevealTickMsg struct{}
