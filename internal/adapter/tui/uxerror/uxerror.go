// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the TUI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"tutorstream/internal/adapter/tui/theme"
	"tutorstream/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for display in the TUI message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Domain sentinel errors first so errors.Is sees through wrapping.
	{
		match:   isErr(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed", "The backend rejected your credentials.", []string{"Check auth.user_id and auth.token in config", "Ask the backend operator for a fresh token"}),
	},
	{
		match:   isErr(domain.ErrReconnectExhausted),
		produce: constantError("Connection Lost", "Reconnecting gave up after repeated failures.", []string{"Check that the backend is running", "Restart the client to try again"}),
	},
	{
		match:   isErr(domain.ErrNotConnected),
		produce: constantError("Not Connected", "The live stream is not connected yet.", []string{"Wait for the status bar to show authenticated", "Check server.ws_url in config"}),
	},
	{
		match:   isErr(domain.ErrCircuitOpen),
		produce: constantError("Backend Unavailable", "Recent questions kept failing, so new ones are paused briefly.", []string{"Wait a few seconds and ask again", "Check the backend logs"}),
	},
	{
		match:   isErr(domain.ErrRateLimit),
		produce: constantError("Rate Limited", "Too many questions were sent in a short time.", []string{"Wait a moment before asking again", "Raise query.rate_per_second in config"}),
	},
	{
		match:   isErr(domain.ErrInvalidInput),
		produce: constantError("Invalid Request", "The backend could not accept this question.", []string{"Rephrase the question", "Open a session with /session <id> or start one with /new"}),
	},
	{
		match:   isErr(domain.ErrQueryFailed),
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Question Failed",
				Message: err.Error(),
				Hints:   []string{"Try again", "Check the backend logs"},
				Raw:     err.Error(),
			}
		},
	},

	// Network / connectivity patterns (string matching for external errors).
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the backend.", []string{"Check that the backend is running", "Verify server.ws_url and server.api_url in config"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Request Timed Out", "The backend took too long to answer.", []string{"Try again", "Increase query.timeout in config"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	// Fallback for unrecognized errors.
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Set logger.level to debug and check the log file"},
		Raw:     err.Error(),
	}
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

func isErr(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
