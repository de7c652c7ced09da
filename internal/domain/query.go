package domain

import "context"

// Query is the body of the network call that starts a reasoning stream.
// RequestID must be generated before the call is made.
type Query struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"message"`
}

// QueryResult is the final answer returned by the query call.
type QueryResult struct {
	SessionID string `json:"session_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Answer    string `json:"answer"`
}

// QueryClient sends user queries to the backend.
type QueryClient interface {
	Send(ctx context.Context, q Query) (*QueryResult, error)
}
