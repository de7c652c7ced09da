package domain

// ConnectionState is the lifecycle state of the logical channel.
type ConnectionState string

const (
	StateDisconnected  ConnectionState = "disconnected"
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateAuthenticated ConnectionState = "authenticated"
)

// ConnectionStatus is a point-in-time snapshot of the connection.
type ConnectionStatus struct {
	State   ConnectionState `json:"state"`
	Attempt int             `json:"attempt"` // reconnect attempt count; 0 once authenticated
	UserID  string          `json:"user_id,omitempty"`
	LastErr error           `json:"-"`
}

// Online reports whether the channel can carry outbound frames.
func (s ConnectionStatus) Online() bool {
	return s.State == StateConnected || s.State == StateAuthenticated
}

// Terminal reports whether the connection gave up and will not reconnect on its own.
func (s ConnectionStatus) Terminal() bool {
	return s.State == StateDisconnected && IsTerminalConnError(s.LastErr)
}

// Credentials identify the user a connection authenticates as.
type Credentials struct {
	UserID string
	Token  string
}
