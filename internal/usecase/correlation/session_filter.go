package correlation

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"tutorstream/internal/domain"
)

// ProvisionalPrefix marks session ids generated locally for a draft session
// the backend has not assigned yet.
const ProvisionalPrefix = "draft-"

// SessionFilter admits session-scoped events (chat messages, typing
// indicators) for the session currently open on a chat surface.
//
// While the open session is provisional every session-scoped event is
// admitted, because the backend-assigned id is not known yet.
type SessionFilter struct {
	mu          sync.Mutex
	current     string
	provisional bool
}

// NewSessionFilter creates a filter with no open session.
func NewSessionFilter() *SessionFilter {
	return &SessionFilter{}
}

// Open makes id the current session.
func (f *SessionFilter) Open(id string) {
	f.mu.Lock()
	f.current = id
	f.provisional = false
	f.mu.Unlock()
}

// OpenProvisional opens a draft session and returns its local id.
func (f *SessionFilter) OpenProvisional() string {
	id := ProvisionalPrefix + ulid.Make().String()
	f.mu.Lock()
	f.current = id
	f.provisional = true
	f.mu.Unlock()
	return id
}

// Assign replaces a provisional session with the backend-assigned id.
// It reports false if the current session is not provisional.
func (f *SessionFilter) Assign(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.provisional || id == "" {
		return false
	}
	f.current = id
	f.provisional = false
	return true
}

// Close forgets the current session; nothing is admitted afterwards.
func (f *SessionFilter) Close() {
	f.mu.Lock()
	f.current = ""
	f.provisional = false
	f.mu.Unlock()
}

// Current returns the open session id and whether it is provisional.
func (f *SessionFilter) Current() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.provisional
}

// Accept reports whether ev is session-scoped and belongs to the open session.
func (f *SessionFilter) Accept(ev domain.Event) bool {
	ss, ok := ev.Message.(domain.SessionScoped)
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provisional {
		return true
	}
	return f.current != "" && ss.ChatSessionID() == f.current
}

// IsProvisional reports whether id was generated by OpenProvisional.
func IsProvisional(id string) bool {
	return len(id) > len(ProvisionalPrefix) && id[:len(ProvisionalPrefix)] == ProvisionalPrefix
}
