// Package correlation matches asynchronous stream events back to the user
// request or chat session that caused them.
package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"tutorstream/internal/domain"
)

// Router tracks the single active request of a chat surface. Beginning a new
// request supersedes the previous one immediately, whether or not its network
// call has resolved.
type Router struct {
	mu     sync.Mutex
	active *domain.RequestContext
	newID  func() string
	now    func() time.Time
	obs    domain.Observer
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithIDGenerator replaces the ULID request id generator.
func WithIDGenerator(fn func() string) RouterOption {
	return func(r *Router) { r.newID = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) RouterOption {
	return func(r *Router) { r.now = fn }
}

// WithObserver sets the observer for dropped events.
func WithObserver(obs domain.Observer) RouterOption {
	return func(r *Router) { r.obs = obs }
}

// NewRouter creates a router with no active request.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		newID: newRequestID,
		now:   time.Now,
		obs:   domain.NopObserver,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func newRequestID() string {
	return ulid.Make().String()
}

// Begin activates a new request and returns its context. It must be called
// before the network call is initiated; the returned RequestID goes into
// that call's payload.
func (r *Router) Begin(sessionID string) domain.RequestContext {
	rc := domain.RequestContext{
		RequestID: r.newID(),
		SessionID: sessionID,
		CreatedAt: r.now(),
	}
	r.mu.Lock()
	r.active = &rc
	r.mu.Unlock()

	r.obs.Observe(context.Background(), domain.Observation{
		Signal:    domain.SignalRequestBegun,
		Component: "correlation",
		RequestID: rc.RequestID,
		SessionID: sessionID,
	})
	return rc
}

// Accept reports whether ev is request-scoped and carries the active request id.
// Events that are not request-scoped are never accepted here.
func (r *Router) Accept(ev domain.Event) bool {
	rs, ok := ev.Message.(domain.RequestScoped)
	if !ok {
		r.drop(ev, "", "not request scoped")
		return false
	}
	id := rs.CorrelationID()
	if !r.AcceptID(id) {
		r.drop(ev, id, r.dropReason())
		return false
	}
	return true
}

// AcceptID reports whether id is the active request id.
func (r *Router) AcceptID(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil && id != "" && id == r.active.RequestID
}

// Cancel clears the active request. Events for it are rejected afterwards.
func (r *Router) Cancel() {
	r.mu.Lock()
	prev := r.active
	r.active = nil
	r.mu.Unlock()

	if prev != nil {
		r.obs.Observe(context.Background(), domain.Observation{
			Signal:    domain.SignalRequestCancelled,
			Component: "correlation",
			RequestID: prev.RequestID,
			SessionID: prev.SessionID,
		})
	}
}

// Active returns the active request context, if any.
func (r *Router) Active() (domain.RequestContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return domain.RequestContext{}, false
	}
	return *r.active, true
}

// AssignSession records the logical session the backend assigned to
// requestID. It reports false if requestID is no longer active.
func (r *Router) AssignSession(requestID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil || r.active.RequestID != requestID {
		return false
	}
	r.active.SessionID = sessionID
	return true
}

func (r *Router) dropReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "no active request"
	}
	return "stale request id"
}

func (r *Router) drop(ev domain.Event, id, reason string) {
	r.obs.Observe(context.Background(), domain.Observation{
		Signal:    domain.SignalEventDropped,
		Component: "correlation",
		Event:     ev.Type,
		RequestID: id,
		Reason:    reason,
	})
}
