// Package chat composes the stream client into one chat surface: an open
// session, at most one active request, and the reasoning trace for it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tutorstream/internal/domain"
	"tutorstream/internal/infra/tracer"
	"tutorstream/internal/usecase/correlation"
	"tutorstream/internal/usecase/reasoning"
)

// DefaultCompletionGrace is how long a trace may stay in progress after the
// query call returned its answer before the surface completes it.
const DefaultCompletionGrace = 3 * time.Second

// Subscriber delivers inbound events. The connection manager implements it.
type Subscriber interface {
	On(eventType domain.EventType, handler domain.EventHandler) func()
}

// Membership joins and leaves session rooms. The room tracker implements it.
type Membership interface {
	Join(ctx context.Context, room string) error
	Leave(ctx context.Context, room string) error
	Admit(ev domain.Event) bool
}

// Deps holds the surface's collaborators.
type Deps struct {
	Events          Subscriber
	Rooms           Membership
	Query           domain.QueryClient
	Logger          *slog.Logger
	Observer        domain.Observer
	CompletionGrace time.Duration
}

// View is a point-in-time copy of the surface state handed to watchers.
type View struct {
	SessionID   string
	Provisional bool
	Request     *domain.RequestContext
	Trace       *domain.Trace // nil when no trace exists for the open session
	Answer      *domain.QueryResult
	Err         string
}

// Finished reports whether the request is over: both the answer and the
// stream's terminal event arrived, or it was cancelled, or the call failed.
func (v View) Finished() bool {
	if v.Trace == nil {
		return false
	}
	if v.Trace.IsCancelled || v.Err != "" {
		return true
	}
	return v.Trace.IsCompleted && v.Answer != nil
}

// Surface is one chat view. It is safe for concurrent use.
type Surface struct {
	events  Subscriber
	rooms   Membership
	query   domain.QueryClient
	logger  *slog.Logger
	obs     domain.Observer
	grace   time.Duration
	router  *correlation.Router
	filter  *correlation.SessionFilter
	reducer reasoning.Reducer
	unsubs  []func()

	mu         sync.Mutex
	trace      *domain.Trace
	answer     *domain.QueryResult
	errMsg     string
	cancelCall context.CancelFunc
	graceTimer *time.Timer
	graceSeq   uint64
	closed     bool
	version    uint64
	watchers   map[uint64]func(View)
	listeners  map[uint64]domain.EventHandler
	nextID     uint64

	notifyMu  sync.Mutex
	delivered uint64
}

// New creates a surface with no open session and subscribes it to deps.Events.
func New(deps Deps) *Surface {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = domain.NopObserver
	}
	if deps.CompletionGrace == 0 {
		deps.CompletionGrace = DefaultCompletionGrace
	}
	s := &Surface{
		events:    deps.Events,
		rooms:     deps.Rooms,
		query:     deps.Query,
		logger:    deps.Logger,
		obs:       deps.Observer,
		grace:     deps.CompletionGrace,
		router:    correlation.NewRouter(correlation.WithObserver(deps.Observer)),
		filter:    correlation.NewSessionFilter(),
		reducer:   reasoning.Reducer{Observer: deps.Observer},
		watchers:  make(map[uint64]func(View)),
		listeners: make(map[uint64]domain.EventHandler),
	}
	for _, et := range []domain.EventType{
		domain.EventReasoning, domain.EventToolProgress,
		domain.EventAgentComplete, domain.EventAgentError,
	} {
		s.unsubs = append(s.unsubs, deps.Events.On(et, s.onStream))
	}
	for _, et := range []domain.EventType{domain.EventChatMessage, domain.EventChatTyping} {
		s.unsubs = append(s.unsubs, deps.Events.On(et, s.onSession))
	}
	return s
}

// OpenSession switches the surface to an existing session. Any trace for the
// previous session is discarded and room membership moves with it.
func (s *Surface) OpenSession(ctx context.Context, id string) error {
	if id == "" {
		return domain.NewDomainError("Surface.OpenSession", domain.ErrInvalidInput, "empty session id")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrClosed
	}
	prev, prevProvisional := s.filter.Current()
	if prev == id {
		s.mu.Unlock()
		return nil
	}
	s.discardLocked()
	s.filter.Open(id)
	v, ver, ws := s.viewLocked()
	s.mu.Unlock()
	s.notify(ver, v, ws)

	s.leave(ctx, prev, prevProvisional)
	return s.rooms.Join(ctx, id)
}

// OpenDraft starts a new session whose id the backend has not assigned yet
// and returns its provisional id.
func (s *Surface) OpenDraft(ctx context.Context) string {
	s.mu.Lock()
	prev, prevProvisional := s.filter.Current()
	s.discardLocked()
	id := s.filter.OpenProvisional()
	v, ver, ws := s.viewLocked()
	s.mu.Unlock()
	s.notify(ver, v, ws)

	s.leave(ctx, prev, prevProvisional)
	return id
}

// Ask sends content as a new query. The request id is allocated before the
// call goes out; a request started earlier is superseded immediately.
//
// Ask blocks until the query call returns. A superseded or cancelled call
// returns ErrSuperseded or ErrCancelled; a failed call leaves the trace in
// whatever partial state it reached.
func (s *Surface) Ask(ctx context.Context, content string) (*domain.QueryResult, error) {
	if content == "" {
		return nil, domain.NewDomainError("Surface.Ask", domain.ErrInvalidInput, "empty message")
	}

	ctx, span := tracer.StartSpan(ctx, "chat.ask")
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrClosed
	}
	sessionID, provisional := s.filter.Current()
	if provisional {
		sessionID = ""
	}
	rc := s.router.Begin(sessionID)
	s.stopGraceLocked()
	t := reasoning.Reset()
	s.trace = &t
	s.answer = nil
	s.errMsg = ""
	callCtx, cancel := context.WithCancel(ctx)
	s.cancelCall = cancel
	v, ver, ws := s.viewLocked()
	s.mu.Unlock()
	s.notify(ver, v, ws)

	span.SetAttributes(
		tracer.StringAttr("request_id", rc.RequestID),
		tracer.StringAttr("session_id", sessionID),
	)

	res, err := s.query.Send(callCtx, domain.Query{
		RequestID: rc.RequestID,
		SessionID: sessionID,
		Content:   content,
	})
	cancel()

	s.mu.Lock()
	if !s.router.AcceptID(rc.RequestID) {
		_, stillActive := s.router.Active()
		s.mu.Unlock()
		if stillActive {
			return nil, domain.WrapOp("Surface.Ask", domain.ErrSuperseded)
		}
		return nil, domain.WrapOp("Surface.Ask", domain.ErrCancelled)
	}
	s.cancelCall = nil

	if err != nil {
		halted := reasoning.Halt(*s.trace, err.Error())
		s.trace = &halted
		s.errMsg = err.Error()
		s.router.Cancel()
		v, ver, ws := s.viewLocked()
		s.mu.Unlock()
		s.notify(ver, v, ws)

		tracer.RecordError(span, err)
		s.logger.Warn("query failed", "request_id", rc.RequestID, "error", err)
		s.obs.Observe(ctx, domain.Observation{
			Signal:    domain.SignalQueryFailed,
			Component: "chat",
			RequestID: rc.RequestID,
			SessionID: sessionID,
			Err:       err,
		})
		return nil, fmt.Errorf("ask: %w", err)
	}

	s.answer = res
	assigned := ""
	if provisional && res.SessionID != "" && s.filter.Assign(res.SessionID) {
		s.router.AssignSession(rc.RequestID, res.SessionID)
		assigned = res.SessionID
	}
	if !s.trace.Frozen() {
		s.startGraceLocked(rc.RequestID)
	}
	v, ver, ws = s.viewLocked()
	s.mu.Unlock()
	s.notify(ver, v, ws)

	if assigned != "" {
		if err := s.rooms.Join(ctx, assigned); err != nil {
			s.logger.Warn("join assigned session failed", "session_id", assigned, "error", err)
		}
	}
	tracer.SetOK(span)
	return res, nil
}

// Cancel abandons the active request locally. The backend may keep
// streaming; those events are rejected from here on.
func (s *Surface) Cancel() {
	s.mu.Lock()
	if _, ok := s.router.Active(); !ok {
		s.mu.Unlock()
		return
	}
	s.router.Cancel()
	if s.cancelCall != nil {
		s.cancelCall()
		s.cancelCall = nil
	}
	s.stopGraceLocked()
	if s.trace != nil {
		cancelled := reasoning.Cancel(*s.trace)
		s.trace = &cancelled
	}
	v, ver, ws := s.viewLocked()
	s.mu.Unlock()
	s.notify(ver, v, ws)
}

// Snapshot returns the current view.
func (s *Surface) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _, _ := s.viewLocked()
	return v
}

// Watch registers fn to receive every new view. Views are delivered in
// order and a stale view is never delivered after a newer one. fn runs on
// the goroutine that caused the change and must not call Ask, Cancel or
// Open*.
func (s *Surface) Watch(fn func(View)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.watchers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// OnMessage registers fn for chat messages and typing indicators of the
// open session.
func (s *Surface) OnMessage(fn domain.EventHandler) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close tears the surface down: the trace is discarded, the session room is
// left and event subscriptions are released.
func (s *Surface) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	prev, prevProvisional := s.filter.Current()
	s.discardLocked()
	s.filter.Close()
	unsubs := s.unsubs
	s.unsubs = nil
	v, ver, ws := s.viewLocked()
	s.mu.Unlock()
	s.notify(ver, v, ws)

	for _, unsub := range unsubs {
		unsub()
	}
	s.leave(ctx, prev, prevProvisional)
}

func (s *Surface) onStream(ctx context.Context, ev domain.Event) {
	s.mu.Lock()
	if s.trace == nil || !s.router.Accept(ev) {
		s.mu.Unlock()
		return
	}
	next := s.reducer.Apply(ctx, *s.trace, ev)
	s.trace = &next
	if next.Frozen() {
		s.stopGraceLocked()
	} else if s.graceTimer != nil {
		// The stream is still talking; only silence counts toward the grace.
		if rc, ok := s.router.Active(); ok {
			s.startGraceLocked(rc.RequestID)
		}
	}
	v, ver, ws := s.viewLocked()
	s.mu.Unlock()
	s.notify(ver, v, ws)
}

func (s *Surface) onSession(ctx context.Context, ev domain.Event) {
	if !s.filter.Accept(ev) {
		return
	}
	if _, provisional := s.filter.Current(); !provisional && !s.rooms.Admit(ev) {
		return
	}
	s.mu.Lock()
	listeners := make([]domain.EventHandler, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx, ev)
	}
}

// discardLocked drops everything tied to the open session.
func (s *Surface) discardLocked() {
	s.router.Cancel()
	if s.cancelCall != nil {
		s.cancelCall()
		s.cancelCall = nil
	}
	s.stopGraceLocked()
	s.trace = nil
	s.answer = nil
	s.errMsg = ""
}

func (s *Surface) startGraceLocked(requestID string) {
	s.stopGraceLocked()
	seq := s.graceSeq
	s.graceTimer = time.AfterFunc(s.grace, func() { s.graceExpired(requestID, seq) })
}

func (s *Surface) stopGraceLocked() {
	s.graceSeq++
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// graceExpired completes a trace whose answer arrived but whose stream went
// quiet without a terminal event. Timers replaced since seq are inert.
func (s *Surface) graceExpired(requestID string, seq uint64) {
	s.mu.Lock()
	if seq != s.graceSeq || s.trace == nil || s.trace.Frozen() || !s.router.AcceptID(requestID) {
		s.mu.Unlock()
		return
	}
	s.graceTimer = nil
	next, _ := reasoning.Apply(*s.trace, domain.AgentComplete{RequestID: requestID})
	s.trace = &next
	v, ver, ws := s.viewLocked()
	s.mu.Unlock()

	s.logger.Debug("stream completion not received, completed after grace", "request_id", requestID)
	s.notify(ver, v, ws)
}

func (s *Surface) leave(ctx context.Context, room string, provisional bool) {
	if room == "" || provisional {
		return
	}
	if err := s.rooms.Leave(ctx, room); err != nil && !errors.Is(err, domain.ErrNotConnected) {
		s.logger.Warn("leave session failed", "session_id", room, "error", err)
	}
}

func (s *Surface) viewLocked() (View, uint64, []func(View)) {
	sessionID, provisional := s.filter.Current()
	v := View{SessionID: sessionID, Provisional: provisional, Err: s.errMsg}
	if rc, ok := s.router.Active(); ok {
		v.Request = &rc
	}
	if s.trace != nil {
		t := s.trace.Clone()
		v.Trace = &t
	}
	if s.answer != nil {
		a := *s.answer
		v.Answer = &a
	}
	s.version++
	ws := make([]func(View), 0, len(s.watchers))
	for _, fn := range s.watchers {
		ws = append(ws, fn)
	}
	return v, s.version, ws
}

func (s *Surface) notify(ver uint64, v View, watchers []func(View)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if ver <= s.delivered {
		return
	}
	s.delivered = ver
	for _, fn := range watchers {
		fn(v)
	}
}
