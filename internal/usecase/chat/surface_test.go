package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorstream/internal/domain"
	"tutorstream/internal/usecase/eventbus"
)

type busSubscriber struct{ *eventbus.Bus }

func (b busSubscriber) On(et domain.EventType, h domain.EventHandler) func() {
	return b.Subscribe(et, h)
}

type fakeRooms struct {
	mu     sync.Mutex
	joined map[string]bool
	log    []string
}

func newFakeRooms() *fakeRooms { return &fakeRooms{joined: make(map[string]bool)} }

func (r *fakeRooms) Join(_ context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined[room] = true
	r.log = append(r.log, "join:"+room)
	return nil
}

func (r *fakeRooms) Leave(_ context.Context, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.joined, room)
	r.log = append(r.log, "leave:"+room)
	return nil
}

func (r *fakeRooms) Admit(ev domain.Event) bool {
	ss, ok := ev.Message.(domain.SessionScoped)
	if !ok {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined[ss.ChatSessionID()]
}

func (r *fakeRooms) history() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// pendingQuery is one in-flight call on fakeQuery.
type pendingQuery struct {
	q    domain.Query
	ctx  context.Context
	done chan queryReply
}

type queryReply struct {
	res *domain.QueryResult
	err error
}

type fakeQuery struct {
	calls chan *pendingQuery
}

func newFakeQuery() *fakeQuery { return &fakeQuery{calls: make(chan *pendingQuery, 8)} }

func (f *fakeQuery) Send(ctx context.Context, q domain.Query) (*domain.QueryResult, error) {
	p := &pendingQuery{q: q, ctx: ctx, done: make(chan queryReply, 1)}
	f.calls <- p
	select {
	case r := <-p.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeQuery) next(t *testing.T) *pendingQuery {
	t.Helper()
	select {
	case p := <-f.calls:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("query not sent")
		return nil
	}
}

type harness struct {
	bus   *eventbus.Bus
	rooms *fakeRooms
	query *fakeQuery
	s     *Surface
}

func newHarness(t *testing.T, grace time.Duration) *harness {
	t.Helper()
	h := &harness{bus: eventbus.New(nil), rooms: newFakeRooms(), query: newFakeQuery()}
	h.s = New(Deps{
		Events:          busSubscriber{h.bus},
		Rooms:           h.rooms,
		Query:           h.query,
		CompletionGrace: grace,
	})
	t.Cleanup(func() { h.s.Close(context.Background()) })
	return h
}

func (h *harness) emit(msg domain.Message) {
	h.bus.Publish(context.Background(), domain.NewEvent(msg))
}

type askResult struct {
	res *domain.QueryResult
	err error
}

func (h *harness) ask(content string) <-chan askResult {
	out := make(chan askResult, 1)
	go func() {
		res, err := h.s.Ask(context.Background(), content)
		out <- askResult{res, err}
	}()
	return out
}

func wait(t *testing.T, ch <-chan askResult) askResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("ask did not return")
		return askResult{}
	}
}

func TestAskStreamsIntoTrace(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	done := h.ask("what is 2+2?")
	call := h.query.next(t)
	assert.Equal(t, "s1", call.q.SessionID)
	assert.Equal(t, "what is 2+2?", call.q.Content)
	require.NotEmpty(t, call.q.RequestID)

	v := h.s.Snapshot()
	require.NotNil(t, v.Request)
	assert.Equal(t, call.q.RequestID, v.Request.RequestID)

	id := call.q.RequestID
	h.emit(domain.Reasoning{RequestID: id, Step: 1, Status: domain.StepExecuting, ToolName: "search"})
	h.emit(domain.ToolProgress{RequestID: id, Message: "found 3 results"})
	h.emit(domain.Reasoning{RequestID: id, Step: 1, Status: domain.StepCompleted, Observation: "4"})
	h.emit(domain.AgentComplete{RequestID: id})

	call.done <- queryReply{res: &domain.QueryResult{SessionID: "s1", Answer: "4"}}
	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "4", r.res.Answer)

	v = h.s.Snapshot()
	require.NotNil(t, v.Trace)
	require.Len(t, v.Trace.Steps, 1)
	step := v.Trace.Steps[0]
	assert.Equal(t, domain.StepCompleted, step.Status)
	assert.Equal(t, "search", step.ToolName)
	assert.Equal(t, "4", step.Observation)
	assert.Equal(t, []string{"found 3 results"}, step.ProgressMessages)
	assert.True(t, v.Trace.IsCompleted)
	assert.True(t, v.Finished())
}

// Q1 is still streaming when Q2 starts; a late event for Q1 must not touch
// the Q2 trace.
func TestSupersededRequestIsDropped(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	first := h.ask("q1")
	c1 := h.query.next(t)
	h.emit(domain.Reasoning{RequestID: c1.q.RequestID, Step: 1, Thought: "q1 thinking"})

	second := h.ask("q2")
	c2 := h.query.next(t)
	require.NotEqual(t, c1.q.RequestID, c2.q.RequestID)

	h.emit(domain.Reasoning{RequestID: c1.q.RequestID, Step: 2, Thought: "late q1"})
	h.emit(domain.Reasoning{RequestID: c2.q.RequestID, Step: 1, Thought: "q2 thinking"})

	v := h.s.Snapshot()
	require.NotNil(t, v.Trace)
	require.Len(t, v.Trace.Steps, 1)
	assert.Equal(t, "q2 thinking", v.Trace.Steps[0].Thought)

	c1.done <- queryReply{res: &domain.QueryResult{Answer: "a1"}}
	r1 := wait(t, first)
	assert.ErrorIs(t, r1.err, domain.ErrSuperseded)

	c2.done <- queryReply{res: &domain.QueryResult{Answer: "a2"}}
	r2 := wait(t, second)
	require.NoError(t, r2.err)
	assert.Equal(t, "a2", h.s.Snapshot().Answer.Answer)
}

func TestEventsWithoutActiveRequestAreDropped(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	h.emit(domain.Reasoning{RequestID: "r-unknown", Step: 1, Thought: "x"})
	assert.Nil(t, h.s.Snapshot().Trace)
}

func TestAnswerBeforeCompletionUsesGrace(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	done := h.ask("q")
	call := h.query.next(t)
	h.emit(domain.Reasoning{RequestID: call.q.RequestID, Step: 1, Status: domain.StepExecuting})
	call.done <- queryReply{res: &domain.QueryResult{Answer: "a"}}
	require.NoError(t, wait(t, done).err)

	v := h.s.Snapshot()
	assert.True(t, v.Trace.IsProcessing)
	assert.False(t, v.Finished())

	require.Eventually(t, func() bool { return h.s.Snapshot().Finished() }, time.Second, time.Millisecond)
	v = h.s.Snapshot()
	assert.True(t, v.Trace.IsCompleted)
	assert.False(t, v.Trace.IsProcessing)
}

func TestGraceWaitsForStreamToGoQuiet(t *testing.T) {
	const grace = 100 * time.Millisecond
	h := newHarness(t, grace)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	done := h.ask("q")
	call := h.query.next(t)
	id := call.q.RequestID
	call.done <- queryReply{res: &domain.QueryResult{Answer: "a"}}
	require.NoError(t, wait(t, done).err)

	// Keep the stream busy for well past one grace period.
	for step := 1; step <= 10; step++ {
		h.emit(domain.Reasoning{RequestID: id, Step: step, Status: domain.StepExecuting})
		h.emit(domain.ToolProgress{RequestID: id, Message: "working"})
		require.False(t, h.s.Snapshot().Finished(), "completed while stream active at step %d", step)
		time.Sleep(grace / 5)
	}
	h.emit(domain.Reasoning{RequestID: id, Step: 10, Status: domain.StepCompleted, Observation: "done"})

	require.Eventually(t, func() bool { return h.s.Snapshot().Finished() }, 2*time.Second, 5*time.Millisecond)
	v := h.s.Snapshot()
	require.Len(t, v.Trace.Steps, 10)
	assert.Equal(t, domain.StepCompleted, v.Trace.Steps[9].Status)
	assert.Equal(t, "done", v.Trace.Steps[9].Observation)
	assert.True(t, v.Trace.IsCompleted)
}

func TestCompletionThenAnswer(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	done := h.ask("q")
	call := h.query.next(t)
	h.emit(domain.AgentComplete{RequestID: call.q.RequestID})
	assert.False(t, h.s.Snapshot().Finished())

	call.done <- queryReply{res: &domain.QueryResult{Answer: "a"}}
	require.NoError(t, wait(t, done).err)
	assert.True(t, h.s.Snapshot().Finished())
}

func TestQueryFailureKeepsPartialTrace(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	done := h.ask("q")
	call := h.query.next(t)
	h.emit(domain.Reasoning{RequestID: call.q.RequestID, Step: 1, ToolName: "search"})
	call.done <- queryReply{err: domain.ErrQueryFailed}

	r := wait(t, done)
	require.ErrorIs(t, r.err, domain.ErrQueryFailed)

	v := h.s.Snapshot()
	require.NotNil(t, v.Trace)
	require.Len(t, v.Trace.Steps, 1)
	assert.Equal(t, "search", v.Trace.Steps[0].ToolName)
	assert.False(t, v.Trace.IsProcessing)
	assert.NotEmpty(t, v.Err)
	assert.True(t, v.Finished())

	// The backend keeps streaming; nothing more is folded in.
	h.emit(domain.Reasoning{RequestID: call.q.RequestID, Step: 2, ToolName: "late"})
	assert.Len(t, h.s.Snapshot().Trace.Steps, 1)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	done := h.ask("q")
	call := h.query.next(t)
	h.emit(domain.Reasoning{RequestID: call.q.RequestID, Step: 1, ToolName: "search"})

	h.s.Cancel()
	r := wait(t, done)
	assert.ErrorIs(t, r.err, domain.ErrCancelled)
	assert.Error(t, call.ctx.Err())

	h.emit(domain.Reasoning{RequestID: call.q.RequestID, Step: 2, ToolName: "late"})
	v := h.s.Snapshot()
	require.NotNil(t, v.Trace)
	assert.True(t, v.Trace.IsCancelled)
	assert.False(t, v.Trace.IsCompleted)
	assert.Len(t, v.Trace.Steps, 1)
	assert.Nil(t, v.Request)
}

func TestSessionSwitchDiscardsTrace(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	done := h.ask("q")
	call := h.query.next(t)
	h.emit(domain.Reasoning{RequestID: call.q.RequestID, Step: 1})

	require.NoError(t, h.s.OpenSession(context.Background(), "s2"))
	assert.ErrorIs(t, wait(t, done).err, domain.ErrCancelled)

	v := h.s.Snapshot()
	assert.Nil(t, v.Trace)
	assert.Equal(t, "s2", v.SessionID)

	h.emit(domain.Reasoning{RequestID: call.q.RequestID, Step: 2})
	assert.Nil(t, h.s.Snapshot().Trace)
	assert.Equal(t, []string{"join:s1", "leave:s1", "join:s2"}, h.rooms.history())
}

func TestDraftSessionIsAssigned(t *testing.T) {
	h := newHarness(t, time.Hour)
	draft := h.s.OpenDraft(context.Background())
	require.NotEmpty(t, draft)
	assert.True(t, h.s.Snapshot().Provisional)

	var mu sync.Mutex
	var seen []string
	h.s.OnMessage(func(_ context.Context, ev domain.Event) {
		mu.Lock()
		seen = append(seen, ev.Message.(domain.ChatMessage).SessionID)
		mu.Unlock()
	})

	done := h.ask("hello")
	call := h.query.next(t)
	assert.Empty(t, call.q.SessionID)

	// While provisional every session event is accepted.
	h.emit(domain.ChatMessage{SessionID: "s-new", Content: "hi"})

	call.done <- queryReply{res: &domain.QueryResult{SessionID: "s-new", Answer: "a"}}
	require.NoError(t, wait(t, done).err)

	v := h.s.Snapshot()
	assert.Equal(t, "s-new", v.SessionID)
	assert.False(t, v.Provisional)
	assert.Equal(t, []string{"join:s-new"}, h.rooms.history())

	h.emit(domain.ChatMessage{SessionID: "s-other", Content: "nope"})
	h.emit(domain.ChatMessage{SessionID: "s-new", Content: "yes"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"s-new", "s-new"}, seen)
}

func TestOnMessageFiltersOtherSessions(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	var got []domain.EventType
	h.s.OnMessage(func(_ context.Context, ev domain.Event) { got = append(got, ev.Type) })

	h.emit(domain.ChatMessage{SessionID: "s2", Content: "x"})
	h.emit(domain.ChatTyping{SessionID: "s1", IsTyping: true})
	h.emit(domain.ChatMessage{SessionID: "s1", Content: "y"})

	assert.Equal(t, []domain.EventType{domain.EventChatTyping, domain.EventChatMessage}, got)
}

func TestWatchReceivesOrderedViews(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))

	var mu sync.Mutex
	var steps []int
	unsub := h.s.Watch(func(v View) {
		mu.Lock()
		defer mu.Unlock()
		if v.Trace != nil {
			steps = append(steps, len(v.Trace.Steps))
		}
	})
	defer unsub()

	done := h.ask("q")
	call := h.query.next(t)
	for i := 1; i <= 3; i++ {
		h.emit(domain.Reasoning{RequestID: call.q.RequestID, Step: i})
	}
	call.done <- queryReply{err: errors.New("boom")}
	wait(t, done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 3}, steps)
}

func TestAskValidation(t *testing.T) {
	h := newHarness(t, time.Hour)
	_, err := h.s.Ask(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, h.s.OpenSession(context.Background(), ""), domain.ErrInvalidInput)
}

func TestClosedSurface(t *testing.T) {
	h := newHarness(t, time.Hour)
	require.NoError(t, h.s.OpenSession(context.Background(), "s1"))
	h.s.Close(context.Background())
	h.s.Close(context.Background())

	_, err := h.s.Ask(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.Equal(t, []string{"join:s1", "leave:s1"}, h.rooms.history())
}
