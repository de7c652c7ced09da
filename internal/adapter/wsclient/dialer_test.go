package wsclient

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"tutorstream/internal/adapter/gateway"
	"tutorstream/internal/domain"
	"tutorstream/internal/infra/config"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func startGateway(t *testing.T) (*gateway.Server, string) {
	t.Helper()
	auth := gateway.NewStaticTokenAuth([]config.SimTokenConfig{{Name: "dev", UserID: "alice", Token: "tok"}})
	srv := gateway.NewServer(auth, "127.0.0.1:0", slog.Default())
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop(context.Background())
		hs.Close()
	})
	return srv, wsURL(hs.URL)
}

func dial(t *testing.T, url string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dialer{URL: url}.Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close("test done") })
	return c.(*Conn)
}

func receive(t *testing.T, c *Conn) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := c.Receive(ctx)
	require.NoError(t, err)
	return ev
}

func TestConnAuthenticatesAgainstGateway(t *testing.T) {
	_, url := startGateway(t)
	c := dial(t, url)

	require.NoError(t, c.Send(context.Background(), domain.EventAuthenticate,
		domain.AuthenticatePayload{UserID: "alice", Token: "tok"}))

	ev := receive(t, c)
	assert.Equal(t, domain.EventAuthenticated, ev.Type)
	assert.Equal(t, domain.Authenticated{Success: true, UserID: "alice"}, ev.Message)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestConnPingPong(t *testing.T) {
	_, url := startGateway(t)
	c := dial(t, url)

	require.NoError(t, c.Send(context.Background(), domain.EventPing, struct{}{}))
	assert.Equal(t, domain.Pong{}, receive(t, c).Message)
}

func TestConnReceivesRoomBroadcast(t *testing.T) {
	srv, url := startGateway(t)
	c := dial(t, url)

	require.NoError(t, c.Send(context.Background(), domain.EventAuthenticate,
		domain.AuthenticatePayload{UserID: "alice", Token: "tok"}))
	receive(t, c)

	msg := domain.Reasoning{RequestID: "r1", Step: 1, Status: domain.StepExecuting}
	require.Equal(t, 1, srv.EmitToUser("alice", msg))
	assert.Equal(t, msg, receive(t, c).Message)
}

func TestConnDecodesBadFramesWithoutFailing(t *testing.T) {
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		_ = ws.Write(ctx, websocket.MessageText, []byte(`not json`))
		_ = ws.Write(ctx, websocket.MessageBinary, []byte{0x01})
		_ = ws.Write(ctx, websocket.MessageText, []byte(`{"event":"quiz_started","data":{}}`))
		_ = ws.Write(ctx, websocket.MessageText, []byte(`{"event":"reasoning","data":{"request_id":"r1","step":"x"}}`))
		_, _, _ = ws.Read(ctx)
	}))
	defer hs.Close()

	c := dial(t, wsURL(hs.URL))

	m, ok := receive(t, c).Message.(domain.Malformed)
	require.True(t, ok)
	assert.Contains(t, m.Reason, "invalid frame")

	m, ok = receive(t, c).Message.(domain.Malformed)
	require.True(t, ok)
	assert.Equal(t, "binary frame", m.Reason)

	u, ok := receive(t, c).Message.(domain.Unrecognized)
	require.True(t, ok)
	assert.Equal(t, "quiz_started", u.Name)

	m, ok = receive(t, c).Message.(domain.Malformed)
	require.True(t, ok)
	assert.Equal(t, domain.EventReasoning, m.Name)
}

func TestConnCloseIsIdempotentAndEndsReceive(t *testing.T) {
	_, url := startGateway(t)
	c := dial(t, url)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Receive(context.Background())
		errCh <- err
	}()

	first := c.Close("bye")
	assert.Equal(t, first, c.Close("again"))
	assert.Equal(t, first, c.Close(strings.Repeat("x", 500)))

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Receive did not return after Close")
	}
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dialer{URL: "ws://127.0.0.1:1/ws"}.Dial(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial ws://127.0.0.1:1/ws")
}
