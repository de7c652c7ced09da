// Package integration runs the stream client against the in-process
// development backend.
package integration

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tutorstream/internal/adapter/api"
	"tutorstream/internal/adapter/gateway"
	"tutorstream/internal/adapter/wsclient"
	"tutorstream/internal/domain"
	"tutorstream/internal/infra/config"
	"tutorstream/internal/infra/observe"
	"tutorstream/internal/usecase/chat"
	"tutorstream/internal/usecase/connection"
	"tutorstream/internal/usecase/rooms"
)

// Tokens accepted by StartBackend.
var Tokens = []config.SimTokenConfig{
	{Name: "alice", UserID: "alice", Token: "alice-token"},
	{Name: "bob", UserID: "bob", Token: "bob-token"},
}

// Backend is a running development backend.
type Backend struct {
	Server *gateway.Server
	WSURL  string
	APIURL string
}

// StartBackend serves the gateway and simulator on a random local port.
func StartBackend(t *testing.T, opts ...gateway.SimulatorOption) *Backend {
	t.Helper()
	auth := gateway.NewStaticTokenAuth(Tokens)
	srv := gateway.NewServer(auth, "127.0.0.1:0", slog.Default())
	sim := gateway.NewSimulator(srv, auth, opts...)
	srv.RegisterHTTPRoute(api.QueryPath, sim)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Stop(context.Background())
		hs.Close()
	})
	return &Backend{
		Server: srv,
		WSURL:  "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws",
		APIURL: hs.URL,
	}
}

// Client is one wired stream client.
type Client struct {
	Manager *connection.Manager
	Rooms   *rooms.Tracker
	Surface *chat.Surface
	Metrics *observe.Metrics
}

// NewClient wires a client for b without connecting it.
func NewClient(t *testing.T, b *Backend, token string) *Client {
	t.Helper()
	metrics := observe.NewMetrics()
	obs := observe.Multi{metrics, observe.NewLogObserver(slog.Default())}

	mgr := connection.New(wsclient.Dialer{URL: b.WSURL},
		connection.WithObserver(obs),
		connection.WithBackoff(connection.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond, NoJitter: true}),
		connection.WithMaxAttempts(20),
		connection.WithHeartbeatInterval(0),
	)
	tracker := rooms.New(mgr, rooms.WithObserver(obs))
	query := api.NewClient(b.APIURL, token, config.QueryConfig{Timeout: 10 * time.Second})
	surface := chat.New(chat.Deps{
		Events:          mgr,
		Rooms:           tracker,
		Query:           query,
		Observer:        obs,
		CompletionGrace: time.Second,
	})

	t.Cleanup(func() {
		surface.Close(context.Background())
		tracker.Close()
		mgr.Close()
	})
	return &Client{Manager: mgr, Rooms: tracker, Surface: surface, Metrics: metrics}
}

// Connect connects c as userID and waits for authentication.
func (c *Client) Connect(t *testing.T, userID, token string) {
	t.Helper()
	ctx := NewTestContext(t, 5*time.Second)
	if _, err := c.Manager.Connect(ctx, domain.Credentials{UserID: userID, Token: token}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := c.Manager.WaitFor(ctx, domain.StateAuthenticated); err != nil {
		t.Fatalf("wait for authenticated: %v", err)
	}
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}
