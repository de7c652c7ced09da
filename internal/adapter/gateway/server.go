// Package gateway is a development backend speaking the reasoning-stream
// protocol: a WebSocket endpoint with authentication, rooms and heartbeat,
// plus the query endpoint that drives a scripted agent.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tutorstream/internal/domain"
)

const (
	sendQueueSize = 64
	writeTimeout  = 5 * time.Second
)

// UserRoom names the room every connection of an authenticated user joins.
func UserRoom(userID string) string { return "user:" + userID }

// SessionRoom names the room for a chat session.
func SessionRoom(sessionID string) string { return "session:" + sessionID }

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once

	// guarded by Server.mu
	info  *ClientInfo
	rooms map[string]struct{}
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the WebSocket endpoint of the development backend.
type Server struct {
	auth   Authenticator
	codec  *Codec
	logger *slog.Logger
	addr   string

	mu      sync.RWMutex
	clients map[uint64]*clientConn
	rooms   map[string]map[uint64]*clientConn

	nextID     atomic.Uint64
	httpSrv    *http.Server
	boundAddr  atomic.Value // string
	httpRoutes []httpRoute
}

type httpRoute struct {
	pattern string
	handler http.Handler
}

// NewServer creates a gateway server listening on addr.
func NewServer(auth Authenticator, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		auth:    auth,
		codec:   defaultCodec,
		logger:  logger,
		addr:    addr,
		clients: make(map[uint64]*clientConn),
		rooms:   make(map[string]map[uint64]*clientConn),
	}
}

// RegisterHTTPRoute adds an HTTP handler to the server's mux.
// Must be called before Start or Handler.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.Handler) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Handler returns the mux serving /ws, /healthz and registered routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/healthz", s.handleHealth)
	for _, route := range s.httpRoutes {
		mux.Handle(route.pattern, route.handler)
	}
	return mux
}

// Start begins accepting connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr.Store(listener.Addr().String())
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.logger.Info("gateway started", "addr", s.BoundAddr())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop closes every client connection and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*clientConn, 0, len(s.clients))
	for _, cc := range s.clients {
		conns = append(conns, cc)
	}
	s.mu.Unlock()

	for _, cc := range conns {
		cc.close()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
	}

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to, or "" before Start.
func (s *Server) BoundAddr() string {
	v, _ := s.boundAddr.Load().(string)
	return v
}

// Broadcast sends msg to every connection in room and returns how many
// connections it was queued for.
func (s *Server) Broadcast(room string, msg domain.Message) int {
	frame, err := EncodeMessage(msg)
	if err != nil {
		s.logger.Error("gateway: encode broadcast", "event", msg.EventType(), "error", err)
		return 0
	}

	s.mu.RLock()
	members := make([]*clientConn, 0, len(s.rooms[room]))
	for _, cc := range s.rooms[room] {
		members = append(members, cc)
	}
	s.mu.RUnlock()

	sent := 0
	for _, cc := range members {
		if s.enqueue(cc, frame) {
			sent++
		}
	}
	return sent
}

// EmitToUser broadcasts msg to every connection authenticated as userID.
func (s *Server) EmitToUser(userID string, msg domain.Message) int {
	return s.Broadcast(UserRoom(userID), msg)
}

// EmitToSession broadcasts msg to every connection that joined sessionID.
func (s *Server) EmitToSession(sessionID string, msg domain.Message) int {
	return s.Broadcast(SessionRoom(sessionID), msg)
}

// Members returns the number of connections in room.
func (s *Server) Members(room string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms[room])
}

// ClientCount returns the number of open connections.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.ClientCount()})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	cc := &clientConn{
		id:     s.nextID.Add(1),
		ws:     ws,
		sendCh: make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
	s.mu.Lock()
	s.clients[cc.id] = cc
	s.mu.Unlock()

	s.logger.Info("gateway client connected", "conn_id", cc.id)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.close()
	s.remove(cc)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", cc.id)
}

func (s *Server) remove(cc *clientConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, cc.id)
	for room := range cc.rooms {
		s.leaveLocked(cc, room)
	}
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		s.handleFrame(cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) enqueue(cc *clientConn, frame Frame) bool {
	select {
	case <-cc.done:
		return false
	default:
	}
	select {
	case cc.sendCh <- frame:
		return true
	default:
		s.logger.Warn("gateway: dropped frame for slow client", "conn_id", cc.id, "event", frame.Event)
		return false
	}
}

func (s *Server) reply(cc *clientConn, msg domain.Message) {
	frame, err := EncodeMessage(msg)
	if err != nil {
		s.logger.Error("gateway: encode reply", "event", msg.EventType(), "error", err)
		return
	}
	s.enqueue(cc, frame)
}

func (s *Server) handleFrame(cc *clientConn, f Frame) {
	name := domain.EventType(f.Event)
	switch name {
	case domain.EventAuthenticate:
		s.handleAuthenticate(cc, f.Data)
	case domain.EventPing:
		s.reply(cc, domain.Pong{})
	case domain.EventPong:
	case domain.EventJoinChatSession, domain.EventLeaveChatSession:
		s.handleRoom(cc, name, f.Data)
	default:
		s.logger.Debug("gateway: ignoring frame", "conn_id", cc.id, "event", f.Event)
	}
}

func (s *Server) handleAuthenticate(cc *clientConn, data json.RawMessage) {
	var p domain.AuthenticatePayload
	if err := s.codec.DecodeInto(domain.EventAuthenticate, data, &p); err != nil {
		s.reply(cc, domain.Authenticated{Success: false, Error: "invalid authenticate payload"})
		return
	}
	info, err := s.auth.Authenticate(p.Token)
	if err == nil && info.UserID != "" && info.UserID != p.UserID {
		err = domain.ErrAuthInvalid
	}
	if err != nil {
		s.logger.Warn("gateway: authentication rejected", "conn_id", cc.id, "user_id", p.UserID)
		s.reply(cc, domain.Authenticated{Success: false, Error: "invalid credentials"})
		return
	}
	info.UserID = p.UserID

	s.mu.Lock()
	if cc.info != nil {
		s.leaveLocked(cc, UserRoom(cc.info.UserID))
	}
	cc.info = info
	s.joinLocked(cc, UserRoom(info.UserID))
	s.mu.Unlock()

	s.logger.Info("gateway client authenticated", "conn_id", cc.id, "user_id", info.UserID, "client", info.Name)
	s.reply(cc, domain.Authenticated{Success: true, UserID: info.UserID})
}

func (s *Server) handleRoom(cc *clientConn, name domain.EventType, data json.RawMessage) {
	var p domain.RoomPayload
	if err := s.codec.DecodeInto(name, data, &p); err != nil {
		s.logger.Debug("gateway: invalid room payload", "conn_id", cc.id, "event", name, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cc.info == nil {
		s.logger.Debug("gateway: room request before authentication", "conn_id", cc.id, "event", name)
		return
	}
	room := SessionRoom(p.SessionID)
	if name == domain.EventJoinChatSession {
		s.joinLocked(cc, room)
	} else {
		s.leaveLocked(cc, room)
	}
}

func (s *Server) joinLocked(cc *clientConn, room string) {
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[uint64]*clientConn)
		s.rooms[room] = members
	}
	members[cc.id] = cc
	cc.rooms[room] = struct{}{}
}

func (s *Server) leaveLocked(cc *clientConn, room string) {
	delete(cc.rooms, room)
	if members, ok := s.rooms[room]; ok {
		delete(members, cc.id)
		if len(members) == 0 {
			delete(s.rooms, room)
		}
	}
}
