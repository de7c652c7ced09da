// Package wsclient is the WebSocket transport of the connection manager.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"tutorstream/internal/adapter/gateway"
	"tutorstream/internal/domain"
	"tutorstream/internal/usecase/connection"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 1 << 20
	maxCloseReason      = 123 // RFC 6455 control frame payload minus status code
)

// Dialer opens WebSocket connections to URL.
type Dialer struct {
	URL          string
	WriteTimeout time.Duration
	ReadLimit    int64
	Header       http.Header
	HTTPClient   *http.Client
}

// Dial implements connection.Dialer.
func (d Dialer) Dial(ctx context.Context) (connection.Conn, error) {
	ws, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: d.Header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	ws.SetReadLimit(limit)

	wt := d.WriteTimeout
	if wt <= 0 {
		wt = defaultWriteTimeout
	}
	return &Conn{ws: ws, writeTimeout: wt}, nil
}

// Conn is one WebSocket connection speaking {"event","data"} frames.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// Receive blocks until the next frame arrives and decodes it. Frames that
// are not valid JSON become domain.Malformed instead of failing the read.
func (c *Conn) Receive(ctx context.Context) (domain.Event, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	if typ != websocket.MessageText {
		return domain.NewEvent(domain.Malformed{Reason: "binary frame"}), nil
	}
	var f gateway.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.NewEvent(domain.Malformed{Reason: "invalid frame: " + err.Error(), Data: data}), nil
	}
	return domain.NewEvent(gateway.Decode(f)), nil
}

// Send encodes and writes one frame.
func (c *Conn) Send(ctx context.Context, event domain.EventType, payload any) error {
	f, err := gateway.Encode(event, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, f); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// Close performs the closing handshake. Only the first call has an effect.
func (c *Conn) Close(reason string) error {
	c.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		err := c.ws.Close(websocket.StatusNormalClosure, reason)
		var ce websocket.CloseError
		if err != nil && !errors.As(err, &ce) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

var _ connection.Dialer = Dialer{}
