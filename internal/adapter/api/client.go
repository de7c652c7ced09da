// Package api is the REST client for the query endpoint that starts a
// reasoning stream.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"tutorstream/internal/domain"
	"tutorstream/internal/infra/config"
	"tutorstream/internal/infra/tracer"
)

// QueryPath is the endpoint the client posts queries to.
const QueryPath = "/api/chat/query"

// maxResponseBody bounds how much of a response body is read.
const maxResponseBody = 1 << 20

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// Client sends queries to the backend. Calls are paced by a token bucket
// and routed through a circuit breaker.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*domain.QueryResult]
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a query client for baseURL authenticating with token.
func NewClient(baseURL, token string, cfg config.QueryConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	c.limiter = rate.NewLimiter(limit, burst)

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Breaker.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	c.breaker = gobreaker.NewCircuitBreaker[*domain.QueryResult](gobreaker.Settings{
		Name:        "query:" + c.baseURL,
		MaxRequests: 1,
		Interval:    defaultCBInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: breakerSuccess,
	})
	return c
}

// breakerSuccess keeps caller-side failures from tripping the breaker:
// a rejected token or a cancelled call says nothing about backend health.
func breakerSuccess(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrAuthInvalid) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, context.Canceled)
}

type queryRequest struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Send implements domain.QueryClient.
func (c *Client) Send(ctx context.Context, q domain.Query) (*domain.QueryResult, error) {
	ctx, span := tracer.StartSpan(ctx, "api.query",
		trace.WithAttributes(
			tracer.StringAttr("request_id", q.RequestID),
			tracer.StringAttr("session_id", q.SessionID),
		),
	)
	defer span.End()

	if q.RequestID == "" {
		err := domain.NewDomainError("api.Send", domain.ErrInvalidInput, "request id is required")
		tracer.RecordError(span, err)
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", domain.ErrRateLimit, err)
	}

	res, err := c.breaker.Execute(func() (*domain.QueryResult, error) {
		return c.post(ctx, q)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", domain.ErrCircuitOpen, err)
		}
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return res, nil
}

// BreakerState reports the circuit breaker state for monitoring.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) post(ctx context.Context, q domain.Query) (*domain.QueryResult, error) {
	body, err := json.Marshal(queryRequest{RequestID: q.RequestID, SessionID: q.SessionID, Message: q.Content})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+QueryPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrQueryFailed, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrQueryFailed, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	var res domain.QueryResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrQueryFailed, err)
	}
	return &res, nil
}

// mapHTTPError converts a non-2xx response into a domain error carrying
// the server's message.
func mapHTTPError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrQueryFailed, status, msg)
	}
}

var _ domain.QueryClient = (*Client)(nil)
