package irisfast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// HeaderProvider supplies headers attached to every request and handshake.
type HeaderProvider func() map[string]string

// APIError is a non-2xx answer from Iris.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("iris api error: status=%d body=%s", e.Status, e.Body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *APIError) Temporary() bool {
	switch e.Status {
	case fasthttp.StatusTooManyRequests, fasthttp.StatusInternalServerError, fasthttp.StatusBadGateway,
		fasthttp.StatusServiceUnavailable, fasthttp.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client talks to the Iris HTTP API.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	headers HeaderProvider

	timeout  time.Duration
	attempts int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *Client) { c.headers = h }
}

// WithRetry sets how many times a retryable request is attempted in total.
func WithRetry(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
	}
}

// WithDial replaces the network dialer, mainly for in-memory servers in tests.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &fasthttp.Client{
			Name:            "impostor-bot",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 64,
		},
		timeout:  10 * time.Second,
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetConfig reads the bridge settings. It doubles as a liveness probe.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.call(ctx, fasthttp.MethodGet, "/config", nil, &cfg, 1); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SendMessage posts text into room. Gateway errors are retried.
func (c *Client) SendMessage(ctx context.Context, room, message string) error {
	if strings.TrimSpace(room) == "" {
		return errors.New("send message: empty room")
	}
	return c.call(ctx, fasthttp.MethodPost, "/reply", &ReplyRequest{Type: "text", Room: room, Data: message}, nil, c.attempts)
}

func (c *Client) call(ctx context.Context, method, path string, in, out any, attempts int) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		req.SetBody(payload)
	}

	var err error
	for attempt := 1; ; attempt++ {
		var body []byte
		body, err = c.once(ctx, req)
		if err == nil {
			if out == nil {
				return nil
			}
			if derr := json.Unmarshal(body, out); derr != nil {
				return fmt.Errorf("decode %s: %w", path, derr)
			}
			return nil
		}
		if attempt >= attempts || !retryable(err) {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		obslog.L().Debug("iris_retry", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(err))
		if serr := sleepWithContext(ctx, backoff(attempt)); serr != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
	}
}

// once performs one round trip and returns a copy of the 2xx body.
func (c *Client) once(ctx context.Context, req *fasthttp.Request) ([]byte, error) {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)
	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return nil, err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return nil, &APIError{Status: code, Body: truncate(string(resp.Body()), 512)}
	}
	return append([]byte(nil), resp.Body()...), nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

// retryable treats transport failures and temporary API errors as worth repeating.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff doubles from 100ms and stops growing after 3.2s.
func backoff(attempt int) time.Duration {
	attempt = max(1, min(attempt, 6))
	return (100 * time.Millisecond) << (attempt - 1)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
