// Package textgen asks an HTTP text-generation backend for the bot player's chat lines.
// The backend speaks the common chat-completions JSON shape.
package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Line is one chat line shown to the model.
type Line struct {
	Author  string
	Content string
}

// Prompt is everything the generator gets for one reply.
type Prompt struct {
	Instructions string
	Transcript   []Line
}

// Generator produces one chat line for the bot player.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type Client struct {
	url     string
	apiKey  string
	model   string
	http    *fasthttp.Client
	limiter *rate.Limiter

	timeout  time.Duration
	attempts int
}

type Option func(*Client)

func WithAPIKey(k string) Option { return func(c *Client) { c.apiKey = strings.TrimSpace(k) } }

func WithModel(m string) Option { return func(c *Client) { c.model = strings.TrimSpace(m) } }

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRate caps requests per second; rps <= 0 disables the limit.
func WithRate(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithDial replaces the network dialer, mainly for in-memory servers in tests.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:      strings.TrimSpace(url),
		http:     &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		limiter:  rate.NewLimiter(rate.Limit(2), 1),
		timeout:  20 * time.Second,
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func buildMessages(p Prompt) []chatMessage {
	msgs := make([]chatMessage, 0, len(p.Transcript)+1)
	if s := strings.TrimSpace(p.Instructions); s != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: s})
	}
	for _, l := range p.Transcript {
		msgs = append(msgs, chatMessage{Role: "user", Content: l.Author + ": " + l.Content})
	}
	return msgs
}

// Generate asks the backend for a reply, retrying transient failures. Exhausted attempts
// return game.ErrGenerationFailed.
func (c *Client) Generate(ctx context.Context, p Prompt) (string, error) {
	payload, err := json.Marshal(chatRequest{Model: c.model, Messages: buildMessages(p), MaxTokens: 120, Temperature: 0.9})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		text, retry, err := c.do(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		obslog.L().Warn("textgen_attempt_failed", zap.Int("attempt", attempt), zap.Error(err))
		if !retry || attempt == c.attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %v", game.ErrGenerationFailed, lastErr)
}

func (c *Client) do(ctx context.Context, payload []byte) (string, bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.SetBody(payload)

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return "", shouldRetryStatus(status), fmt.Errorf("textgen api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
	}
	var out chatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", false, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", true, errors.New("empty completion")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), false, nil
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
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

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
