package textgen

import (
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestServer(t *testing.T, h fasthttp.RequestHandler) *fasthttputil.InmemoryListener {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func newTestClient(ln *fasthttputil.InmemoryListener, opts ...Option) *Client {
	base := []Option{
		WithDial(func(string) (net.Conn, error) { return ln.Dial() }),
		WithRate(0),
		WithTimeout(2 * time.Second),
	}
	return NewClient("http://textgen.local/v1/chat/completions", append(base, opts...)...)
}

func reply(ctx *fasthttp.RequestCtx, content string) {
	ctx.SetContentType("application/json")
	raw, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	ctx.SetBody(raw)
}

func TestGenerateSendsPromptAndReturnsText(t *testing.T) {
	var got chatRequest
	var auth string
	ln := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		auth = string(ctx.Request.Header.Peek("Authorization"))
		_ = json.Unmarshal(ctx.PostBody(), &got)
		reply(ctx, "  lol same  ")
	})
	c := newTestClient(ln, WithAPIKey("k1"), WithModel("m1"))

	out, err := c.Generate(context.Background(), Prompt{
		Instructions: "be casual",
		Transcript:   []Line{{Author: "Ann", Content: "hi all"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "lol same", out)
	assert.Equal(t, "Bearer k1", auth)
	assert.Equal(t, "m1", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "Ann: hi all", got.Messages[1].Content)
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var calls int32
	ln := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) < 3 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		reply(ctx, "finally")
	})
	c := newTestClient(ln)

	out, err := c.Generate(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.Equal(t, "finally", out)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestGenerateGivesUpAfterThreeAttempts(t *testing.T) {
	var calls int32
	ln := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		reply(ctx, "   ")
	})
	c := newTestClient(ln)

	_, err := c.Generate(context.Background(), Prompt{})
	require.Error(t, err)
	assert.ErrorIs(t, err, game.ErrGenerationFailed)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	ln := newTestServer(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	})
	c := newTestClient(ln)

	_, err := c.Generate(context.Background(), Prompt{})
	assert.ErrorIs(t, err, game.ErrGenerationFailed)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCannedPicksFromLines(t *testing.T) {
	c := NewCanned(rand.New(rand.NewSource(1)), "only")
	out, err := c.Generate(context.Background(), Prompt{})
	require.NoError(t, err)
	assert.Equal(t, "only", out)
}
