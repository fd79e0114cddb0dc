package irisfast

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func newBridge(t *testing.T, h fasthttp.RequestHandler) *Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = (&fasthttp.Server{Handler: h}).Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })
	return NewClient("http://iris.local", WithDial(func(string) (net.Conn, error) { return ln.Dial() }), WithTimeout(2*time.Second))
}

func TestSendMessagePostsReply(t *testing.T) {
	var got ReplyRequest
	var path string
	c := newBridge(t, func(ctx *fasthttp.RequestCtx) {
		path = string(ctx.Path())
		_ = json.Unmarshal(ctx.PostBody(), &got)
	})

	require.NoError(t, c.SendMessage(context.Background(), "room1", "hello"))
	assert.Equal(t, "/reply", path)
	assert.Equal(t, ReplyRequest{Type: "text", Room: "room1", Data: "hello"}, got)

	assert.Error(t, c.SendMessage(context.Background(), " ", "hello"))
}

func TestSendMessageRetriesGatewayErrors(t *testing.T) {
	var calls int32
	c := newBridge(t, func(ctx *fasthttp.RequestCtx) {
		if atomic.AddInt32(&calls, 1) == 1 {
			ctx.SetStatusCode(fasthttp.StatusBadGateway)
		}
	})

	require.NoError(t, c.SendMessage(context.Background(), "room1", "hi"))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSendMessageStopsOnClientErrors(t *testing.T) {
	var calls int32
	c := newBridge(t, func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("unknown room")
	})

	err := c.SendMessage(context.Background(), "room1", "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, fasthttp.StatusBadRequest, apiErr.Status)
	assert.False(t, apiErr.Temporary())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestBackoffCaps(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, backoff(1))
	assert.Equal(t, 400*time.Millisecond, backoff(3))
	assert.Equal(t, backoff(6), backoff(20))
}

func TestGetConfig(t *testing.T) {
	c := newBridge(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"bot_http_port":3000,"db_polling_rate":100,"message_send_rate":50,"web_server_endpoint":"http://x"}`)
	})
	cfg, err := c.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "http://x", cfg.WebserverEndpoint)
}

func TestMessageIdentity(t *testing.T) {
	name := "Ann"
	m := &Message{Sender: &name, JSON: &MessageJSON{UserID: "42"}}
	assert.Equal(t, "42", m.UserID())
	assert.Equal(t, "Ann", m.SenderName())

	m = &Message{Sender: &name}
	assert.Equal(t, "Ann", m.UserID())
	assert.Equal(t, "", (*Message)(nil).UserID())
}

func TestWebSocketDeliversMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		_ = wsjson.Write(r.Context(), conn, Message{Msg: "!join", Room: "room1", JSON: &MessageJSON{UserID: "7"}})
		var reply ReplyRequest
		if err := wsjson.Read(r.Context(), conn, &reply); err == nil {
			_ = wsjson.Write(r.Context(), conn, Message{Msg: "echo:" + reply.Data, Room: reply.Room})
		}
		for {
			if _, _, err := conn.Read(context.Background()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), 0, 0)
	got := make(chan *Message, 4)
	ws.OnMessage(func(m *Message) { got <- m })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.Connect(ctx))
	defer ws.Close(ctx)

	select {
	case m := <-got:
		assert.Equal(t, "!join", m.Msg)
		assert.Equal(t, "7", m.UserID())
	case <-ctx.Done():
		t.Fatalf("no message")
	}

	eg := NewEgress("ws", false, nil, ws, nil)
	require.NoError(t, eg.SendText(ctx, "room1", "pong"))
	select {
	case m := <-got:
		assert.Equal(t, "echo:pong", m.Msg)
	case <-ctx.Done():
		t.Fatalf("no echo")
	}
}
