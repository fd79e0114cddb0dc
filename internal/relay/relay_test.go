package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct{ room, text string }

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeSender) SendText(_ context.Context, room, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{room, text})
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewStore(rdb)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "Round 1", Format(game.Message{Kind: game.KindSystem, Content: "Round 1"}))
	assert.Equal(t, "Ann: hi", Format(game.Message{Kind: game.KindUser, AuthorName: "Ann", Content: "hi"}))
	assert.Equal(t, "💬 why?", Format(game.Message{Kind: game.KindIcebreaker, Content: "why?"}))
	assert.Empty(t, Format(game.Message{Kind: game.KindBotPicked, Content: "p1"}))
	assert.Empty(t, Format(game.Message{Kind: game.KindStatus, Content: "voting"}))
}

func TestHandleForwardsInOrderAndSkipsSecrets(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateGame(ctx, &game.Game{ID: "g1", Room: "room1", Status: game.StatusTalkingWarmup}))
	out := &fakeSender{}
	r := New(st, out)

	_, err := st.AppendMessage(ctx, "g1", game.Message{Kind: game.KindSystem, Content: "before"})
	require.NoError(t, err)
	first, err := st.AppendMessage(ctx, "g1", game.Message{Kind: game.KindSystem, Content: "welcome"})
	require.NoError(t, err)
	_, err = st.AppendMessage(ctx, "g1", game.Message{Kind: game.KindBotPicked, Content: "p2"})
	require.NoError(t, err)
	last, err := st.AppendMessage(ctx, "g1", game.Message{Kind: game.KindUser, AuthorName: "Bo", Content: "yo"})
	require.NoError(t, err)

	require.NoError(t, r.Handle(ctx, store.Event{Table: store.TableMessages, Op: store.OpInsert, GameID: "g1", RowID: first.ID}))
	// events for messages already forwarded are no-ops
	require.NoError(t, r.Handle(ctx, store.Event{Table: store.TableMessages, Op: store.OpInsert, GameID: "g1", RowID: last.ID}))

	assert.Equal(t, []string{"welcome", "Bo: yo"}, out.texts())
	out.mu.Lock()
	assert.Equal(t, "room1", out.sent[0].room)
	out.mu.Unlock()
}

func TestRunFollowsLiveEvents(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, st.CreateGame(ctx, &game.Game{ID: "g1", Room: "room1", Status: game.StatusLobby}))
	out := &fakeSender{}
	r := New(st, out)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// give the subscription time to register
	require.Eventually(t, func() bool {
		_, err := st.AppendMessage(ctx, "g1", game.Message{Kind: game.KindSystem, Content: "ping"})
		require.NoError(t, err)
		return len(out.texts()) > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("relay did not stop")
	}
	for _, txt := range out.texts() {
		assert.Equal(t, "ping", txt)
	}
}

func TestOnlyLeaseHolderForwards(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, st.CreateGame(ctx, &game.Game{ID: "g1", Room: "room1", Status: game.StatusLobby}))

	outs := []*fakeSender{{}, {}}
	relays := []*Relay{
		New(st, outs[0], WithLease("one", time.Minute)),
		New(st, outs[1], WithLease("two", time.Minute)),
	}
	done := make(chan error, len(relays))
	for _, r := range relays {
		go func(r *Relay) { done <- r.Run(ctx) }(r)
	}
	require.Eventually(t, func() bool {
		return relays[0].Leader() != relays[1].Leader()
	}, 5*time.Second, 10*time.Millisecond)

	// Run subscribes before it campaigns, so the leader already listens
	total := func() int { return len(outs[0].texts()) + len(outs[1].texts()) }
	for _, c := range []string{"one", "two", "three"} {
		_, err := st.AppendMessage(ctx, "g1", game.Message{Kind: game.KindSystem, Content: c})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return total() >= 3 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, total(), "every line is posted once")

	leader, follower := outs[0], outs[1]
	if relays[1].Leader() {
		leader, follower = outs[1], outs[0]
	}
	assert.Empty(t, follower.texts())
	assert.Equal(t, []string{"one", "two", "three"}, leader.texts())

	cancel()
	for range relays {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("relay did not stop")
		}
	}
}

func TestSweepDropsFinishedGames(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	require.NoError(t, st.CreateGame(ctx, &game.Game{ID: "done", Room: "r1", Status: game.StatusOver}))
	require.NoError(t, st.CreateGame(ctx, &game.Game{ID: "live", Room: "r2", Status: game.StatusTalkingHunt}))
	out := &fakeSender{}
	r := New(st, out, WithClock(clock))

	for _, id := range []string{"done", "live"} {
		m, err := st.AppendMessage(ctx, id, game.Message{Kind: game.KindSystem, Content: "bye " + id})
		require.NoError(t, err)
		require.NoError(t, r.Handle(ctx, store.Event{Table: store.TableMessages, Op: store.OpInsert, GameID: id, RowID: m.ID}))
	}
	require.Len(t, r.cursors, 2)

	r.sweep(now.Add(time.Minute))
	assert.Len(t, r.cursors, 2, "a finished game keeps its cursor for a while")

	r.sweep(now.Add(cursorIdle))
	assert.NotContains(t, r.cursors, "done")
	assert.Contains(t, r.cursors, "live")

	r.sweep(now.Add(cursorStale))
	assert.Empty(t, r.cursors)

	// a later line of a swept game is still forwarded once
	m, err := st.AppendMessage(ctx, "done", game.Message{Kind: game.KindSystem, Content: "late"})
	require.NoError(t, err)
	require.NoError(t, r.Handle(ctx, store.Event{Table: store.TableMessages, Op: store.OpInsert, GameID: "done", RowID: m.ID}))
	assert.Equal(t, []string{"bye done", "bye live", "late"}, out.texts())
}
