package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/archive"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/config"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/engine"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/irisfast"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/msgcat"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/store"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/textgen"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct{ room, text string }

type fakeOut struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeOut) SendText(_ context.Context, room, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{room, text})
	return nil
}

func (f *fakeOut) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.msgs, "expected a reply")
	return f.msgs[len(f.msgs)-1]
}

func (f *fakeOut) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeWins []archive.PlayerScore

func (f fakeWins) WinsByRoom(context.Context, string, int) ([]archive.PlayerScore, error) {
	return f, nil
}

type fixture struct {
	r   *router
	st  *store.Store
	out *fakeOut
	cat *msgcat.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.NewStore(rdb)
	cat, err := msgcat.New("")
	require.NoError(t, err)

	cfg := &config.AppConfig{BotPrefix: "!", DefaultLang: "en", AllowedRooms: []string{"room", "other"}}
	eng := engine.New(st, textgen.NewCanned(rand.New(rand.NewSource(1)), "ok"), cat,
		engine.Config{Rules: game.Rules{MinPlayers: 3}, Prefix: "!"},
		engine.WithRand(rand.New(rand.NewSource(3))), engine.WithInlineBotTurns())
	out := &fakeOut{}
	return &fixture{r: &router{cfg: cfg, eng: eng, cat: cat, out: out}, st: st, out: out, cat: cat}
}

func message(room, user, text string) *irisfast.Message {
	name := strings.ToUpper(user)
	return &irisfast.Message{Msg: text, Room: room, Sender: &name, JSON: &irisfast.MessageJSON{UserID: user}}
}

func (f *fixture) send(room, user, text string) {
	f.r.Handle(context.Background(), message(room, user, text))
}

func (f *fixture) text(key string, data map[string]any) string {
	if data == nil {
		data = map[string]any{}
	}
	data["Prefix"] = "!"
	return f.cat.Must("en", key, data)
}

func (f *fixture) roomGame(t *testing.T) *game.Game {
	t.Helper()
	id, err := f.st.GameIDByRoom(context.Background(), "room")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	g, err := f.st.LoadGame(context.Background(), id)
	require.NoError(t, err)
	return g
}

func TestHelpAndUnknownCommand(t *testing.T) {
	f := newFixture(t)
	f.send("room", "a", "!")
	assert.Equal(t, sent{"room", f.text("cmd.help", nil)}, f.out.last(t))

	f.send("room", "a", "!help")
	assert.Equal(t, 2, f.out.count())
}

func TestIgnoresDisallowedRoomAndEmptyText(t *testing.T) {
	f := newFixture(t)
	f.send("elsewhere", "a", "!help")
	f.send("room", "a", "   ")
	assert.Zero(t, f.out.count())
}

func TestJoinWithoutGame(t *testing.T) {
	f := newFixture(t)
	f.send("room", "a", "!join")
	assert.Equal(t, f.text("cmd.no_game", nil), f.out.last(t).text)
}

func TestNewJoinStart(t *testing.T) {
	f := newFixture(t)
	f.send("room", "a", "!new fr")
	g := f.roomGame(t)
	assert.Equal(t, game.LangFR, g.Lang)
	require.Len(t, g.Players, 1, "the creator joins automatically")
	assert.Equal(t, "A", g.Players[0].Name)

	f.send("room", "a", "!new")
	assert.Equal(t, f.cat.Must("fr", "cmd.game_running", map[string]any{"Prefix": "!"}), f.out.last(t).text)

	f.send("room", "a", "!join")
	assert.Equal(t, f.cat.Must("fr", "cmd.already_joined", map[string]any{"Prefix": "!"}), f.out.last(t).text)

	f.send("room", "b", "!join")
	f.send("room", "b", "!start")
	assert.Equal(t, f.cat.Must("fr", "cmd.not_enough_players", map[string]any{"Prefix": "!", "Min": 3}), f.out.last(t).text)

	f.send("room", "z", "!start")
	assert.Equal(t, f.cat.Must("fr", "cmd.not_in_game", map[string]any{"Prefix": "!"}), f.out.last(t).text)

	f.send("room", "c", "!join")
	f.send("room", "c", "!start")
	assert.Equal(t, game.StatusTalkingWarmup, f.roomGame(t).Status)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	f.send("room", "a", "!new")
	f.send("room", "b", "!join")
	f.send("room", "b", "!leave")
	assert.Len(t, f.roomGame(t).Players, 1)

	f.send("room", "b", "!leave")
	assert.Equal(t, f.text("cmd.not_in_game", nil), f.out.last(t).text)
}

func startedGame(t *testing.T, f *fixture) *game.Game {
	t.Helper()
	f.send("room", "a", "!new")
	f.send("room", "b", "!join")
	f.send("room", "c", "!join")
	f.send("room", "a", "!start")
	g := f.roomGame(t)
	require.Equal(t, game.StatusTalkingWarmup, g.Status)
	return g
}

func userLines(t *testing.T, f *fixture, gameID string) []game.Message {
	t.Helper()
	msgs, err := f.st.Messages(context.Background(), gameID)
	require.NoError(t, err)
	var out []game.Message
	for _, m := range msgs {
		if m.Kind == game.KindUser {
			out = append(out, m)
		}
	}
	return out
}

func TestPrivateChatBecomesGameLine(t *testing.T) {
	f := newFixture(t)
	g := startedGame(t, f)
	humans := g.Humans()
	require.NotEmpty(t, humans)
	h := humans[0]

	before := len(userLines(t, f, g.ID))
	f.send("dm-"+h.ID, h.ID, "hello all")
	lines := userLines(t, f, g.ID)
	require.Greater(t, len(lines), before)
	assert.Equal(t, h.ID, lines[before].ProfileID)
	assert.Equal(t, "hello all", lines[before].Content)
}

func TestBotControlledPlayerIsTold(t *testing.T) {
	f := newFixture(t)
	g := startedGame(t, f)
	bot, ok := g.BotPlayer()
	require.True(t, ok)

	f.send("dm-"+bot.ID, bot.ID, "me too")
	assert.Equal(t, sent{"dm-" + bot.ID, f.text("cmd.bot_controlled", nil)}, f.out.last(t))
}

func TestChatInGameRoomIsIgnored(t *testing.T) {
	f := newFixture(t)
	g := startedGame(t, f)
	before := len(userLines(t, f, g.ID))

	f.send("room", g.Humans()[0].ID, "talking in the open")
	assert.Len(t, userLines(t, f, g.ID), before)
}

func TestChatFromStrangerIsIgnored(t *testing.T) {
	f := newFixture(t)
	startedGame(t, f)
	n := f.out.count()
	f.send("dm-x", "x", "who are you")
	assert.Equal(t, n, f.out.count())
}

func votingGame(t *testing.T, f *fixture) *game.Game {
	t.Helper()
	ctx := context.Background()
	g := &game.Game{ID: "g-vote", Room: "room", Status: game.StatusVoting, Lang: game.LangEN, Round: 2}
	require.NoError(t, f.st.CreateGame(ctx, g))
	require.NoError(t, f.st.BindRoom(ctx, "room", g.ID))
	for _, p := range []game.Player{{ID: "a", Name: "Ana", Score: 2}, {ID: "b", Name: "Bo", Score: 4}, {ID: "c", Name: "Cy", IsBot: true}, {ID: "d", Name: "Dee"}} {
		_, err := f.st.AddPlayerNX(ctx, g.ID, p)
		require.NoError(t, err)
	}
	return f.roomGame(t)
}

func TestVoteCommands(t *testing.T) {
	f := newFixture(t)
	votingGame(t, f)

	f.send("room", "a", "!vote nobody")
	assert.Equal(t, f.text("cmd.invalid_vote", map[string]any{"Target": "nobody"}), f.out.last(t).text)

	f.send("room", "a", "!vote Ana")
	assert.Equal(t, f.text("cmd.invalid_vote", map[string]any{"Target": "Ana"}), f.out.last(t).text, "no self votes")

	f.send("room", "c", "!vote Ana")
	assert.Equal(t, f.text("cmd.bot_controlled", nil), f.out.last(t).text)

	n := f.out.count()
	f.send("room", "a", "!vote @bo")
	f.send("room", "b", "!blank")
	assert.Equal(t, n, f.out.count(), "accepted votes are narrated by the game, not replied to")

	p, err := f.st.Player(context.Background(), "g-vote", "a")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Vote)
}

func TestVoteOutsideVoting(t *testing.T) {
	f := newFixture(t)
	startedGame(t, f)
	f.send("room", "a", "!vote B")
	assert.Equal(t, f.text("cmd.not_voting", nil), f.out.last(t).text)
	f.send("room", "a", "!blank")
	assert.Equal(t, f.text("cmd.not_voting", nil), f.out.last(t).text)
}

func TestScore(t *testing.T) {
	f := newFixture(t)
	votingGame(t, f)
	f.send("room", "a", "!score")

	want := strings.Join([]string{
		f.text("cmd.scoreboard_header", map[string]any{"Round": 2}),
		f.text("cmd.scoreboard_line", map[string]any{"Rank": 1, "Name": "Bo", "Score": 4}),
		f.text("cmd.scoreboard_line", map[string]any{"Rank": 2, "Name": "Ana", "Score": 2}),
		f.text("cmd.scoreboard_line", map[string]any{"Rank": 3, "Name": "Cy", "Score": 0}),
		f.text("cmd.scoreboard_line", map[string]any{"Rank": 4, "Name": "Dee", "Score": 0}),
	}, "\n")
	assert.Equal(t, want, f.out.last(t).text)
}

func TestTop(t *testing.T) {
	f := newFixture(t)
	f.send("room", "a", "!top")
	assert.Equal(t, f.text("cmd.top_empty", nil), f.out.last(t).text)

	f.r.wins = fakeWins{{ID: "a", Name: "Ana", Score: 3}}
	f.send("room", "a", "!top")
	assert.Equal(t, f.text("cmd.top_header", nil)+"\n"+f.text("cmd.top_line", map[string]any{"Rank": 1, "Name": "Ana", "Wins": 3}), f.out.last(t).text)
}

func TestErrorKey(t *testing.T) {
	cases := map[error]string{
		game.ErrBotControlled:                              "cmd.bot_controlled",
		fmt.Errorf("x: %w", game.ErrConcurrentTransition):  "cmd.busy",
		game.ErrNotFound:                                   "cmd.not_in_game",
		game.ErrNotEnoughPlayers:                           "cmd.not_enough_players",
		game.ErrInvalidVote:                                "cmd.invalid_vote",
		fmt.Errorf("start: %w", game.ErrInvalidTransition): "cmd.game_running",
		game.ErrInvalidState:                               "cmd.game_running",
		errors.New("redis down"):                           "cmd.failed",
	}
	for err, want := range cases {
		assert.Equal(t, want, errorKey(err), err.Error())
	}
}
