package main

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/archive"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/config"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/engine"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/irisfast"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/msgcat"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/util"
	"go.uber.org/zap"
)

const (
	scoreboardVisible = 10
	topLimit          = 10
)

type winsReader interface {
	WinsByRoom(ctx context.Context, room string, limit int) ([]archive.PlayerScore, error)
}

// router turns Iris chat messages into engine calls. Prefixed messages in a room are commands;
// plain messages from a player outside any game room are that player's chat lines.
type router struct {
	cfg  *config.AppConfig
	eng  *engine.Engine
	cat  *msgcat.Catalog
	wins winsReader
	out  irisfast.Egress
}

func (r *router) Handle(ctx context.Context, msg *irisfast.Message) {
	if msg == nil {
		return
	}
	text := strings.TrimSpace(msg.Msg)
	user := strings.TrimSpace(msg.UserID())
	if text == "" || user == "" {
		return
	}
	if strings.HasPrefix(text, r.cfg.BotPrefix) {
		if !r.cfg.RoomAllowed(msg.Room) {
			obslog.L().Debug("room_not_allowed", zap.String("room", msg.Room))
			return
		}
		r.command(ctx, msg, user, strings.TrimSpace(strings.TrimPrefix(text, r.cfg.BotPrefix)))
		return
	}
	r.chat(ctx, msg, user, text)
}

func (r *router) chat(ctx context.Context, msg *irisfast.Message, user, text string) {
	// chatter inside a game room stays there
	if _, err := r.eng.ActiveGameInRoom(ctx, msg.Room); err == nil {
		return
	}
	g, err := r.eng.GameOfUser(ctx, user)
	if err != nil {
		if !errors.Is(err, game.ErrNotFound) {
			obslog.L().Warn("game_of_user_error", zap.String("user_id", user), zap.Error(err))
		}
		return
	}
	if !g.Status.Talking() {
		return
	}
	if _, err := r.eng.PostMessage(ctx, g.ID, user, text); err != nil {
		r.fail(ctx, msg.Room, g.Lang, err)
	}
}

func (r *router) command(ctx context.Context, msg *irisfast.Message, user, raw string) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		r.reply(ctx, msg.Room, r.cfg.Lang(), "cmd.help")
		return
	}
	name, args := strings.ToLower(fields[0]), fields[1:]
	profile := engine.Profile{ID: user, Name: msg.SenderName()}
	room := msg.Room

	if name == "new" {
		lang := r.cfg.Lang()
		if len(args) > 0 {
			lang = game.ParseLang(args[0])
		}
		g, err := r.eng.CreateGame(ctx, room, lang)
		if err != nil {
			if cur, cerr := r.eng.ActiveGameInRoom(ctx, room); cerr == nil {
				lang = cur.Lang
			}
			r.fail(ctx, room, lang, err)
			return
		}
		if _, _, err := r.eng.Join(ctx, g.ID, profile); err != nil {
			r.fail(ctx, room, lang, err)
		}
		return
	}
	if name == "help" {
		r.reply(ctx, room, r.cfg.Lang(), "cmd.help")
		return
	}
	if name == "top" {
		r.top(ctx, room)
		return
	}

	g, ok := r.roomGame(ctx, room)
	if !ok {
		return
	}
	switch name {
	case "join":
		_, created, err := r.eng.Join(ctx, g.ID, profile)
		switch {
		case err != nil:
			r.fail(ctx, room, g.Lang, err)
		case !created:
			r.reply(ctx, room, g.Lang, "cmd.already_joined")
		}
	case "leave":
		if err := r.eng.Leave(ctx, g.ID, user); err != nil {
			r.fail(ctx, room, g.Lang, err)
		}
	case "start":
		if _, ok := g.FindPlayer(user); !ok {
			r.reply(ctx, room, g.Lang, "cmd.not_in_game")
			return
		}
		if err := r.eng.StartGame(ctx, g.ID); err != nil {
			r.fail(ctx, room, g.Lang, err, "Min", r.eng.Rules().MinPlayers)
		}
	case "vote":
		if len(args) == 0 {
			r.reply(ctx, room, g.Lang, "cmd.help")
			return
		}
		if g.Status != game.StatusVoting {
			r.reply(ctx, room, g.Lang, "cmd.not_voting")
			return
		}
		query := strings.Join(args, " ")
		target, ok := engine.ResolveTarget(g, query)
		if !ok {
			r.reply(ctx, room, g.Lang, "cmd.invalid_vote", "Target", query)
			return
		}
		if err := r.eng.CastVote(ctx, g.ID, user, target.ID); err != nil {
			r.fail(ctx, room, g.Lang, err, "Target", query)
		}
	case "blank":
		if g.Status != game.StatusVoting {
			r.reply(ctx, room, g.Lang, "cmd.not_voting")
			return
		}
		if err := r.eng.CastBlankVote(ctx, g.ID, user); err != nil {
			r.fail(ctx, room, g.Lang, err)
		}
	case "score":
		r.score(ctx, room, g)
	case "next":
		if _, _, err := r.eng.NextGame(ctx, g.ID, profile); err != nil {
			r.fail(ctx, room, g.Lang, err)
		}
	default:
		r.reply(ctx, room, g.Lang, "cmd.help")
	}
}

// roomGame loads the game bound to room, answering no_game when there is none.
func (r *router) roomGame(ctx context.Context, room string) (*game.Game, bool) {
	g, err := r.eng.ActiveGameInRoom(ctx, room)
	if err == nil {
		return g, true
	}
	if errors.Is(err, game.ErrNotFound) {
		r.reply(ctx, room, r.cfg.Lang(), "cmd.no_game")
	} else {
		r.fail(ctx, room, r.cfg.Lang(), err)
	}
	return nil, false
}

func (r *router) score(ctx context.Context, room string, g *game.Game) {
	players, err := r.eng.Scoreboard(ctx, g.ID)
	if err != nil {
		r.fail(ctx, room, g.Lang, err)
		return
	}
	lang := string(g.Lang)
	lines := make([]string, 0, len(players))
	for i, p := range players {
		lines = append(lines, r.cat.Must(lang, "cmd.scoreboard_line", map[string]any{"Rank": i + 1, "Name": p.Name, "Score": p.Score}))
	}
	header := r.cat.Must(lang, "cmd.scoreboard_header", map[string]any{"Round": g.Round})
	r.send(ctx, room, util.FoldLines(header, lines, scoreboardVisible))
}

func (r *router) top(ctx context.Context, room string) {
	lang := r.cfg.Lang()
	var wins []archive.PlayerScore
	if r.wins != nil {
		var err error
		if wins, err = r.wins.WinsByRoom(ctx, room, topLimit); err != nil {
			r.fail(ctx, room, lang, err)
			return
		}
	}
	if len(wins) == 0 {
		r.reply(ctx, room, lang, "cmd.top_empty")
		return
	}
	lines := make([]string, 0, len(wins))
	for i, w := range wins {
		lines = append(lines, r.cat.Must(string(lang), "cmd.top_line", map[string]any{"Rank": i + 1, "Name": w.Name, "Wins": w.Score}))
	}
	r.send(ctx, room, util.FoldLines(r.cat.Must(string(lang), "cmd.top_header", nil), lines, topLimit))
}

func (r *router) reply(ctx context.Context, room string, lang game.Lang, key string, kv ...any) {
	params := map[string]any{"Prefix": r.cfg.BotPrefix}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			params[k] = kv[i+1]
		}
	}
	r.send(ctx, room, r.cat.Must(string(lang), key, params))
}

func (r *router) fail(ctx context.Context, room string, lang game.Lang, err error, kv ...any) {
	key := errorKey(err)
	if key == "cmd.failed" {
		obslog.L().Error("command_failed", zap.String("room", room), zap.Error(err))
	}
	r.reply(ctx, room, lang, key, kv...)
}

func (r *router) send(ctx context.Context, room, text string) {
	if err := r.out.SendText(ctx, room, text); err != nil {
		obslog.L().Warn("reply_send_error", zap.String("room", room), zap.Error(err))
	}
}

// errorKey maps a domain error onto the catalog line that explains it to players.
func errorKey(err error) string {
	switch {
	case errors.Is(err, game.ErrBotControlled):
		return "cmd.bot_controlled"
	case game.IsRetryable(err):
		return "cmd.busy"
	case errors.Is(err, game.ErrNotFound):
		return "cmd.not_in_game"
	case errors.Is(err, game.ErrNotEnoughPlayers):
		return "cmd.not_enough_players"
	case errors.Is(err, game.ErrInvalidVote):
		return "cmd.invalid_vote"
	case errors.Is(err, game.ErrInvalidState), errors.Is(err, game.ErrInvalidTransition):
		return "cmd.game_running"
	default:
		return "cmd.failed"
	}
}
