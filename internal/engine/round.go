package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/archive"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"go.uber.org/zap"
)

// ResolveRound scores a completed vote and either ends the game or starts the next round.
// Scores, the next round's seats and the round narrative are committed together with the
// status change, so a round is resolved once even when several final votes race here, and
// a failed attempt leaves the game in voting for the next vote to retry.
func (e *Engine) ResolveRound(ctx context.Context, gameID string) error {
	g, msgs, err := e.snapshot(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Status != game.StatusVoting {
		return fmt.Errorf("resolve in %s: %w", g.Status, game.ErrInvalidState)
	}

	var (
		end    game.RoundEnd
		awards int
	)
	ok, err := e.commit(ctx, g, func(cur *game.Game) (game.Status, []game.Message, error) {
		list, err := game.ResolveVotes(cur)
		if err != nil {
			return "", nil, err
		}
		game.ApplyAwards(cur.Players, list)
		awards = len(list)

		var out []game.Message
		if bot, ok := cur.BotPlayer(); ok {
			out = e.line(out, cur, "system.reveal_bot", "Name", bot.Name)
		} else {
			out = e.line(out, cur, "system.reveal_none")
		}
		for _, a := range list {
			p, _ := cur.FindPlayer(a.PlayerID)
			out = e.line(out, cur, "award."+string(a.Reason), "Name", p.Name, "Points", a.Points)
		}

		end = game.DecideRoundEnd(cur.Players, e.rules.WinningScore)
		if end.Over {
			out = append(out, statusMarker(game.StatusOver))
			if end.Winner != nil {
				out = e.line(out, cur, "system.winner", "Name", end.Winner.Name, "Score", end.Winner.Score)
			}
			return game.StatusOver, out, nil
		}

		cur.Round++
		out = append(out, statusMarker(game.StatusTalkingWarmup))
		if len(end.Tied) > 0 {
			names := make([]string, 0, len(end.Tied))
			for _, p := range end.Tied {
				names = append(names, p.Name)
			}
			out = e.line(out, cur, "system.tie", "Names", strings.Join(names, ", "), "Score", end.MaxScore)
		}
		return game.StatusTalkingWarmup, append(out, e.openRound(cur, msgs)...), nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	obslog.L().Info("round_resolved", zap.String("game_id", g.ID), zap.Int("round", g.Round), zap.Int("awards", awards))

	if g.Status == game.StatusOver {
		var winner *game.Player
		if end.Winner != nil {
			if p, ok := g.FindPlayer(end.Winner.ID); ok {
				winner = &p
			}
		}
		return e.finish(ctx, g, winner)
	}
	e.kickBots(g.ID)
	return nil
}

// openRound clears votes, picks the round's bot and returns the messages that open the
// warm-up. It only edits g; the caller commits it.
func (e *Engine) openRound(g *game.Game, history []game.Message) []game.Message {
	for i := range g.Players {
		g.Players[i].Vote = ""
		g.Players[i].VoteBlank = false
		g.Players[i].IsBot = false
	}
	var pick *game.Player
	e.withRand(func(r *rand.Rand) { pick = game.SelectNextBot(r, history, g.Players) })
	if pick != nil {
		for i := range g.Players {
			g.Players[i].IsBot = g.Players[i].ID == pick.ID
		}
	}
	obslog.L().Info("round_started", zap.String("game_id", g.ID), zap.Int("round", g.Round), zap.Bool("has_bot", pick != nil))

	out := []game.Message{{Kind: game.KindBotPicked, Content: game.BotPickedContent(pick)}}
	out = e.line(out, g, "system.warmup", "Round", g.Round)
	return append(out, e.icebreaker(g)...)
}

// icebreaker returns a random conversation starter, or nothing when the catalog has none.
func (e *Engine) icebreaker(g *game.Game) []game.Message {
	keys := e.cat.Keys(string(g.Lang), "icebreaker")
	if len(keys) == 0 {
		return nil
	}
	var key string
	e.withRand(func(r *rand.Rand) { key = keys[r.Intn(len(keys))] })
	text, err := e.cat.Render(string(g.Lang), key, nil)
	if err != nil {
		obslog.L().Warn("icebreaker_render_error", zap.String("game_id", g.ID), zap.Error(err))
		return nil
	}
	return []game.Message{{Kind: game.KindIcebreaker, Content: text}}
}

// finish archives an ended game and opens a lobby that continues it.
func (e *Engine) finish(ctx context.Context, g *game.Game, winner *game.Player) error {
	obslog.L().Info("game_over", zap.String("game_id", g.ID), zap.Int("rounds", g.Round))

	if e.archive != nil {
		if err := e.archive.SaveResult(ctx, archive.FromGame(g, winner, e.now())); err != nil {
			obslog.L().Warn("archive_error", zap.String("game_id", g.ID), zap.Error(err))
		}
	}

	next, err := e.createGame(ctx, g.Room, g.Lang, false)
	if err != nil {
		obslog.L().Warn("continuation_error", zap.String("game_id", g.ID), zap.Error(err))
	} else {
		g.NextGameID = next.ID
		if err := e.store.SaveGame(ctx, g); err != nil {
			obslog.L().Warn("continuation_link_error", zap.String("game_id", g.ID), zap.Error(err))
		}
		e.say(ctx, g, "system.continuation")
	}

	for _, p := range g.Players {
		if id, _ := e.store.GameIDByUser(ctx, p.ID); id == g.ID {
			_ = e.store.UnbindUser(ctx, p.ID)
		}
	}
	return e.store.RemovePlayers(ctx, g.ID)
}
