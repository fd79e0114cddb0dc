package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/msgcat"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/textgen"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/textnorm"
	"go.uber.org/zap"
)

const (
	transcriptLines = 30
	botTurnTimeout  = 2 * time.Minute
)

// PostMessage appends a human chat line and lets the game react to it.
func (e *Engine) PostMessage(ctx context.Context, gameID, playerID, text string) (game.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return game.Message{}, fmt.Errorf("post empty message: %w", game.ErrInvalidState)
	}
	g, err := e.store.LoadGame(ctx, gameID)
	if err != nil {
		return game.Message{}, err
	}
	if !g.Status.Talking() {
		return game.Message{}, fmt.Errorf("post in %s: %w", g.Status, game.ErrInvalidState)
	}
	p, ok := g.FindPlayer(playerID)
	if !ok {
		return game.Message{}, fmt.Errorf("post: player %s: %w", playerID, game.ErrNotFound)
	}
	if p.IsBot {
		return game.Message{}, fmt.Errorf("post: %w", game.ErrBotControlled)
	}
	m, err := e.store.AppendMessage(ctx, g.ID, game.Message{
		Kind:       game.KindUser,
		ProfileID:  p.ID,
		AuthorName: p.Name,
		Content:    text,
	})
	if err != nil {
		return game.Message{}, err
	}
	if err := e.advance(ctx, g.ID); err != nil {
		return m, err
	}
	e.kickBots(g.ID)
	return m, nil
}

// kickBots runs bot turns for a game. Within this process at most one loop runs per game;
// a kick that arrives while it runs makes it go around once more.
func (e *Engine) kickBots(gameID string) {
	if e.inlineBots {
		ctx, cancel := context.WithTimeout(e.baseCtx, botTurnTimeout)
		defer cancel()
		if err := e.RunBotTurns(ctx, gameID); err != nil {
			obslog.L().Warn("bot_turns_error", zap.String("game_id", gameID), zap.Error(err))
		}
		return
	}
	e.botMu.Lock()
	if e.botRunning[gameID] {
		e.botPending[gameID] = true
		e.botMu.Unlock()
		return
	}
	e.botRunning[gameID] = true
	e.botMu.Unlock()

	e.botWG.Add(1)
	go func() {
		defer e.botWG.Done()
		for {
			ctx, cancel := context.WithTimeout(e.baseCtx, botTurnTimeout)
			if err := e.RunBotTurns(ctx, gameID); err != nil {
				obslog.L().Warn("bot_turns_error", zap.String("game_id", gameID), zap.Error(err))
			}
			cancel()

			e.botMu.Lock()
			if e.botPending[gameID] && e.baseCtx.Err() == nil {
				delete(e.botPending, gameID)
				e.botMu.Unlock()
				continue
			}
			delete(e.botPending, gameID)
			delete(e.botRunning, gameID)
			e.botMu.Unlock()
			return
		}
	}()
}

// RunBotTurns lets the bot player speak while the turn scheduler keeps choosing it, at most
// MaxBotTurns times. Each turn is claimed in the store first, so engines sharing a game
// never speak the same turn twice.
func (e *Engine) RunBotTurns(ctx context.Context, gameID string) error {
	for turn := 0; turn < e.rules.MaxBotTurns; turn++ {
		g, msgs, err := e.snapshot(ctx, gameID)
		if err != nil {
			return err
		}
		if !g.Status.Talking() {
			return nil
		}
		bot, ok := g.BotPlayer()
		if !ok {
			return nil
		}
		var (
			speaker game.Player
			found   bool
		)
		e.withRand(func(r *rand.Rand) { speaker, found = game.NextSpeaker(r, g.Players, msgs) })
		if !found || speaker.ID != bot.ID {
			return nil
		}
		said := game.CountKind(msgs, game.KindUser)
		claimed, err := e.store.ClaimBotTurn(ctx, gameID, g.Round, said, botTurnTimeout)
		if err != nil {
			return err
		}
		if !claimed {
			return nil
		}
		spoke, err := e.botTurn(ctx, g, bot, msgs)
		if err != nil {
			if rerr := e.store.ReleaseBotTurn(context.WithoutCancel(ctx), gameID, g.Round, said); rerr != nil {
				obslog.L().Warn("bot_turn_release_error", zap.String("game_id", gameID), zap.Error(rerr))
			}
			return err
		}
		if !spoke {
			return nil
		}
		obslog.L().Debug("bot_spoke", zap.String("game_id", gameID), zap.Int("turn", turn))
		if err := e.advance(ctx, gameID); err != nil {
			return err
		}
	}
	return nil
}

// botTurn writes one claimed bot line. spoke is false when the phase or the bot seat
// changed while the line was being typed.
func (e *Engine) botTurn(ctx context.Context, g *game.Game, bot game.Player, msgs []game.Message) (bool, error) {
	text := e.botLine(ctx, g, bot, msgs)
	if e.typing {
		var d time.Duration
		e.withRand(func(r *rand.Rand) { d = game.TypingDelay(r, text) })
		if err := e.sleep(ctx, d); err != nil {
			return false, err
		}
	}

	cur, err := e.store.LoadGame(ctx, g.ID)
	if err != nil {
		return false, err
	}
	if !cur.Status.Talking() || cur.Round != g.Round {
		return false, nil
	}
	if p, ok := cur.FindPlayer(bot.ID); !ok || !p.IsBot {
		return false, nil
	}
	if _, err := e.store.AppendMessage(ctx, g.ID, game.Message{
		Kind:       game.KindUser,
		ProfileID:  bot.ID,
		AuthorName: bot.Name,
		Content:    text,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// botLine asks the generator for the bot's next line. Persistent failure yields the catalog
// placeholder. The result is always normalized.
func (e *Engine) botLine(ctx context.Context, g *game.Game, bot game.Player, msgs []game.Message) string {
	lang := string(g.Lang)
	placeholder := textnorm.Normalize(e.cat.Must(lang, "bot.placeholder", nil))

	instructions, err := e.cat.Render(lang, "bot.prompt", e.params(
		"Name", bot.Name,
		"Language", e.cat.Must(msgcat.FallbackLang, "language."+lang, nil),
	))
	if err != nil {
		obslog.L().Warn("bot_prompt_render_error", zap.String("game_id", g.ID), zap.Error(err))
	}
	prompt := textgen.Prompt{Instructions: instructions, Transcript: transcript(msgs, transcriptLines)}

	text, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		obslog.L().Warn("bot_generation_failed", zap.String("game_id", g.ID), zap.Error(err))
		return placeholder
	}
	if out := textnorm.Normalize(text); out != "" {
		return out
	}
	return placeholder
}

// transcript returns the last n chat lines, icebreakers included.
func transcript(msgs []game.Message, n int) []textgen.Line {
	var lines []textgen.Line
	for _, m := range msgs {
		if m.Kind == game.KindUser || m.Kind == game.KindIcebreaker {
			author := m.AuthorName
			if m.Kind == game.KindIcebreaker {
				author = "icebreaker"
			}
			lines = append(lines, textgen.Line{Author: author, Content: m.Content})
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
