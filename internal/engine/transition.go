package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/store"
	"go.uber.org/zap"
)

// Transition moves g to the next phase. The write only lands while the stored status still
// equals g.Status; otherwise ErrConcurrentTransition is returned and g is left untouched.
func (e *Engine) Transition(ctx context.Context, g *game.Game, to game.Status) error {
	return e.transition(ctx, g, to, nil)
}

func (e *Engine) transition(ctx context.Context, g *game.Game, to game.Status, patch func(*game.Game)) error {
	if g == nil {
		return fmt.Errorf("transition: %w", game.ErrNotFound)
	}
	from := g.Status
	if err := game.ValidateTransition(from, to); err != nil {
		return err
	}
	n, err := e.store.CompareAndSetStatus(ctx, g.ID, store.StatusChange{
		Expected: from,
		Next:     to,
		Patch:    patch,
		Marker:   &game.Message{Kind: game.KindStatus, Content: string(to)},
	})
	if err != nil {
		return fmt.Errorf("transition %s→%s: %w", from, to, err)
	}
	if n == 0 {
		return fmt.Errorf("transition %s→%s: %w", from, to, game.ErrConcurrentTransition)
	}
	if patch != nil {
		patch(g)
	}
	g.Status = to
	obslog.L().Info("game_transition",
		zap.String("game_id", g.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("round", g.Round),
	)
	return nil
}

// errNothingToDo lets a commit build step back out once it sees the fresh state.
var errNothingToDo = errors.New("nothing to do")

// commit writes a status change computed from the stored row and players. build sees the
// fresh state, edits cur.Players and returns the destination with the messages to append;
// everything lands in one guarded write. committed is false when another handler moved
// the game first. On success g holds the committed state.
func (e *Engine) commit(ctx context.Context, g *game.Game, build func(cur *game.Game) (game.Status, []game.Message, error)) (bool, error) {
	from := g.Status
	var done game.Game
	n, err := e.store.CompareAndSetStatus(ctx, g.ID, store.StatusChange{
		Expected: from,
		Build: func(cur *game.Game) ([]game.Message, error) {
			to, msgs, err := build(cur)
			if err != nil {
				return nil, err
			}
			if err := game.ValidateTransition(from, to); err != nil {
				return nil, err
			}
			cur.Status = to
			done = *cur
			return msgs, nil
		},
	})
	if errors.Is(err, errNothingToDo) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("commit from %s: %w", from, err)
	}
	if n == 0 {
		return false, nil
	}
	*g = done
	obslog.L().Info("game_transition",
		zap.String("game_id", g.ID),
		zap.String("from", string(from)),
		zap.String("to", string(g.Status)),
		zap.Int("round", g.Round),
	)
	return true, nil
}

func statusMarker(to game.Status) game.Message {
	return game.Message{Kind: game.KindStatus, Content: string(to)}
}

// lostRace reports an error meaning another handler already advanced the game.
func lostRace(err error) bool {
	return errors.Is(err, game.ErrConcurrentTransition)
}

// advance re-reads the game and fires whatever transition its progress calls for.
func (e *Engine) advance(ctx context.Context, gameID string) error {
	g, msgs, err := e.snapshot(ctx, gameID)
	if err != nil {
		return err
	}
	switch g.Status {
	case game.StatusTalkingWarmup:
		if !e.rules.CheckWarmupTransition(g, msgs) {
			return nil
		}
		counter := e.rules.NextVoteCounter(game.CountKind(msgs, game.KindUser), len(g.Players))
		err := e.transition(ctx, g, game.StatusTalkingHunt, func(x *game.Game) { x.NextVoteCounter = counter })
		if lostRace(err) {
			return nil
		}
		if err != nil {
			return err
		}
		e.say(ctx, g, "system.hunt")
	case game.StatusTalkingHunt:
		if !game.CheckVoteTransition(g, msgs) {
			return nil
		}
		err := e.transition(ctx, g, game.StatusVoting, nil)
		if lostRace(err) {
			return nil
		}
		if err != nil {
			return err
		}
		e.say(ctx, g, "system.voting")
	case game.StatusVoting:
		if ratio, ok := game.VotingProgress(g); ok && ratio >= 1 {
			return e.ResolveRound(ctx, gameID)
		}
	}
	return nil
}
