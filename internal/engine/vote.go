package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/textnorm"
)

// ResolveTarget finds the player a vote names, by id or by display name.
func ResolveTarget(g *game.Game, query string) (game.Player, bool) {
	q := strings.TrimPrefix(strings.TrimSpace(query), "@")
	if q == "" {
		return game.Player{}, false
	}
	if p, ok := g.FindPlayer(q); ok {
		return p, true
	}
	for _, p := range g.Players {
		if textnorm.Equal(p.Name, q) {
			return p, true
		}
	}
	return game.Player{}, false
}

// CastVote records voterID's vote for targetID. A named vote clears a blank one.
func (e *Engine) CastVote(ctx context.Context, gameID, voterID, targetID string) error {
	return e.vote(ctx, gameID, voterID, func(g *game.Game, p *game.Player) error {
		target, ok := g.FindPlayer(targetID)
		if !ok || target.ID == voterID {
			return fmt.Errorf("vote for %q: %w", targetID, game.ErrInvalidVote)
		}
		p.Vote = target.ID
		p.VoteBlank = false
		return nil
	})
}

// CastBlankVote records that voterID believes there is no bot this round.
func (e *Engine) CastBlankVote(ctx context.Context, gameID, voterID string) error {
	return e.vote(ctx, gameID, voterID, func(_ *game.Game, p *game.Player) error {
		p.Vote = ""
		p.VoteBlank = true
		return nil
	})
}

func (e *Engine) vote(ctx context.Context, gameID, voterID string, apply func(*game.Game, *game.Player) error) error {
	g, err := e.store.LoadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Status != game.StatusVoting {
		return fmt.Errorf("vote in %s: %w", g.Status, game.ErrInvalidState)
	}
	if _, ok := g.FindPlayer(voterID); !ok {
		return fmt.Errorf("vote: player %s: %w", voterID, game.ErrNotFound)
	}
	voter, err := e.store.UpdatePlayer(ctx, g.ID, voterID, func(p *game.Player) error {
		if p.IsBot {
			return fmt.Errorf("vote: %w", game.ErrBotControlled)
		}
		return apply(g, p)
	})
	if err != nil {
		return err
	}
	for i := range g.Players {
		if g.Players[i].ID == voter.ID {
			g.Players[i] = voter
		}
	}
	humans := g.Humans()
	voted := 0
	for _, p := range humans {
		if p.Voted() {
			voted++
		}
	}
	e.say(ctx, g, "system.vote_progress", "Name", voter.Name, "Voted", voted, "Total", len(humans))
	return e.advance(ctx, g.ID)
}
