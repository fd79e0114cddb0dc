package game

import "fmt"

// Reason explains why a point was awarded.
type Reason string

const (
	ReasonFoundBot              Reason = "foundBot"
	ReasonBotAvoided            Reason = "botAvoided"
	ReasonBestActing            Reason = "bestActing"
	ReasonCorrectlyGuessedNoBot Reason = "correctlyGuessedNoBot"
)

// Award is one point grant. A player may receive several awards in the same round.
type Award struct {
	PlayerID string `json:"player_id"`
	Points   int    `json:"points"`
	Reason   Reason `json:"reason"`
}

// VoteTally counts named votes per target.
type VoteTally struct {
	Counts  map[string]int
	Max     int
	Leaders []string // player ids holding Max, in player order
}

// Tally counts the named votes received by every player.
func Tally(players []Player) VoteTally {
	t := VoteTally{Counts: make(map[string]int, len(players))}
	for _, p := range players {
		if p.Vote != "" {
			t.Counts[p.Vote]++
		}
	}
	for _, p := range players {
		if c := t.Counts[p.ID]; c > t.Max {
			t.Max = c
		}
	}
	for _, p := range players {
		if t.Counts[p.ID] == t.Max {
			t.Leaders = append(t.Leaders, p.ID)
		}
	}
	return t
}

// ResolveVotes turns the final votes of a voting round into point awards.
//
// With a bot: each voter for the bot scores foundBot; the bot scores botAvoided unless it alone
// holds the most votes; each human tied at the (non-zero) maximum scores bestActing.
// Without a bot: each blank voter scores correctlyGuessedNoBot; each player tied at the
// (non-zero) maximum scores bestActing. Ties never suppress an award.
func ResolveVotes(g *Game) ([]Award, error) {
	if g == nil {
		return nil, ErrNotFound
	}
	if g.Status != StatusVoting {
		return nil, fmt.Errorf("%w: resolve votes in %s", ErrInvalidState, g.Status)
	}
	if len(g.Players) == 0 {
		return []Award{}, nil
	}

	tally := Tally(g.Players)
	var awards []Award
	grant := func(id string, reason Reason) {
		awards = append(awards, Award{PlayerID: id, Points: 1, Reason: reason})
	}

	bot, hasBot := g.BotPlayer()
	if hasBot {
		for _, p := range g.Players {
			if p.ID != bot.ID && p.Vote == bot.ID {
				grant(p.ID, ReasonFoundBot)
			}
		}
		botVotes := tally.Counts[bot.ID]
		if botVotes < tally.Max || (botVotes == tally.Max && len(tally.Leaders) > 1) {
			grant(bot.ID, ReasonBotAvoided)
		}
		if tally.Max > 0 {
			for _, p := range g.Players {
				if !p.IsBot && tally.Counts[p.ID] == tally.Max {
					grant(p.ID, ReasonBestActing)
				}
			}
		}
		return awards, nil
	}

	for _, p := range g.Players {
		if p.VoteBlank {
			grant(p.ID, ReasonCorrectlyGuessedNoBot)
		}
	}
	if tally.Max > 0 {
		for _, id := range tally.Leaders {
			grant(id, ReasonBestActing)
		}
	}
	return awards, nil
}

// ApplyAwards adds the award points to each player's score, never going below zero.
// It returns the per-player delta.
func ApplyAwards(players []Player, awards []Award) map[string]int {
	delta := make(map[string]int, len(players))
	for _, a := range awards {
		delta[a.PlayerID] += a.Points
	}
	for i := range players {
		d, ok := delta[players[i].ID]
		if !ok {
			continue
		}
		players[i].Score += d
		if players[i].Score < 0 {
			players[i].Score = 0
		}
	}
	return delta
}

// RoundEnd is the verdict after scores are applied.
type RoundEnd struct {
	Over     bool
	Winner   *Player
	Tied     []Player // players sharing a winning score; the game continues
	MaxScore int
}

// DecideRoundEnd ends the game when exactly one player holds the top score and it reaches
// winningScore. A tie at or above winningScore keeps the game going.
func DecideRoundEnd(players []Player, winningScore int) RoundEnd {
	var end RoundEnd
	if len(players) == 0 {
		return end
	}
	end.MaxScore = players[0].Score
	for _, p := range players[1:] {
		if p.Score > end.MaxScore {
			end.MaxScore = p.Score
		}
	}
	if end.MaxScore < winningScore {
		return end
	}
	var top []Player
	for _, p := range players {
		if p.Score == end.MaxScore {
			top = append(top, p)
		}
	}
	if len(top) == 1 {
		end.Over = true
		end.Winner = &top[0]
		return end
	}
	end.Tied = top
	return end
}
