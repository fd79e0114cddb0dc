package game

import "math/rand"

// SelectNextBot decides whether the coming round has an artificial participant and who plays it.
// The decision depends only on the bot_picked history:
//   - the first round always has a bot;
//   - a bot-less round may follow only a round that had a bot, with probability 1/(n+1);
//   - the previous pick is never chosen twice in a row.
//
// nil means no bot this round.
func SelectNextBot(rng *rand.Rand, history []Message, players []Player) *Player {
	if len(players) == 0 {
		return nil
	}
	last := ""
	hadPrevious := false
	if i := LastMarker(history, KindBotPicked, ""); i >= 0 {
		hadPrevious = true
		last = history[i].Content
	}

	if hadPrevious && last != NoBot {
		if rng.Intn(len(players)+1) == 0 {
			return nil
		}
	}

	pool := make([]Player, 0, len(players))
	for _, p := range players {
		if p.ID == last {
			continue
		}
		pool = append(pool, p)
	}
	if len(pool) == 0 {
		return nil
	}
	pick := pool[rng.Intn(len(pool))]
	return &pick
}

// BotPickedContent is the bot_picked message content recording a selection.
func BotPickedContent(p *Player) string {
	if p == nil {
		return NoBot
	}
	return p.ID
}
