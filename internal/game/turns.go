package game

import "math/rand"

// SpeakerPool returns the players who spoke least recently: each player's position is the index
// of their latest user message (-1 if silent), and the pool holds everyone tied at the minimum.
// A silent player therefore always outranks anyone who has spoken.
func SpeakerPool(players []Player, msgs []Message) []Player {
	if len(players) == 0 {
		return nil
	}
	last := make(map[string]int, len(players))
	for _, p := range players {
		last[p.ID] = -1
	}
	for i, m := range msgs {
		if m.Kind != KindUser {
			continue
		}
		if _, ok := last[m.ProfileID]; ok {
			last[m.ProfileID] = i
		}
	}
	oldest := last[players[0].ID]
	for _, p := range players[1:] {
		if last[p.ID] < oldest {
			oldest = last[p.ID]
		}
	}
	pool := make([]Player, 0, len(players))
	for _, p := range players {
		if last[p.ID] == oldest {
			pool = append(pool, p)
		}
	}
	return pool
}

// NextSpeaker picks uniformly from SpeakerPool. ok is false when there are no players.
func NextSpeaker(rng *rand.Rand, players []Player, msgs []Message) (Player, bool) {
	pool := SpeakerPool(players, msgs)
	if len(pool) == 0 {
		return Player{}, false
	}
	return pool[rng.Intn(len(pool))], true
}
