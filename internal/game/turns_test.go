package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(ps []Player) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestSpeakerPoolPrefersSilentPlayers(t *testing.T) {
	ps := players("a", "b", "c")
	msgs := []Message{userMsg("a"), userMsg("b")}
	assert.Equal(t, []string{"c"}, ids(SpeakerPool(ps, msgs)))
}

func TestSpeakerPoolLeastRecent(t *testing.T) {
	ps := players("a", "b", "c")
	msgs := []Message{userMsg("b"), userMsg("a"), userMsg("c"), userMsg("a")}
	assert.Equal(t, []string{"b"}, ids(SpeakerPool(ps, msgs)))
}

func TestSpeakerPoolIgnoresMarkers(t *testing.T) {
	ps := players("a", "b")
	msgs := []Message{
		userMsg("a"),
		{Kind: KindSystem, ProfileID: "b", Content: "joined"},
		{Kind: KindStatus, Content: string(StatusTalkingHunt)},
	}
	assert.Equal(t, []string{"b"}, ids(SpeakerPool(ps, msgs)))
}

func TestSpeakerPoolAllTied(t *testing.T) {
	ps := players("a", "b", "c")
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(SpeakerPool(ps, nil)))
}

func TestNextSpeakerNoStarvation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ps := players("a", "b", "c", "d")
	var msgs []Message
	seen := map[string]int{}
	for i := 0; i < 40; i++ {
		p, ok := NextSpeaker(rng, ps, msgs)
		require.True(t, ok)
		seen[p.ID]++
		msgs = append(msgs, userMsg(p.ID))
	}
	for _, p := range ps {
		assert.Equal(t, 10, seen[p.ID], p.ID)
	}
}

func TestNextSpeakerNewcomerFirst(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	ps := players("a", "b")
	msgs := []Message{userMsg("a"), userMsg("b"), userMsg("a")}
	ps = append(ps, Player{ID: "late"})
	p, ok := NextSpeaker(rng, ps, msgs)
	require.True(t, ok)
	assert.Equal(t, "late", p.ID)
}

func TestNextSpeakerEmpty(t *testing.T) {
	_, ok := NextSpeaker(rand.New(rand.NewSource(9)), nil, nil)
	assert.False(t, ok)
}
