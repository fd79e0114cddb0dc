package game

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func botPicked(content string) Message {
	return Message{Kind: KindBotPicked, Content: content}
}

func TestSelectNextBotFirstRoundAlwaysHasBot(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ps := players("a", "b", "c")
	for i := 0; i < 500; i++ {
		require.NotNil(t, SelectNextBot(rng, nil, ps))
	}
}

func TestSelectNextBotNeverTwoBotlessRounds(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	ps := players("a", "b", "c")
	history := []Message{botPicked("a"), botPicked(NoBot)}
	for i := 0; i < 1000; i++ {
		require.NotNil(t, SelectNextBot(rng, history, ps))
	}
}

func TestSelectNextBotNeverRepeatsLastPick(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ps := players("a", "b", "c", "d")
	history := []Message{botPicked("c")}
	for i := 0; i < 1000; i++ {
		if p := SelectNextBot(rng, history, ps); p != nil {
			assert.NotEqual(t, "c", p.ID)
		}
	}
}

func TestSelectNextBotNoBotRate(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for _, k := range []int{3, 4, 6} {
		ids := make([]string, k)
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}
		ps := players(ids...)
		history := []Message{userMsg("a"), botPicked("a")}
		const trials = 20000
		none := 0
		for i := 0; i < trials; i++ {
			if SelectNextBot(rng, history, ps) == nil {
				none++
			}
		}
		want := 1.0 / float64(k+1)
		got := float64(none) / trials
		tolerance := 4 * math.Sqrt(want*(1-want)/trials)
		assert.InDelta(t, want, got, tolerance, "k=%d", k)
	}
}

func TestSelectNextBotUniformAmongEligible(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ps := players("a", "b", "c")
	history := []Message{botPicked(NoBot)}
	counts := map[string]int{}
	const trials = 9000
	for i := 0; i < trials; i++ {
		p := SelectNextBot(rng, history, ps)
		require.NotNil(t, p)
		counts[p.ID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		assert.InDelta(t, trials/3, counts[id], trials/3*0.1, id)
	}
}

func TestSelectNextBotEmptyPool(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	assert.Nil(t, SelectNextBot(rng, nil, nil))

	// The only player was the last pick and a bot-less round is not drawn: nobody is left.
	only := players("a")
	history := []Message{botPicked("a")}
	for i := 0; i < 50; i++ {
		assert.Nil(t, SelectNextBot(rng, history, only))
	}
}

func TestBotPickedContent(t *testing.T) {
	assert.Equal(t, NoBot, BotPickedContent(nil))
	assert.Equal(t, "x", BotPickedContent(&Player{ID: "x"}))
}
