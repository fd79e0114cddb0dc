package textgen

import (
	"context"
	"math/rand"
	"sync"
)

// Canned answers from a fixed list. It stands in when no backend is configured.
type Canned struct {
	mu    sync.Mutex
	rng   *rand.Rand
	lines []string
}

func NewCanned(rng *rand.Rand, lines ...string) *Canned {
	if len(lines) == 0 {
		lines = []string{"haha yeah", "same here tbh", "wait what", "lol true", "idk honestly"}
	}
	return &Canned{rng: rng, lines: lines}
}

func (c *Canned) Generate(context.Context, Prompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lines[c.rng.Intn(len(c.lines))], nil
}
