package game

import (
	"math/rand"
	"strings"
	"time"
)

const (
	minWordsPerMinute = 40
	maxWordsPerMinute = 80
	maxTypingDelay    = 12 * time.Second
)

// TypingDelay simulates how long a person would take to type text at a random speed.
func TypingDelay(rng *rand.Rand, text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	wpm := minWordsPerMinute + rng.Intn(maxWordsPerMinute-minWordsPerMinute)
	d := time.Duration(float64(words) / float64(wpm) * float64(time.Minute))
	if d > maxTypingDelay {
		d = maxTypingDelay
	}
	return d
}
