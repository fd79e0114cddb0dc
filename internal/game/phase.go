package game

import "fmt"

// transitions lists the allowed destinations per source status.
// voting -> talking_warmup is the round-repeat edge; over is terminal.
var transitions = map[Status][]Status{
	StatusLobby:         {StatusTalkingWarmup, StatusOver},
	StatusTalkingWarmup: {StatusTalkingHunt, StatusOver},
	StatusTalkingHunt:   {StatusVoting, StatusOver},
	StatusVoting:        {StatusTalkingWarmup, StatusOver},
	StatusOver:          nil,
}

// CanTransition reports whether from -> to is an edge of the phase graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition for edges outside the graph.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
