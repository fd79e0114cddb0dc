package game

// Rules holds the tunable thresholds of a game.
type Rules struct {
	MinPlayers              int
	WarmupMessagesPerPlayer int
	HuntMessagesPerPlayer   int
	WinningScore            int
	MaxBotTurns             int
}

// DefaultRules returns the stock party rules.
func DefaultRules() Rules {
	return Rules{
		MinPlayers:              3,
		WarmupMessagesPerPlayer: 3,
		HuntMessagesPerPlayer:   3,
		WinningScore:            5,
		MaxBotTurns:             10,
	}
}

// withDefaults fills zero fields from DefaultRules.
func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.MinPlayers <= 0 {
		r.MinPlayers = d.MinPlayers
	}
	if r.WarmupMessagesPerPlayer <= 0 {
		r.WarmupMessagesPerPlayer = d.WarmupMessagesPerPlayer
	}
	if r.HuntMessagesPerPlayer <= 0 {
		r.HuntMessagesPerPlayer = d.HuntMessagesPerPlayer
	}
	if r.WinningScore <= 0 {
		r.WinningScore = d.WinningScore
	}
	if r.MaxBotTurns <= 0 {
		r.MaxBotTurns = d.MaxBotTurns
	}
	return r
}

// Normalize returns r with every unset field defaulted.
func (r Rules) Normalize() Rules { return r.withDefaults() }
