package game

// WarmupProgress is Rules.WarmupProgress under DefaultRules.
func WarmupProgress(g *Game, msgs []Message) (float64, bool) {
	return DefaultRules().WarmupProgress(g, msgs)
}

// VotingProgress returns the share of humans who voted. ok is false outside voting.
func VotingProgress(g *Game) (float64, bool) {
	if g == nil || g.Status != StatusVoting {
		return 0, false
	}
	humans := 0
	voted := 0
	for _, p := range g.Players {
		if p.IsBot {
			continue
		}
		humans++
		if p.Voted() {
			voted++
		}
	}
	if humans == 0 {
		return 0, true
	}
	return float64(voted) / float64(humans), true
}

// CheckWarmupTransition is Rules.CheckWarmupTransition under DefaultRules.
func CheckWarmupTransition(g *Game, msgs []Message) bool {
	return DefaultRules().CheckWarmupTransition(g, msgs)
}

// WarmupProgress returns the completion ratio of the current warmup. ok is false outside warmup.
// Only user messages after the latest talking_warmup marker count, since warmup recurs each round.
func (r Rules) WarmupProgress(g *Game, msgs []Message) (float64, bool) {
	if g == nil || g.Status != StatusTalkingWarmup {
		return 0, false
	}
	anchor := LastMarker(msgs, KindStatus, string(StatusTalkingWarmup))
	if anchor < 0 {
		return 0, true
	}
	threshold := r.withDefaults().WarmupMessagesPerPlayer * len(g.Players)
	if threshold <= 0 {
		return 0, true
	}
	count := CountKind(msgs[anchor+1:], KindUser)
	ratio := float64(count) / float64(threshold)
	if ratio > 1 {
		ratio = 1
	}
	return ratio, true
}

// CheckWarmupTransition reports whether warmup is complete and the hunt may start.
func (r Rules) CheckWarmupTransition(g *Game, msgs []Message) bool {
	ratio, ok := r.WarmupProgress(g, msgs)
	return ok && ratio >= 1
}

// NextVoteCounter returns the user-message count at which the current hunt turns into a vote.
func (r Rules) NextVoteCounter(userMessages, players int) int {
	living := players - 1
	if living < 0 {
		living = 0
	}
	return userMessages + r.withDefaults().HuntMessagesPerPlayer*living
}

// CheckVoteTransition reports whether the hunt reached its vote threshold.
func CheckVoteTransition(g *Game, msgs []Message) bool {
	if g == nil || g.Status != StatusTalkingHunt {
		return false
	}
	return CountKind(msgs, KindUser) >= g.NextVoteCounter
}
