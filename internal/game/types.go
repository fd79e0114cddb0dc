package game

import (
	"strings"
	"time"
)

// Status is a game lifecycle phase.
type Status string

const (
	StatusLobby         Status = "lobby"
	StatusTalkingWarmup Status = "talking_warmup"
	StatusTalkingHunt   Status = "talking_hunt"
	StatusVoting        Status = "voting"
	StatusOver          Status = "over"
)

// ParseStatus accepts the current status names plus the legacy "talking" alias of talking_hunt.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusLobby, StatusTalkingWarmup, StatusTalkingHunt, StatusVoting, StatusOver:
		return st, true
	case "talking":
		return StatusTalkingHunt, true
	default:
		return "", false
	}
}

// Talking reports whether players may chat in this status.
func (s Status) Talking() bool { return s == StatusTalkingWarmup || s == StatusTalkingHunt }

// Lang selects the message catalog.
type Lang string

const (
	LangEN Lang = "en"
	LangFR Lang = "fr"
)

// ParseLang falls back to English for anything unknown.
func ParseLang(s string) Lang {
	if Lang(strings.ToLower(strings.TrimSpace(s))) == LangFR {
		return LangFR
	}
	return LangEN
}

// Game is the persisted state of one group of rounds.
type Game struct {
	ID              string    `json:"id"`
	Room            string    `json:"room"`
	Status          Status    `json:"status"`
	Lang            Lang      `json:"lang"`
	Round           int       `json:"round"`
	NextVoteCounter int       `json:"next_vote_counter"`
	NextGameID      string    `json:"next_game_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Players is the materialized player list in join order; stored separately.
	Players []Player `json:"-"`
}

// Player is a participant bound to a game.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsBot     bool      `json:"is_bot"`
	Vote      string    `json:"vote,omitempty"`
	VoteBlank bool      `json:"vote_blank"`
	Score     int       `json:"score"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Voted reports whether the player cast either a named or a blank vote.
func (p Player) Voted() bool { return p.Vote != "" || p.VoteBlank }

// FindPlayer returns the player with the given id.
func (g *Game) FindPlayer(id string) (Player, bool) {
	for _, p := range g.Players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// BotPlayer returns the player impersonated by the AI this round, if any.
func (g *Game) BotPlayer() (Player, bool) {
	for _, p := range g.Players {
		if p.IsBot {
			return p, true
		}
	}
	return Player{}, false
}

// Humans returns every player not assigned as this round's bot.
func (g *Game) Humans() []Player {
	out := make([]Player, 0, len(g.Players))
	for _, p := range g.Players {
		if !p.IsBot {
			out = append(out, p)
		}
	}
	return out
}

// MessageKind tags a chat entry.
type MessageKind string

const (
	KindSystem     MessageKind = "system"
	KindIcebreaker MessageKind = "icebreaker"
	KindUser       MessageKind = "user"
	KindStatus     MessageKind = "status"
	KindBotPicked  MessageKind = "bot_picked"
)

// Valid reports whether k is one of the known kinds.
func (k MessageKind) Valid() bool {
	switch k {
	case KindSystem, KindIcebreaker, KindUser, KindStatus, KindBotPicked:
		return true
	default:
		return false
	}
}

// IsMarker reports whether messages of this kind record engine state rather than conversation.
func (k MessageKind) IsMarker() bool {
	switch k {
	case KindStatus, KindBotPicked:
		return true
	case KindSystem, KindIcebreaker, KindUser:
		return false
	default:
		return false
	}
}

// NoBot is the bot_picked content for a round without an artificial participant.
const NoBot = "none"

// Message is one append-only chat entry.
type Message struct {
	ID         string      `json:"id"`
	GameID     string      `json:"game_id"`
	ProfileID  string      `json:"profile_id,omitempty"`
	AuthorName string      `json:"author_name,omitempty"`
	Kind       MessageKind `json:"type"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
}

// CountKind returns how many messages have the given kind.
func CountKind(msgs []Message, kind MessageKind) int {
	n := 0
	for _, m := range msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// LastMarker returns the index of the latest message of kind whose content equals content,
// or -1. An empty content matches any message of that kind.
func LastMarker(msgs []Message, kind MessageKind, content string) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind != kind {
			continue
		}
		if content == "" || msgs[i].Content == content {
			return i
		}
	}
	return -1
}
