// Package archive records finished games in Postgres.
package archive

import (
	"sort"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
)

// PlayerScore is one line of a finished game's final standings.
type PlayerScore struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
	IsBot bool   `json:"is_bot,omitempty"`
}

// Result is the archived summary of a finished game.
type Result struct {
	GameID     string
	Room       string
	Lang       game.Lang
	Rounds     int
	WinnerID   string
	WinnerName string
	Players    []PlayerScore
	StartedAt  time.Time
	EndedAt    time.Time
}

// Duration is never negative.
func (r Result) Duration() time.Duration {
	d := r.EndedAt.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// FromGame summarizes g with its final scores. winner may be nil.
func FromGame(g *game.Game, winner *game.Player, ended time.Time) Result {
	r := Result{
		GameID:    g.ID,
		Room:      g.Room,
		Lang:      g.Lang,
		Rounds:    g.Round,
		StartedAt: g.CreatedAt,
		EndedAt:   ended,
	}
	if winner != nil {
		r.WinnerID = winner.ID
		r.WinnerName = winner.Name
	}
	for _, p := range g.Players {
		r.Players = append(r.Players, PlayerScore{ID: p.ID, Name: p.Name, Score: p.Score, IsBot: p.IsBot})
	}
	sort.SliceStable(r.Players, func(i, j int) bool { return r.Players[i].Score > r.Players[j].Score })
	return r
}
