package store

import (
	"strconv"
	"strings"
	"time"
)

const (
	ttlGame = 24 * time.Hour

	eventsPrefix = "imp:events:"
)

func keyGame(id string) string       { return "imp:game:" + strings.TrimSpace(id) }
func keyPlayers(id string) string    { return keyGame(id) + ":players" }
func keyMessages(id string) string   { return keyGame(id) + ":messages" }
func keyNames(id string) string      { return keyGame(id) + ":names" }
func keyRoom(room string) string     { return "imp:room:" + strings.TrimSpace(room) }
func keyUser(user string) string     { return "imp:index:user:" + strings.TrimSpace(user) }
func keyLease(name string) string    { return "imp:lease:" + strings.TrimSpace(name) }
func channelEvents(id string) string { return eventsPrefix + strings.TrimSpace(id) }

func keyBotTurn(id string, round, userMessages int) string {
	return keyGame(id) + ":botturn:" + strconv.Itoa(round) + ":" + strconv.Itoa(userMessages)
}
