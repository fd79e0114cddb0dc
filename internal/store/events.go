package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Table names a row family in change events.
type Table string

const (
	TableGames    Table = "games"
	TablePlayers  Table = "players"
	TableMessages Table = "messages"
)

// Op is the kind of change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event tells subscribers that a row changed; they re-read what they need.
type Event struct {
	Table  Table  `json:"table"`
	Op     Op     `json:"op"`
	GameID string `json:"game_id"`
	RowID  string `json:"row_id,omitempty"`
}

func encodeEvent(ev Event) string {
	raw, _ := json.Marshal(ev)
	return string(raw)
}

func (s *Store) publish(ctx context.Context, ev Event) {
	if err := s.rdb.Publish(ctx, channelEvents(ev.GameID), encodeEvent(ev)).Err(); err != nil {
		obslog.L().Warn("store_publish_error", zap.String("game_id", ev.GameID), zap.String("table", string(ev.Table)), zap.Error(err))
	}
}

// Subscribe streams change events of one game until the returned cancel func is called
// or ctx ends.
func (s *Store) Subscribe(ctx context.Context, gameID string) (<-chan Event, func(), error) {
	return s.listen(ctx, s.rdb.Subscribe(ctx, channelEvents(gameID)))
}

// SubscribeAll streams change events of every game.
func (s *Store) SubscribeAll(ctx context.Context) (<-chan Event, func(), error) {
	return s.listen(ctx, s.rdb.PSubscribe(ctx, eventsPrefix+"*"))
}

func (s *Store) listen(ctx context.Context, ps *redis.PubSub) (<-chan Event, func(), error) {
	// wait for the subscription to be active so no event published after return is lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	out := make(chan Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					obslog.L().Warn("store_event_decode_error", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				if ev.GameID == "" {
					ev.GameID = strings.TrimPrefix(msg.Channel, eventsPrefix)
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}
