package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
)

func (s *Store) prepareMessage(m game.Message, gameID string) game.Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.GameID = gameID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	return m
}

// AppendMessage adds m to the end of the game's log and returns it with id and time set.
func (s *Store) AppendMessage(ctx context.Context, gameID string, m game.Message) (game.Message, error) {
	if !m.Kind.Valid() {
		return game.Message{}, fmt.Errorf("append message: unknown kind %q", m.Kind)
	}
	m = s.prepareMessage(m, gameID)
	raw, err := json.Marshal(m)
	if err != nil {
		return game.Message{}, err
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, keyMessages(gameID), raw)
	pipe.Expire(ctx, keyMessages(gameID), ttlGame)
	if _, err := pipe.Exec(ctx); err != nil {
		return game.Message{}, err
	}
	s.publish(ctx, Event{Table: TableMessages, Op: OpInsert, GameID: gameID, RowID: m.ID})
	return m, nil
}

// Messages returns the whole log of a game in append order.
func (s *Store) Messages(ctx context.Context, gameID string) ([]game.Message, error) {
	return s.MessagesFrom(ctx, gameID, 0)
}

// MessagesFrom returns the log of a game starting at index start.
func (s *Store) MessagesFrom(ctx context.Context, gameID string, start int64) ([]game.Message, error) {
	raws, err := s.rdb.LRange(ctx, keyMessages(gameID), start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]game.Message, 0, len(raws))
	for i, raw := range raws {
		var m game.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode message %d of %q: %w", start+int64(i), gameID, err)
		}
		if m.Kind == game.KindStatus {
			if st, ok := game.ParseStatus(m.Content); ok {
				m.Content = string(st)
			}
		}
		out = append(out, m)
	}
	return out, nil
}
