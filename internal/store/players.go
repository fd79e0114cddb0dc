package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/redis/go-redis/v9"
)

type hashGetter interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// Players returns every player of a game in join order.
func (s *Store) Players(ctx context.Context, gameID string) ([]game.Player, error) {
	return readPlayers(ctx, s.rdb, gameID)
}

func readPlayers(ctx context.Context, c hashGetter, gameID string) ([]game.Player, error) {
	all, err := c.HGetAll(ctx, keyPlayers(gameID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]game.Player, 0, len(all))
	for id, raw := range all {
		var p game.Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode player %q: %w", id, err)
		}
		out = append(out, p)
	}
	sortPlayers(out)
	return out, nil
}

// Player returns one player of a game.
func (s *Store) Player(ctx context.Context, gameID, playerID string) (game.Player, error) {
	raw, err := s.rdb.HGet(ctx, keyPlayers(gameID), playerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return game.Player{}, notFound("player", playerID)
	}
	if err != nil {
		return game.Player{}, err
	}
	var p game.Player
	if err := json.Unmarshal(raw, &p); err != nil {
		return game.Player{}, fmt.Errorf("decode player %q: %w", playerID, err)
	}
	return p, nil
}

// AddPlayerNX inserts p unless a player with the same id is already in the game.
func (s *Store) AddPlayerNX(ctx context.Context, gameID string, p game.Player) (bool, error) {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.now()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	ok, err := s.rdb.HSetNX(ctx, keyPlayers(gameID), p.ID, raw).Result()
	if err != nil {
		return false, err
	}
	_ = s.rdb.Expire(ctx, keyPlayers(gameID), ttlGame).Err()
	if ok {
		s.publish(ctx, Event{Table: TablePlayers, Op: OpInsert, GameID: gameID, RowID: p.ID})
	}
	return ok, nil
}

func (s *Store) SavePlayer(ctx context.Context, gameID string, p game.Player) error {
	return s.SavePlayers(ctx, gameID, p)
}

// SavePlayers overwrites the given player rows in one round trip.
func (s *Store) SavePlayers(ctx context.Context, gameID string, ps ...game.Player) error {
	if len(ps) == 0 {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	for _, p := range ps {
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, keyPlayers(gameID), p.ID, raw)
	}
	pipe.Expire(ctx, keyPlayers(gameID), ttlGame)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	for _, p := range ps {
		s.publish(ctx, Event{Table: TablePlayers, Op: OpUpdate, GameID: gameID, RowID: p.ID})
	}
	return nil
}

// UpdatePlayer reads one player, applies fn and writes it back. Concurrent updates of the
// same player are last-write-wins.
func (s *Store) UpdatePlayer(ctx context.Context, gameID, playerID string, fn func(*game.Player) error) (game.Player, error) {
	p, err := s.Player(ctx, gameID, playerID)
	if err != nil {
		return game.Player{}, err
	}
	if err := fn(&p); err != nil {
		return game.Player{}, err
	}
	if err := s.SavePlayers(ctx, gameID, p); err != nil {
		return game.Player{}, err
	}
	return p, nil
}

func (s *Store) RemovePlayer(ctx context.Context, gameID, playerID string) error {
	n, err := s.rdb.HDel(ctx, keyPlayers(gameID), playerID).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		s.publish(ctx, Event{Table: TablePlayers, Op: OpDelete, GameID: gameID, RowID: playerID})
	}
	return nil
}

// RemovePlayers drops every player of a game along with their name reservations.
func (s *Store) RemovePlayers(ctx context.Context, gameID string) error {
	if err := s.rdb.Del(ctx, keyPlayers(gameID), keyNames(gameID)).Err(); err != nil {
		return err
	}
	s.publish(ctx, Event{Table: TablePlayers, Op: OpDelete, GameID: gameID})
	return nil
}

// ReserveName books a display name key for playerID within a game. It returns true when
// the name is now, or already was, held by playerID.
func (s *Store) ReserveName(ctx context.Context, gameID, nameKey, playerID string) (bool, error) {
	ok, err := s.rdb.HSetNX(ctx, keyNames(gameID), nameKey, playerID).Result()
	if err != nil {
		return false, err
	}
	_ = s.rdb.Expire(ctx, keyNames(gameID), ttlGame).Err()
	if ok {
		return true, nil
	}
	owner, err := s.rdb.HGet(ctx, keyNames(gameID), nameKey).Result()
	if errors.Is(err, redis.Nil) {
		// released in between; try once more
		return s.rdb.HSetNX(ctx, keyNames(gameID), nameKey, playerID).Result()
	}
	if err != nil {
		return false, err
	}
	return owner == playerID, nil
}

// ReleaseName frees a display name key if playerID holds it.
func (s *Store) ReleaseName(ctx context.Context, gameID, nameKey, playerID string) error {
	return releaseNameScript.Run(ctx, s.rdb, []string{keyNames(gameID)}, nameKey, playerID).Err()
}

var releaseNameScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
  return redis.call('HDEL', KEYS[1], ARGV[1])
end
return 0
`)
