// Package store keeps live games in Redis: game rows as JSON strings, players as a hash
// per game and the message log as a list. Every write publishes a change event.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/redis/go-redis/v9"
)

// casAttempts bounds WATCH retries when an unrelated write touched the game row.
const casAttempts = 3

type Store struct {
	rdb *redis.Client
	now func() time.Time
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb, now: time.Now} }

// Open connects to the Redis URL and checks the connection.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, game.ErrNotFound)
}

// CreateGame inserts a new game row. It fails when the id is taken.
func (s *Store) CreateGame(ctx context.Context, g *game.Game) error {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return fmt.Errorf("create game: empty id")
	}
	now := s.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, keyGame(g.ID), raw, ttlGame).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("create game %q: already exists", g.ID)
	}
	s.publish(ctx, Event{Table: TableGames, Op: OpInsert, GameID: g.ID, RowID: g.ID})
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) loadRow(ctx context.Context, c getter, id string) (*game.Game, error) {
	raw, err := c.Get(ctx, keyGame(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("game", id)
	}
	if err != nil {
		return nil, err
	}
	var g game.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %q: %w", id, err)
	}
	st, ok := game.ParseStatus(string(g.Status))
	if !ok {
		return nil, fmt.Errorf("decode game %q: unknown status %q", id, g.Status)
	}
	g.Status = st
	return &g, nil
}

// LoadGame reads the game row together with its players.
func (s *Store) LoadGame(ctx context.Context, id string) (*game.Game, error) {
	g, err := s.loadRow(ctx, s.rdb, id)
	if err != nil {
		return nil, err
	}
	players, err := s.Players(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Players = players
	return g, nil
}

// UpdateGame applies fn to the current row under WATCH. fn cannot change the status;
// use CompareAndSetStatus for that.
func (s *Store) UpdateGame(ctx context.Context, id string, fn func(*game.Game) error) (*game.Game, error) {
	key := keyGame(id)
	var out *game.Game
	var err error
	for attempt := 0; attempt < casAttempts; attempt++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.loadRow(ctx, tx, id)
			if err != nil {
				return err
			}
			status := cur.Status
			if err := fn(cur); err != nil {
				return err
			}
			cur.Status = status
			cur.UpdatedAt = s.now()
			raw, err := json.Marshal(cur)
			if err != nil {
				return err
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, raw, ttlGame)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			out = cur
			return nil
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	s.publish(ctx, Event{Table: TableGames, Op: OpUpdate, GameID: id, RowID: id})
	return out, nil
}

// SaveGame overwrites the mutable fields of the game row. Status is left to
// CompareAndSetStatus.
func (s *Store) SaveGame(ctx context.Context, g *game.Game) error {
	if g == nil {
		return fmt.Errorf("save game: nil game")
	}
	_, err := s.UpdateGame(ctx, g.ID, func(cur *game.Game) error {
		cur.Room = g.Room
		cur.Lang = g.Lang
		cur.Round = g.Round
		cur.NextVoteCounter = g.NextVoteCounter
		cur.NextGameID = g.NextGameID
		return nil
	})
	return err
}

// StatusChange is a guarded status write.
type StatusChange struct {
	Expected game.Status
	Next     game.Status
	// Patch edits other fields of the row in the same write.
	Patch func(*game.Game)
	// Marker, when set, is appended to the message log in the same transaction.
	Marker *game.Message
	// Build runs inside the guarded write with the current row and its players loaded. The
	// players it leaves in g.Players and the messages it returns are written together with
	// the status, after Marker. It runs again when the write is retried. When Next is empty
	// Build picks the destination by setting g.Status.
	Build func(g *game.Game) ([]game.Message, error)
}

// CompareAndSetStatus writes Next only while the stored status equals Expected and
// returns the number of rows changed (0 or 1). A concurrent writer that got there first
// leaves the count at 0.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, ch StatusChange) (int64, error) {
	key := keyGame(id)
	watched := []string{key}
	if ch.Build != nil {
		watched = append(watched, keyPlayers(id))
	}
	var (
		affected int64
		written  []game.Message
		players  []game.Player
		err      error
	)
	for attempt := 0; attempt < casAttempts; attempt++ {
		affected, written, players = 0, nil, nil
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := s.loadRow(ctx, tx, id)
			if err != nil {
				return err
			}
			if cur.Status != ch.Expected {
				return nil
			}
			var extra []game.Message
			if ch.Build != nil {
				if cur.Players, err = readPlayers(ctx, tx, id); err != nil {
					return err
				}
				if extra, err = ch.Build(cur); err != nil {
					return err
				}
			}
			if ch.Patch != nil {
				ch.Patch(cur)
			}
			if ch.Next != "" {
				cur.Status = ch.Next
			}
			if cur.Status == ch.Expected {
				return fmt.Errorf("status change of %q: no destination", id)
			}
			cur.UpdatedAt = s.now()
			raw, err := json.Marshal(cur)
			if err != nil {
				return err
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, raw, ttlGame)
			if ch.Build != nil && len(cur.Players) > 0 {
				for _, p := range cur.Players {
					praw, err := json.Marshal(p)
					if err != nil {
						return err
					}
					pipe.HSet(ctx, keyPlayers(id), p.ID, praw)
				}
				pipe.Expire(ctx, keyPlayers(id), ttlGame)
				players = cur.Players
			}
			var batch []game.Message
			if ch.Marker != nil {
				batch = append(batch, *ch.Marker)
			}
			for _, m := range append(batch, extra...) {
				if !m.Kind.Valid() {
					return fmt.Errorf("status change: unknown message kind %q", m.Kind)
				}
				m = s.prepareMessage(m, id)
				mraw, err := json.Marshal(m)
				if err != nil {
					return err
				}
				pipe.RPush(ctx, keyMessages(id), mraw)
				written = append(written, m)
			}
			if len(written) > 0 {
				pipe.Expire(ctx, keyMessages(id), ttlGame)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			affected = 1
			return nil
		}, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, redis.TxFailedErr) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if affected == 1 {
		s.publish(ctx, Event{Table: TableGames, Op: OpUpdate, GameID: id, RowID: id})
		for _, p := range players {
			s.publish(ctx, Event{Table: TablePlayers, Op: OpUpdate, GameID: id, RowID: p.ID})
		}
		for _, m := range written {
			s.publish(ctx, Event{Table: TableMessages, Op: OpInsert, GameID: id, RowID: m.ID})
		}
	}
	return affected, nil
}

// BindRoom points a chat room at its current game.
func (s *Store) BindRoom(ctx context.Context, room, gameID string) error {
	return s.rdb.Set(ctx, keyRoom(room), gameID, ttlGame).Err()
}

// GameIDByRoom returns the current game of a room, or "" when none is bound.
func (s *Store) GameIDByRoom(ctx context.Context, room string) (string, error) {
	id, err := s.rdb.Get(ctx, keyRoom(room)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

// UnbindRoom clears the room's binding while it still points at gameID.
func (s *Store) UnbindRoom(ctx context.Context, room, gameID string) (bool, error) {
	n, err := delIfScript.Run(ctx, s.rdb, []string{keyRoom(room)}, gameID).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// BindUser records the game a chat user currently plays in.
func (s *Store) BindUser(ctx context.Context, userID, gameID string) error {
	return s.rdb.Set(ctx, keyUser(userID), gameID, ttlGame).Err()
}

// GameIDByUser returns the game a user plays in, or "" when none is bound.
func (s *Store) GameIDByUser(ctx context.Context, userID string) (string, error) {
	id, err := s.rdb.Get(ctx, keyUser(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (s *Store) UnbindUser(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, keyUser(userID)).Err()
}

// sortPlayers orders players by join time so every reader sees the same order.
func sortPlayers(ps []game.Player) {
	sort.SliceStable(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}
