package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/textnorm"
	"go.uber.org/zap"
)

// CreateGame opens a lobby in room. A room holds at most one unfinished game.
func (e *Engine) CreateGame(ctx context.Context, room string, lang game.Lang) (*game.Game, error) {
	return e.createGame(ctx, room, lang, true)
}

func (e *Engine) createGame(ctx context.Context, room string, lang game.Lang, announce bool) (*game.Game, error) {
	room = strings.TrimSpace(room)
	if room == "" {
		return nil, fmt.Errorf("create game: empty room")
	}
	if cur, err := e.ActiveGameInRoom(ctx, room); err == nil && cur.Status != game.StatusOver {
		return nil, fmt.Errorf("create game in %s: %w", room, game.ErrInvalidState)
	}
	g := &game.Game{
		ID:     uuid.NewString(),
		Room:   room,
		Status: game.StatusLobby,
		Lang:   lang,
	}
	if err := e.store.CreateGame(ctx, g); err != nil {
		return nil, err
	}
	if err := e.store.BindRoom(ctx, room, g.ID); err != nil {
		return nil, err
	}
	obslog.L().Info("game_created", zap.String("game_id", g.ID), zap.String("room", room), zap.String("lang", string(lang)))
	if announce {
		e.say(ctx, g, "system.lobby_opened")
	}
	return g, nil
}

// ActiveGameInRoom returns the game currently bound to room.
func (e *Engine) ActiveGameInRoom(ctx context.Context, room string) (*game.Game, error) {
	id, err := e.store.GameIDByRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("room %s: %w", room, game.ErrNotFound)
	}
	return e.store.LoadGame(ctx, id)
}

// GameOfUser returns the unfinished game a user plays in.
func (e *Engine) GameOfUser(ctx context.Context, userID string) (*game.Game, error) {
	id, err := e.store.GameIDByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("user %s: %w", userID, game.ErrNotFound)
	}
	g, err := e.store.LoadGame(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := g.FindPlayer(userID); !ok || g.Status == game.StatusOver {
		return nil, fmt.Errorf("user %s: %w", userID, game.ErrNotFound)
	}
	return g, nil
}

// nameKey is how display names compare for votes by name.
func nameKey(name string) string {
	if k := textnorm.Normalize(name); k != "" {
		return k
	}
	return name
}

// reserveName books the first free variant of name ("Ann", "Ann 2", ...) for playerID.
func (e *Engine) reserveName(ctx context.Context, gameID, name, playerID string) (string, error) {
	cand := name
	for i := 2; ; i++ {
		ok, err := e.store.ReserveName(ctx, gameID, nameKey(cand), playerID)
		if err != nil {
			return "", err
		}
		if ok {
			return cand, nil
		}
		cand = name + " " + strconv.Itoa(i)
	}
}

// Join adds the profile to a lobby. Joining twice returns the existing player with created=false.
func (e *Engine) Join(ctx context.Context, gameID string, p Profile) (game.Player, bool, error) {
	g, err := e.store.LoadGame(ctx, gameID)
	if err != nil {
		return game.Player{}, false, err
	}
	if existing, ok := g.FindPlayer(p.ID); ok {
		return existing, false, nil
	}
	if g.Status != game.StatusLobby {
		return game.Player{}, false, fmt.Errorf("join %s: %w", g.Status, game.ErrInvalidState)
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = p.ID
	}
	if name, err = e.reserveName(ctx, g.ID, name, p.ID); err != nil {
		return game.Player{}, false, err
	}
	player := game.Player{ID: p.ID, Name: name, JoinedAt: e.now()}
	created, err := e.store.AddPlayerNX(ctx, g.ID, player)
	if err != nil {
		return game.Player{}, false, err
	}
	if !created {
		existing, err := e.store.Player(ctx, g.ID, p.ID)
		if err == nil && nameKey(existing.Name) != nameKey(name) {
			_ = e.store.ReleaseName(ctx, g.ID, nameKey(name), p.ID)
		}
		return existing, false, err
	}
	if err := e.store.BindUser(ctx, p.ID, g.ID); err != nil {
		obslog.L().Warn("bind_user_error", zap.String("game_id", g.ID), zap.String("user_id", p.ID), zap.Error(err))
	}
	e.say(ctx, g, "system.player_joined", "Name", player.Name, "Count", len(g.Players)+1)
	return player, true, nil
}

// Leave removes a player from a lobby. The last player leaving closes the game and frees
// its room.
func (e *Engine) Leave(ctx context.Context, gameID, playerID string) error {
	g, err := e.store.LoadGame(ctx, gameID)
	if err != nil {
		return err
	}
	p, ok := g.FindPlayer(playerID)
	if !ok {
		return fmt.Errorf("leave: player %s: %w", playerID, game.ErrNotFound)
	}
	if g.Status != game.StatusLobby {
		return fmt.Errorf("leave %s: %w", g.Status, game.ErrInvalidState)
	}
	if err := e.store.RemovePlayer(ctx, g.ID, playerID); err != nil {
		return err
	}
	if err := e.store.ReleaseName(ctx, g.ID, nameKey(p.Name), playerID); err != nil {
		obslog.L().Warn("release_name_error", zap.String("game_id", g.ID), zap.Error(err))
	}
	_ = e.store.UnbindUser(ctx, playerID)
	e.say(ctx, g, "system.player_left", "Name", p.Name)
	return e.closeIfEmpty(ctx, g.ID)
}

// closeIfEmpty ends a lobby nobody is left in.
func (e *Engine) closeIfEmpty(ctx context.Context, gameID string) error {
	g, err := e.store.LoadGame(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Status != game.StatusLobby || len(g.Players) > 0 {
		return nil
	}
	ok, err := e.commit(ctx, g, func(cur *game.Game) (game.Status, []game.Message, error) {
		if len(cur.Players) > 0 {
			return "", nil, errNothingToDo
		}
		out := []game.Message{statusMarker(game.StatusOver)}
		return game.StatusOver, e.line(out, cur, "system.aborted"), nil
	})
	if err != nil || !ok {
		return err
	}
	if _, err := e.store.UnbindRoom(ctx, g.Room, g.ID); err != nil {
		return err
	}
	obslog.L().Info("game_aborted", zap.String("game_id", g.ID), zap.String("room", g.Room))
	return nil
}

// StartGame moves a full enough lobby into the first warm-up.
func (e *Engine) StartGame(ctx context.Context, gameID string) error {
	g, msgs, err := e.snapshot(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Status != game.StatusLobby {
		return fmt.Errorf("start from %s: %w", g.Status, game.ErrInvalidTransition)
	}
	ok, err := e.commit(ctx, g, func(cur *game.Game) (game.Status, []game.Message, error) {
		if len(cur.Players) < e.rules.MinPlayers {
			return "", nil, fmt.Errorf("start with %d players: %w", len(cur.Players), game.ErrNotEnoughPlayers)
		}
		cur.Round = 1
		out := []game.Message{statusMarker(game.StatusTalkingWarmup)}
		return game.StatusTalkingWarmup, append(out, e.openRound(cur, msgs)...), nil
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("start: %w", game.ErrConcurrentTransition)
	}
	e.kickBots(g.ID)
	return nil
}

// Scoreboard lists players by score, highest first; ties keep join order.
func (e *Engine) Scoreboard(ctx context.Context, gameID string) ([]game.Player, error) {
	players, err := e.store.Players(ctx, gameID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].Score > players[j].Score })
	return players, nil
}

// NextGame follows a finished game to the lobby that continues it and joins p there.
// For a game still in its lobby it simply joins.
func (e *Engine) NextGame(ctx context.Context, gameID string, p Profile) (*game.Game, game.Player, error) {
	g, err := e.store.LoadGame(ctx, gameID)
	if err != nil {
		return nil, game.Player{}, err
	}
	if g.Status == game.StatusOver {
		if g.NextGameID == "" {
			return nil, game.Player{}, fmt.Errorf("next game of %s: %w", g.ID, game.ErrNotFound)
		}
		if g, err = e.store.LoadGame(ctx, g.NextGameID); err != nil {
			return nil, game.Player{}, err
		}
	}
	player, _, err := e.Join(ctx, g.ID, p)
	if err != nil {
		return nil, game.Player{}, err
	}
	return g, player, nil
}
