package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type Repository struct {
	db *sql.DB
}

// NewRepository connects to Postgres and applies migrations.
func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished game. A nil repository is a no-op so the archive stays optional.
func (r *Repository) SaveResult(ctx context.Context, res Result) error {
	if r == nil || r.db == nil {
		return nil
	}
	playersRaw, err := json.Marshal(res.Players)
	if err != nil {
		return err
	}

	q := `INSERT INTO impostor_games (
        game_id, room, lang, rounds, winner_id, winner_name, players,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
      ) ON CONFLICT (game_id) DO UPDATE SET
        room=EXCLUDED.room,
        lang=EXCLUDED.lang,
        rounds=EXCLUDED.rounds,
        winner_id=EXCLUDED.winner_id,
        winner_name=EXCLUDED.winner_name,
        players=EXCLUDED.players,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		res.GameID, res.Room, string(res.Lang), res.Rounds, res.WinnerID, res.WinnerName, string(playersRaw),
		res.StartedAt, res.EndedAt, res.Duration().Milliseconds(),
	)
	return err
}

// WinsByRoom counts wins per winner name in a room, most wins first.
func (r *Repository) WinsByRoom(ctx context.Context, room string, limit int) ([]PlayerScore, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `SELECT winner_id, MAX(winner_name), COUNT(*)
        FROM impostor_games WHERE room=$1 AND winner_id <> ''
        GROUP BY winner_id ORDER BY COUNT(*) DESC, MAX(ended_at) DESC LIMIT $2`, room, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlayerScore
	for rows.Next() {
		var ps PlayerScore
		if err := rows.Scan(&ps.ID, &ps.Name, &ps.Score); err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}
