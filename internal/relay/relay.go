// Package relay forwards what happens in games to their chat rooms. It follows store change
// events and posts every new narrative or chat line in order.
package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/store"
	"go.uber.org/zap"
)

// Sender posts text into a chat room.
type Sender interface {
	SendText(ctx context.Context, room, text string) error
}

const (
	leaseName    = "relay"
	defaultLease = 15 * time.Second
	sweepEvery   = time.Minute
	// cursors of finished games go after this much quiet, any other after cursorStale
	cursorIdle  = 5 * time.Minute
	cursorStale = 24 * time.Hour
)

type cursor struct {
	next int64 // index of the next message to forward
	over bool
	seen time.Time
}

// Relay forwards while it holds the relay lease; other instances stand by and take over
// once the lease expires.
type Relay struct {
	store  *store.Store
	out    Sender
	holder string
	lease  time.Duration
	now    func() time.Time
	leader atomic.Bool

	mu      sync.Mutex
	cursors map[string]*cursor
}

type Option func(*Relay)

// WithLease sets the lease holder name and how long a silent leader keeps the lease.
func WithLease(holder string, ttl time.Duration) Option {
	return func(r *Relay) {
		if holder != "" {
			r.holder = holder
		}
		if ttl > 0 {
			r.lease = ttl
		}
	}
}

func WithClock(now func() time.Time) Option { return func(r *Relay) { r.now = now } }

func New(st *store.Store, out Sender, opts ...Option) *Relay {
	r := &Relay{
		store:   st,
		out:     out,
		holder:  uuid.NewString(),
		lease:   defaultLease,
		now:     time.Now,
		cursors: make(map[string]*cursor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Leader reports whether this relay currently forwards.
func (r *Relay) Leader() bool { return r.leader.Load() }

// Format renders a message as chat text. Secret or bookkeeping messages render empty.
func Format(m game.Message) string {
	switch m.Kind {
	case game.KindSystem:
		return m.Content
	case game.KindIcebreaker:
		return "💬 " + m.Content
	case game.KindUser:
		return m.AuthorName + ": " + m.Content
	default:
		// status markers are narrated by system messages; bot_picked stays hidden
		return ""
	}
}

// Run forwards messages until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	events, stop, err := r.store.SubscribeAll(ctx)
	if err != nil {
		return err
	}
	defer stop()
	defer r.resign()

	r.campaign(ctx)
	renew := time.NewTicker(r.lease / 3)
	defer renew.Stop()
	sweep := time.NewTicker(sweepEvery)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-renew.C:
			r.campaign(ctx)
		case <-sweep.C:
			r.sweep(r.now())
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("relay: event stream closed")
			}
			if !r.leader.Load() {
				continue
			}
			if err := r.Handle(ctx, ev); err != nil {
				obslog.L().Warn("relay_error", zap.String("game_id", ev.GameID), zap.Error(err))
			}
		}
	}
}

// campaign takes or renews the lease. Losing it drops every cursor so a later term starts
// from the live edge of each game.
func (r *Relay) campaign(ctx context.Context) {
	ok, err := r.store.AcquireLease(ctx, leaseName, r.holder, r.lease)
	if err != nil {
		obslog.L().Warn("relay_lease_error", zap.String("holder", r.holder), zap.Error(err))
		ok = false
	}
	if was := r.leader.Swap(ok); was != ok {
		obslog.L().Info("relay_leadership", zap.String("holder", r.holder), zap.Bool("leader", ok))
		if !ok {
			r.mu.Lock()
			r.cursors = make(map[string]*cursor)
			r.mu.Unlock()
		}
	}
}

func (r *Relay) resign() {
	if !r.leader.Swap(false) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.store.ReleaseLease(ctx, leaseName, r.holder); err != nil {
		obslog.L().Warn("relay_lease_release_error", zap.String("holder", r.holder), zap.Error(err))
	}
}

// sweep drops cursors of finished games that went quiet, and of games untouched for a day.
func (r *Relay) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.cursors {
		idle := now.Sub(c.seen)
		if (c.over && idle >= cursorIdle) || idle >= cursorStale {
			delete(r.cursors, id)
		}
	}
}

// Handle reacts to one change event.
func (r *Relay) Handle(ctx context.Context, ev store.Event) error {
	if ev.Table == store.TableMessages && ev.Op == store.OpInsert {
		return r.forward(ctx, ev.GameID, ev.RowID)
	}
	return nil
}

func (r *Relay) forward(ctx context.Context, gameID, rowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, known := r.cursors[gameID]
	if !known {
		c = &cursor{}
		r.cursors[gameID] = c
	}
	c.seen = r.now()
	msgs, err := r.store.MessagesFrom(ctx, gameID, c.next)
	if err != nil {
		return err
	}
	if !known {
		// first event seen for this game: skip history before the announced message
		skip := len(msgs)
		for i, m := range msgs {
			if m.ID == rowID {
				skip = i
				break
			}
		}
		msgs = msgs[skip:]
		c.next += int64(skip)
	}
	if len(msgs) == 0 {
		return nil
	}

	g, err := r.store.LoadGame(ctx, gameID)
	if err != nil {
		return err
	}
	c.over = g.Status == game.StatusOver
	for _, m := range msgs {
		if text := strings.TrimSpace(Format(m)); text != "" {
			if err := r.out.SendText(ctx, g.Room, text); err != nil {
				return err
			}
		}
		c.next++
	}
	return nil
}
