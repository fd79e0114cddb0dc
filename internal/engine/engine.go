// Package engine drives games: it reads fresh state from the store, asks the game rules what
// happens next and commits every phase change through a guarded store update.
package engine

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/archive"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/msgcat"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/store"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/textgen"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Profile identifies a chat user.
type Profile struct {
	ID   string
	Name string
}

// Archiver records finished games.
type Archiver interface {
	SaveResult(ctx context.Context, res archive.Result) error
}

type Config struct {
	Rules game.Rules
	// Prefix is the chat command prefix quoted in narrative messages.
	Prefix string
	// TypingDelay makes the bot wait as long as a person would need to type its line.
	TypingDelay bool
}

type Engine struct {
	store   *store.Store
	gen     textgen.Generator
	cat     *msgcat.Catalog
	archive Archiver

	rules  game.Rules
	prefix string
	typing bool

	rngMu sync.Mutex
	rng   *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	baseCtx    context.Context
	inlineBots bool
	botMu      sync.Mutex
	botRunning map[string]bool
	botPending map[string]bool
	botWG      sync.WaitGroup
}

type Option func(*Engine)

// WithArchive stores finished games.
func WithArchive(a Archiver) Option { return func(e *Engine) { e.archive = a } }

func WithRand(r *rand.Rand) Option { return func(e *Engine) { e.rng = r } }

// WithSleep replaces the typing-delay wait.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(e *Engine) { e.sleep = fn }
}

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithInlineBotTurns runs bot turns inside the triggering call instead of in the background.
func WithInlineBotTurns() Option { return func(e *Engine) { e.inlineBots = true } }

// WithBaseContext bounds background bot turns.
func WithBaseContext(ctx context.Context) Option { return func(e *Engine) { e.baseCtx = ctx } }

func New(st *store.Store, gen textgen.Generator, cat *msgcat.Catalog, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		gen:        gen,
		cat:        cat,
		rules:      cfg.Rules.Normalize(),
		prefix:     strings.TrimSpace(cfg.Prefix),
		typing:     cfg.TypingDelay,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepWithContext,
		now:        time.Now,
		baseCtx:    context.Background(),
		botRunning: make(map[string]bool),
		botPending: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the thresholds the engine plays with.
func (e *Engine) Rules() game.Rules { return e.rules }

// Wait blocks until background bot turns finish or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.botWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) withRand(fn func(r *rand.Rand)) {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	fn(e.rng)
}

// snapshot reads the game with its players and the full message log.
func (e *Engine) snapshot(ctx context.Context, gameID string) (*game.Game, []game.Message, error) {
	var (
		g    *game.Game
		msgs []game.Message
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		g, err = e.store.LoadGame(gctx, gameID)
		return err
	})
	eg.Go(func() error {
		var err error
		msgs, err = e.store.Messages(gctx, gameID)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return g, msgs, nil
}

func (e *Engine) params(kv ...any) map[string]any {
	m := map[string]any{"Prefix": e.prefix}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

// say appends a narrative system message. Failures are logged; the state change that
// triggered it already happened.
func (e *Engine) say(ctx context.Context, g *game.Game, key string, kv ...any) {
	text, err := e.cat.Render(string(g.Lang), key, e.params(kv...))
	if err != nil {
		obslog.L().Warn("narrative_render_error", zap.String("game_id", g.ID), zap.String("key", key), zap.Error(err))
		return
	}
	if _, err := e.store.AppendMessage(ctx, g.ID, game.Message{Kind: game.KindSystem, Content: text}); err != nil {
		obslog.L().Warn("narrative_post_error", zap.String("game_id", g.ID), zap.String("key", key), zap.Error(err))
	}
}

// line renders a narrative message for a batched write and appends it to out.
func (e *Engine) line(out []game.Message, g *game.Game, key string, kv ...any) []game.Message {
	text, err := e.cat.Render(string(g.Lang), key, e.params(kv...))
	if err != nil {
		obslog.L().Warn("narrative_render_error", zap.String("game_id", g.ID), zap.String("key", key), zap.Error(err))
		return out
	}
	return append(out, game.Message{Kind: game.KindSystem, Content: text})
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
