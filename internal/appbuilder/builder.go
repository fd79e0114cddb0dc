// Package appbuilder assembles the bot's dependencies from configuration.
package appbuilder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/archive"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/config"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/engine"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/irisfast"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/msgcat"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/relay"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/store"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/textgen"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Config    *config.AppConfig
	Redis     *redis.Client
	Store     *store.Store
	Catalog   *msgcat.Catalog
	Archive   *archive.Repository // nil when DATABASE_URL is unset
	Generator textgen.Generator
	Engine    *engine.Engine
	Client    *irisfast.Client
	WS        *irisfast.WebSocket
	Egress    irisfast.Egress
	Relay     *relay.Relay
}

// New connects to Redis (and Postgres when configured) and wires the game engine to Iris.
// ctx bounds background bot turns for the lifetime of the process.
func New(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	d := &Deps{Config: cfg}

	rdb, err := store.Open(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	d.Redis = rdb
	d.Store = store.NewStore(rdb)

	if d.Catalog, err = msgcat.New(cfg.MessagesDir); err != nil {
		d.Close()
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		if d.Archive, err = archive.NewRepository(cfg.DatabaseURL); err != nil {
			d.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
	}

	d.Generator = newGenerator(cfg)

	opts := []engine.Option{engine.WithBaseContext(ctx)}
	if d.Archive != nil {
		opts = append(opts, engine.WithArchive(d.Archive))
	}
	d.Engine = engine.New(d.Store, d.Generator, d.Catalog, engine.Config{
		Rules:       cfg.Rules(),
		Prefix:      cfg.BotPrefix,
		TypingDelay: cfg.TypingDelay,
	}, opts...)

	d.Client = irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(cfg.IrisHeaders))
	d.WS = irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
	d.WS.SetHeaderProvider(cfg.IrisHeaders)
	d.Egress = irisfast.NewEgress(cfg.IrisEgress, false, d.Client, d.WS, obslog.L())
	d.Relay = relay.New(d.Store, d.Egress)

	obslog.L().Info("app_built",
		zap.Bool("archive", d.Archive != nil),
		zap.Bool("textgen", cfg.TextgenURL != ""),
		zap.String("egress", cfg.IrisEgress),
		zap.Any("rules", cfg.Rules()),
	)
	return d, nil
}

func newGenerator(cfg *config.AppConfig) textgen.Generator {
	if strings.TrimSpace(cfg.TextgenURL) == "" {
		obslog.L().Warn("textgen_disabled", zap.String("reason", "TEXTGEN_URL not set, using canned lines"))
		return textgen.NewCanned(rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	return textgen.NewClient(cfg.TextgenURL,
		textgen.WithAPIKey(cfg.TextgenAPIKey),
		textgen.WithModel(cfg.TextgenModel),
		textgen.WithTimeout(cfg.TextgenTimeout),
		textgen.WithRate(cfg.TextgenRPS),
	)
}

// Close releases connections. It is safe on a partially built Deps.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.Archive != nil {
		if err := d.Archive.Close(); err != nil {
			obslog.L().Warn("archive_close_error", zap.Error(err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			obslog.L().Warn("redis_close_error", zap.Error(err))
		}
	}
}
