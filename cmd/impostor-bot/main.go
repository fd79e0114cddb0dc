package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/appbuilder"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/config"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/irisfast"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	commandTimeout  = 30 * time.Second
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := config.Load()
	if err != nil {
		obslog.L().Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := appbuilder.New(ctx, cfg)
	if err != nil {
		obslog.L().Fatal("init_error", zap.Error(err))
	}
	defer deps.Close()

	r := &router{cfg: cfg, eng: deps.Engine, cat: deps.Catalog, out: deps.Egress}
	if deps.Archive != nil {
		r.wins = deps.Archive
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Relay.Run(gctx) })
	g.Go(func() error {
		if err := listen(gctx, deps.WS, r.Handle); err != nil {
			return err
		}
		obslog.L().Info("bot_started", zap.String("prefix", cfg.BotPrefix))
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		obslog.L().Error("bot_stopped", zap.Error(err))
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := deps.WS.Close(sctx); err != nil {
		obslog.L().Warn("ws_close_error", zap.Error(err))
	}
	if err := deps.Engine.Wait(sctx); err != nil {
		obslog.L().Warn("bot_turns_not_drained", zap.Error(err))
	}
	obslog.L().Info("bot_stopped_cleanly")
}

// listen hands every inbound message to handle on its own goroutine and connects ws.
func listen(ctx context.Context, ws irisfast.WSClient, handle func(context.Context, *irisfast.Message)) error {
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		obslog.L().Info("ws_state", zap.String("state", state.String()))
	})
	ws.OnMessage(func(msg *irisfast.Message) {
		go func() {
			cctx, cancel := context.WithTimeout(ctx, commandTimeout)
			defer cancel()
			handle(cctx, msg)
		}()
	})
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return ws.Connect(cctx)
}
