// irischeck probes the services the bot depends on and exits non-zero when one is down.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/park285/Impostor-KakaoTalk-bot/internal/archive"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/config"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/irisfast"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/obslog"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/store"
	"go.uber.org/zap"
)

type check struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	watch := flag.Duration("watch", 0, "also log websocket messages for this long")
	flag.Parse()

	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(2)
	}
	defer obslog.Sync()

	cfg, err := config.Load()
	if err != nil {
		obslog.L().Error("config_error", zap.Error(err))
		os.Exit(2)
	}

	failed := runChecks(context.Background(), checks(cfg), 5*time.Second)
	if *watch > 0 {
		watchWS(cfg, *watch)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func checks(cfg *config.AppConfig) []check {
	client := irisfast.NewClient(cfg.IrisBaseURL,
		irisfast.WithHeaderProvider(cfg.IrisHeaders),
		irisfast.WithTimeout(8*time.Second),
	)
	out := []check{
		{"iris", func(ctx context.Context) error {
			ic, err := client.GetConfig(ctx)
			if err != nil {
				return err
			}
			obslog.L().Info("iris_config", zap.Int("port", ic.Port), zap.Int("polling", ic.PollingSpeed),
				zap.Int("rate", ic.MessageRate), zap.String("endpoint", ic.WebserverEndpoint))
			return nil
		}},
		{"redis", func(ctx context.Context) error {
			rdb, err := store.Open(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			return rdb.Close()
		}},
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		out = append(out, check{"postgres", func(context.Context) error {
			repo, err := archive.NewRepository(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			return repo.Close()
		}})
	}
	return out
}

// runChecks runs every check with its own timeout and returns how many failed.
func runChecks(ctx context.Context, cs []check, timeout time.Duration) int {
	failed := 0
	for _, c := range cs {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := c.run(cctx)
		cancel()
		if err != nil {
			failed++
			obslog.L().Error("check_failed", zap.String("check", c.name), zap.Error(err))
			continue
		}
		obslog.L().Info("check_ok", zap.String("check", c.name), zap.Duration("took", time.Since(start)))
	}
	return failed
}

func watchWS(cfg *config.AppConfig, d time.Duration) {
	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
	ws.SetHeaderProvider(cfg.IrisHeaders)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		obslog.L().Info("ws_state", zap.String("state", state.String()))
	})
	ws.OnMessage(func(msg *irisfast.Message) {
		obslog.L().Info("ws_message", zap.String("room", msg.Room), zap.String("from", msg.SenderName()), zap.String("text", msg.Msg))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ws.Connect(ctx); err != nil {
		obslog.L().Error("ws_connect_error", zap.Error(err))
		return
	}
	time.Sleep(d)
	_ = ws.Close(context.Background())
}
