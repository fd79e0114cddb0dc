package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/game"
)

type AppConfig struct {
	IrisBaseURL string `env:"IRIS_BASE_URL"`
	IrisWSURL   string `env:"IRIS_WS_URL"`
	IrisEgress  string `env:"IRIS_EGRESS" envDefault:"http"` // http | ws | auto

	XUserID    string `env:"X_USER_ID"`
	XUserEmail string `env:"X_USER_EMAIL"`
	XSessionID string `env:"X_SESSION_ID"`

	BotPrefix string `env:"BOT_PREFIX"`

	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	TextgenURL     string        `env:"TEXTGEN_URL"`
	TextgenAPIKey  string        `env:"TEXTGEN_API_KEY"`
	TextgenModel   string        `env:"TEXTGEN_MODEL"`
	TextgenTimeout time.Duration `env:"TEXTGEN_TIMEOUT" envDefault:"20s"`
	TextgenRPS     float64       `env:"TEXTGEN_RPS" envDefault:"2"`

	DefaultLang  string   `env:"DEFAULT_LANG" envDefault:"en"`
	AllowedRooms []string `env:"ALLOWED_ROOMS" envSeparator:","`
	MessagesDir  string   `env:"MESSAGES_DIR"`

	MinPlayers              int  `env:"MIN_PLAYERS" envDefault:"3"`
	WarmupMessagesPerPlayer int  `env:"WARMUP_MESSAGES_PER_PLAYER" envDefault:"3"`
	HuntMessagesPerPlayer   int  `env:"HUNT_MESSAGES_PER_PLAYER" envDefault:"3"`
	WinningScore            int  `env:"WINNING_SCORE" envDefault:"5"`
	MaxBotTurns             int  `env:"MAX_BOT_TURNS" envDefault:"10"`
	TypingDelay             bool `env:"TYPING_DELAY" envDefault:"true"`
}

// IrisHeaders returns the identity headers Iris expects on HTTP and WS requests.
func (c *AppConfig) IrisHeaders() map[string]string {
	h := map[string]string{}
	if c.XUserID != "" {
		h["X-User-Id"] = c.XUserID
	}
	if c.XUserEmail != "" {
		h["X-User-Email"] = c.XUserEmail
	}
	if c.XSessionID != "" {
		h["X-Session-Id"] = c.XSessionID
	}
	return h
}

// Rules maps the tuning variables onto game rules.
func (c *AppConfig) Rules() game.Rules {
	return game.Rules{
		MinPlayers:              c.MinPlayers,
		WarmupMessagesPerPlayer: c.WarmupMessagesPerPlayer,
		HuntMessagesPerPlayer:   c.HuntMessagesPerPlayer,
		WinningScore:            c.WinningScore,
		MaxBotTurns:             c.MaxBotTurns,
	}.Normalize()
}

// Lang is the language new games start in.
func (c *AppConfig) Lang() game.Lang { return game.ParseLang(c.DefaultLang) }

// RoomAllowed reports whether the bot answers in room. An empty allow list allows every room.
func (c *AppConfig) RoomAllowed(room string) bool {
	if len(c.AllowedRooms) == 0 {
		return true
	}
	room = strings.TrimSpace(room)
	for _, r := range c.AllowedRooms {
		if strings.TrimSpace(r) == room {
			return true
		}
	}
	return false
}

func Load() (*AppConfig, error) {
	cfg, err := env.ParseAs[AppConfig]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.IrisBaseURL = strings.TrimSpace(cfg.IrisBaseURL)
	cfg.IrisWSURL = strings.TrimSpace(cfg.IrisWSURL)
	cfg.BotPrefix = strings.TrimSpace(cfg.BotPrefix)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.IrisEgress = strings.ToLower(strings.TrimSpace(cfg.IrisEgress))

	if cfg.IrisBaseURL == "" {
		return nil, errors.New("IRIS_BASE_URL is required")
	}
	if cfg.IrisWSURL == "" {
		return nil, errors.New("IRIS_WS_URL is required")
	}
	if cfg.BotPrefix == "" {
		return nil, errors.New("BOT_PREFIX is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.IrisEgress {
	case "http", "ws", "auto":
	default:
		return nil, fmt.Errorf("IRIS_EGRESS must be http, ws or auto, got %q", cfg.IrisEgress)
	}
	return &cfg, nil
}
