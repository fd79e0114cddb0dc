package appbuilder

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/config"
	"github.com/park285/Impostor-KakaoTalk-bot/internal/textgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	mr := miniredis.RunT(t)
	return &config.AppConfig{
		IrisBaseURL:  "http://iris.invalid",
		IrisWSURL:    "ws://iris.invalid/ws",
		IrisEgress:   "http",
		BotPrefix:    "!",
		RedisURL:     "redis://" + mr.Addr() + "/0",
		DefaultLang:  "en",
		MinPlayers:   3,
		WinningScore: 5,
	}
}

func TestNewWithoutOptionalBackends(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	assert.Nil(t, d.Archive)
	assert.IsType(t, &textgen.Canned{}, d.Generator)
	assert.NotNil(t, d.Engine)
	assert.NotNil(t, d.Relay)
	assert.Equal(t, 3, d.Engine.Rules().MinPlayers)

	g, err := d.Engine.CreateGame(context.Background(), "room", cfg.Lang())
	require.NoError(t, err)
	assert.Equal(t, "room", g.Room)
}

func TestNewUsesTextgenClientWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.TextgenURL = "http://textgen.invalid/v1/chat/completions"

	d, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	assert.IsType(t, &textgen.Client{}, d.Generator)
}

func TestNewFailsWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}
