package game

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	all := []Status{StatusLobby, StatusTalkingWarmup, StatusTalkingHunt, StatusVoting, StatusOver}
	allowed := map[[2]Status]bool{
		{StatusLobby, StatusTalkingWarmup}:       true,
		{StatusLobby, StatusOver}:                true,
		{StatusTalkingWarmup, StatusTalkingHunt}: true,
		{StatusTalkingWarmup, StatusOver}:        true,
		{StatusTalkingHunt, StatusVoting}:        true,
		{StatusTalkingHunt, StatusOver}:          true,
		{StatusVoting, StatusTalkingWarmup}:      true,
		{StatusVoting, StatusOver}:               true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestValidateTransitionErrors(t *testing.T) {
	err := ValidateTransition(StatusOver, StatusTalkingWarmup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.False(t, errors.Is(err, ErrConcurrentTransition))

	assert.ErrorIs(t, ValidateTransition(StatusLobby, StatusVoting), ErrInvalidTransition)
	assert.NoError(t, ValidateTransition(StatusVoting, StatusTalkingWarmup))
}

func TestParseStatusLegacyAlias(t *testing.T) {
	st, ok := ParseStatus("talking")
	require.True(t, ok)
	assert.Equal(t, StatusTalkingHunt, st)

	st, ok = ParseStatus(" VOTING ")
	require.True(t, ok)
	assert.Equal(t, StatusVoting, st)

	_, ok = ParseStatus("paused")
	assert.False(t, ok)
}

func TestRetryableErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("ctx"), ErrConcurrentTransition)
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(ErrInvalidTransition))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestMessageKinds(t *testing.T) {
	assert.True(t, KindStatus.IsMarker())
	assert.True(t, KindBotPicked.IsMarker())
	assert.False(t, KindUser.IsMarker())
	assert.False(t, MessageKind("emoji").Valid())
}
