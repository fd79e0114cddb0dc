package game

import "errors"

// Error is a domain failure surfaced to the chat layer.
// Two errors match under errors.Is when their codes are equal.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "game error"
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidTransition    = &Error{Code: "invalid_transition", Message: "phase change not allowed"}
	ErrConcurrentTransition = &Error{Code: "concurrent_transition", Message: "phase already changed by another action", Retryable: true}
	ErrInvalidState         = &Error{Code: "invalid_state", Message: "operation not allowed in current phase"}
	ErrNotFound             = &Error{Code: "not_found", Message: "game or player not found"}
	ErrGenerationFailed     = &Error{Code: "generation_failed", Message: "text generation exhausted its retries"}
	ErrNotEnoughPlayers     = &Error{Code: "not_enough_players", Message: "not enough players to start"}
	ErrBotControlled        = &Error{Code: "bot_controlled", Message: "player is controlled by the impostor this round"}
	ErrInvalidVote          = &Error{Code: "invalid_vote", Message: "invalid vote target"}
)

// IsRetryable reports whether err carries a retryable domain error.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
