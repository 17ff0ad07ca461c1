package agent

import "errors"

var (
	// ErrEmptyTurn is returned when a turn produced no text and no tool calls.
	ErrEmptyTurn = errors.New("model returned an empty response")

	// ErrTurnCapReached is returned when the run hit the turn limit.
	ErrTurnCapReached = errors.New("turn limit reached")

	// ErrRunInProgress is returned when the conversation already has an active run.
	ErrRunInProgress = errors.New("a run is already in progress for this conversation")

	// ErrToolsUnavailable is returned when tool definitions could not be fetched.
	ErrToolsUnavailable = errors.New("tool registry unavailable")
)
