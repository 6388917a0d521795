package engine

import "errors"

var (
	// ErrSettingsMissing is returned when the first message of a new task
	// carries no agent settings.
	ErrSettingsMissing = errors.New("agent settings missing on new task")

	// ErrTaskNotFound is returned by lookups for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")

	// ErrAlreadyFinal reports an operation against a task in a terminal
	// state. Informational, not fatal.
	ErrAlreadyFinal = errors.New("task already in a terminal state")

	// ErrExecutionAborted reports that the cancellation signal fired while
	// a turn was in flight.
	ErrExecutionAborted = errors.New("execution aborted")

	// ErrMissingPersistedState is returned by Reconstruct when a snapshot
	// lacks required fields.
	ErrMissingPersistedState = errors.New("persisted task state missing required fields")

	// ErrMaxTurnsExceeded reports a turn loop that hit its iteration cap
	// without the model yielding control.
	ErrMaxTurnsExceeded = errors.New("max turns exceeded")
)
