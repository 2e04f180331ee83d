// File: internal/runner/errors.go
package runner

import (
	"errors"
)

// Errors surfaced by Start. Everything that happens inside the loop is
// reported through the run's terminal state instead, never as a returned
// error: planner and backend failures degrade to a finish action, and loop
// failures park the run in StateError.
var (
	// ErrAlreadyRunning is returned when Start is called while a run is in a
	// non-terminal state. Serializing concurrent starts by rejection is part
	// of the public contract, not an implementation convenience.
	ErrAlreadyRunning = errors.New("a run is already in progress")

	// ErrAgentDisabled is returned when the agent feature is switched off in
	// configuration or stored settings. Fatal to the call; no retry.
	ErrAgentDisabled = errors.New("agent is disabled by configuration")

	// ErrEmptyGoal rejects a Start without a goal to pursue.
	ErrEmptyGoal = errors.New("goal must not be empty")
)
