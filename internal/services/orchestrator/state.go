package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ternarybob/carextract/internal/models"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state
	ErrInvalidTransition = errors.New("operation not allowed in current run state")
	// ErrRecordNotFound is returned by RefreshOne and RemoveOne for an id not in the aggregate
	ErrRecordNotFound = errors.New("record not found")
)

type action string

const (
	actionStart  action = "start"
	actionPause  action = "pause"
	actionResume action = "resume"
	actionStop   action = "stop"
	actionFinish action = "finish"
	actionClear  action = "clear"
)

// transitions lists, per state, the actions it accepts and the resulting state.
// Stopped and Completed end a run; Start begins a new one from them.
var transitions = map[models.RunState]map[action]models.RunState{
	models.RunStateIdle: {
		actionStart: models.RunStateRunning,
		actionClear: models.RunStateIdle,
	},
	models.RunStateRunning: {
		actionPause:  models.RunStatePaused,
		actionStop:   models.RunStateStopped,
		actionFinish: models.RunStateCompleted,
	},
	models.RunStatePaused: {
		actionResume: models.RunStateRunning,
		actionStop:   models.RunStateStopped,
		// A pause requested during the last session is overtaken by completion
		actionFinish: models.RunStateCompleted,
	},
	models.RunStateStopped: {
		actionStart: models.RunStateRunning,
		actionClear: models.RunStateIdle,
	},
	models.RunStateCompleted: {
		actionStart: models.RunStateRunning,
		actionClear: models.RunStateIdle,
	},
}

// next validates a against the table
func next(from models.RunState, a action) (models.RunState, error) {
	to, ok := transitions[from][a]
	if !ok {
		return from, fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, a, from)
	}
	return to, nil
}
