// Package flow implements the setup conversation: a linear wizard that
// collects a user's baseline, nicotine strength, reduction method and goal.
package flow

import (
	"context"
	"time"

	"github.com/ethangolledge/vapebot/internal/models"
)

// FlowTypeSetup is the flow type under which setup conversation state is stored.
const FlowTypeSetup = "setup"

// State is a position in the setup wizard.
type State string

const (
	// StateIdle means no setup conversation has been started (or it was expired).
	StateIdle          State = ""
	StateAwaitTokes    State = "await_tokes"
	StateAwaitStrength State = "await_strength"
	StateAwaitMethod   State = "await_method"
	StateAwaitGoal     State = "await_goal"
	StateComplete      State = "complete"
	StateCancelled     State = "cancelled"
)

// Active reports whether the wizard is waiting for an answer in state s.
func (s State) Active() bool {
	switch s {
	case StateAwaitTokes, StateAwaitStrength, StateAwaitMethod, StateAwaitGoal:
		return true
	default:
		return false
	}
}

// StateManager defines the interface for managing setup conversation state.
type StateManager interface {
	// Get returns the stored state row for a user, or nil if none is stored.
	Get(ctx context.Context, userID string) (*models.FlowState, error)

	// Current retrieves the state for a user; StateIdle if none is stored.
	Current(ctx context.Context, userID string) (State, error)

	// Set unconditionally stores the state for a user.
	Set(ctx context.Context, userID string, state State) error

	// Transition moves from one state to another, failing if the user is not in from.
	Transition(ctx context.Context, userID string, from, to State) error

	// Reset removes all state for a user.
	Reset(ctx context.Context, userID string) error

	// Idle lists stored states last updated before the given time.
	Idle(ctx context.Context, before time.Time) ([]models.FlowState, error)
}
