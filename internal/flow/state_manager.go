package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethangolledge/vapebot/internal/models"
	"github.com/ethangolledge/vapebot/internal/store"
	"github.com/ethangolledge/vapebot/internal/util"
)

// StoreBasedStateManager implements StateManager using a FlowStateRepo backend.
type StoreBasedStateManager struct {
	store store.FlowStateRepo
	now   func() time.Time
}

// NewStoreBasedStateManager creates a new StateManager backed by a FlowStateRepo.
func NewStoreBasedStateManager(st store.FlowStateRepo) *StoreBasedStateManager {
	slog.Debug("Creating StoreBasedStateManager")
	return &StoreBasedStateManager{store: st, now: util.Now}
}

// Get returns the stored setup state row for a user.
func (sm *StoreBasedStateManager) Get(ctx context.Context, userID string) (*models.FlowState, error) {
	flowState, err := sm.store.GetFlowState(ctx, userID, FlowTypeSetup)
	if err != nil {
		slog.Error("StateManager Get error", "error", err, "userID", userID)
		return nil, err
	}
	return flowState, nil
}

// Current retrieves the current state for a user.
func (sm *StoreBasedStateManager) Current(ctx context.Context, userID string) (State, error) {
	flowState, err := sm.Get(ctx, userID)
	if err != nil {
		return StateIdle, err
	}
	if flowState == nil {
		return StateIdle, nil
	}
	return State(flowState.CurrentState), nil
}

// Set updates the current state for a user, creating the record if needed.
func (sm *StoreBasedStateManager) Set(ctx context.Context, userID string, state State) error {
	flowState, err := sm.store.GetFlowState(ctx, userID, FlowTypeSetup)
	if err != nil {
		slog.Error("StateManager Set get error", "error", err, "userID", userID)
		return err
	}

	now := sm.now()
	if flowState == nil {
		flowState = &models.FlowState{
			UserID:    userID,
			FlowType:  FlowTypeSetup,
			CreatedAt: now,
		}
	}
	flowState.CurrentState = string(state)
	flowState.UpdatedAt = now

	if err := sm.store.SaveFlowState(ctx, *flowState); err != nil {
		slog.Error("StateManager Set save error", "error", err, "userID", userID, "state", state)
		return err
	}
	slog.Debug("StateManager Set succeeded", "userID", userID, "state", state)
	return nil
}

// Transition transitions from one state to another.
func (sm *StoreBasedStateManager) Transition(ctx context.Context, userID string, from, to State) error {
	current, err := sm.Current(ctx, userID)
	if err != nil {
		return err
	}
	if current != from {
		err := fmt.Errorf("invalid state transition: expected %q, current is %q", from, current)
		slog.Error("StateManager Transition invalid transition", "error", err, "userID", userID)
		return err
	}
	if err := sm.Set(ctx, userID, to); err != nil {
		return err
	}
	slog.Info("StateManager Transition succeeded", "userID", userID, "from", from, "to", to)
	return nil
}

// Reset removes all state data for a user.
func (sm *StoreBasedStateManager) Reset(ctx context.Context, userID string) error {
	if err := sm.store.DeleteFlowState(ctx, userID, FlowTypeSetup); err != nil {
		slog.Error("StateManager Reset error", "error", err, "userID", userID)
		return err
	}
	slog.Info("StateManager Reset succeeded", "userID", userID)
	return nil
}

// Idle lists setup states last updated before the given time.
func (sm *StoreBasedStateManager) Idle(ctx context.Context, before time.Time) ([]models.FlowState, error) {
	return sm.store.ListFlowStates(ctx, FlowTypeSetup, before)
}
