package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethangolledge/vapebot/internal/store"
)

func TestStoreBasedStateManager(t *testing.T) {
	ctx := context.Background()
	sm := NewStoreBasedStateManager(store.NewInMemoryStore())

	current, err := sm.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, current)

	require.NoError(t, sm.Set(ctx, "u1", StateAwaitTokes))
	require.NoError(t, sm.Transition(ctx, "u1", StateAwaitTokes, StateAwaitStrength))

	current, err = sm.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StateAwaitStrength, current)

	err = sm.Transition(ctx, "u1", StateAwaitTokes, StateAwaitStrength)
	assert.Error(t, err, "transition from a state the user is not in must fail")

	idle, err := sm.Idle(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "u1", idle[0].UserID)

	require.NoError(t, sm.Reset(ctx, "u1"))
	current, err = sm.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, current)
}

func TestStateActive(t *testing.T) {
	for _, s := range []State{StateAwaitTokes, StateAwaitStrength, StateAwaitMethod, StateAwaitGoal} {
		assert.True(t, s.Active(), s)
	}
	for _, s := range []State{StateIdle, StateComplete, StateCancelled} {
		assert.False(t, s.Active(), s)
	}
}
