package configentry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidTransitions(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateNotLoaded, StateSetupInProgress},
		{StateSetupInProgress, StateLoaded},
		{StateSetupInProgress, StateSetupError},
		{StateSetupInProgress, StateSetupRetry},
		{StateSetupInProgress, StateMigrationError},
		{StateSetupError, StateSetupInProgress},
		{StateSetupError, StateUnloadInProgress},
		{StateSetupRetry, StateSetupInProgress},
		{StateSetupRetry, StateUnloadInProgress},
		{StateLoaded, StateUnloadInProgress},
		{StateUnloadInProgress, StateNotLoaded},
		{StateUnloadInProgress, StateFailedUnload},
	}
	for _, c := range cases {
		assert.True(t, CanTransitionTo(c.from, c.to), "%s -> %s", c.from, c.to)
		got, err := TryTransition(c.from, c.to)
		require.NoError(t, err)
		assert.Equal(t, c.to, got)
	}
}

func TestInvalidTransitions(t *testing.T) {
	cases := []struct{ from, to State }{
		{StateNotLoaded, StateLoaded},
		{StateLoaded, StateNotLoaded},
		{StateLoaded, StateSetupInProgress},
		{StateSetupInProgress, StateNotLoaded},
		{StateUnloadInProgress, StateLoaded},
	}
	for _, c := range cases {
		assert.False(t, CanTransitionTo(c.from, c.to), "%s -> %s", c.from, c.to)
		_, err := TryTransition(c.from, c.to)
		assert.Error(t, err)
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	allStates := []State{
		StateNotLoaded, StateSetupInProgress, StateLoaded, StateSetupError,
		StateSetupRetry, StateMigrationError, StateUnloadInProgress, StateFailedUnload,
	}
	for _, terminal := range []State{StateMigrationError, StateFailedUnload} {
		for _, to := range allStates {
			assert.False(t, CanTransitionTo(terminal, to), "%s -> %s should be rejected", terminal, to)
		}
	}
}

func TestInvalidTransitionErrorMessage(t *testing.T) {
	_, err := TryTransition(StateNotLoaded, StateLoaded)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not_loaded")
	assert.Contains(t, err.Error(), "loaded")
}

func TestCalculateRetryDelayExponentialBackoffCappedAtFour(t *testing.T) {
	cases := []struct {
		tries uint32
		base  time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{5, 80 * time.Second},
		{100, 80 * time.Second},
	}
	for _, c := range cases {
		delay := CalculateRetryDelay(c.tries)
		assert.GreaterOrEqual(t, delay, c.base)
		assert.Less(t, delay, c.base+100*time.Millisecond)
	}
}

func TestStateIsRecoverable(t *testing.T) {
	assert.True(t, StateNotLoaded.IsRecoverable())
	assert.True(t, StateLoaded.IsRecoverable())
	assert.True(t, StateSetupError.IsRecoverable())
	assert.True(t, StateSetupRetry.IsRecoverable())

	assert.False(t, StateSetupInProgress.IsRecoverable())
	assert.False(t, StateMigrationError.IsRecoverable())
	assert.False(t, StateUnloadInProgress.IsRecoverable())
	assert.False(t, StateFailedUnload.IsRecoverable())
}
