package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to RunStatus
		ok       bool
	}{
		{RunStatusPending, RunStatusRunning, true},
		{RunStatusRunning, RunStatusCompleted, true},
		{RunStatusRunning, RunStatusFailed, true},
		{RunStatusPending, RunStatusCompleted, false},
		{RunStatusPending, RunStatusFailed, false},
		{RunStatusCompleted, RunStatusRunning, false},
		{RunStatusFailed, RunStatusRunning, false},
		{RunStatusCompleted, RunStatusFailed, false},
		{RunStatusFailed, RunStatusPending, false},
		{RunStatusRunning, RunStatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, RunStatusPending.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestRunStatusValid(t *testing.T) {
	t.Parallel()

	for _, s := range []RunStatus{RunStatusPending, RunStatusRunning, RunStatusCompleted, RunStatusFailed} {
		assert.True(t, s.Valid())
	}
	assert.False(t, RunStatus("queued").Valid())
	assert.False(t, RunStatus("").Valid())
}
