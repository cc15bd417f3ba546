package voicecall

import (
	"testing"

	"github.com/bt-bridge/livekit-voicecall/shared"
	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	all := []State{StateIdle, StateConnecting, StateConnected, StateDisconnecting}
	allowed := map[[2]State]bool{
		{StateIdle, StateConnecting}:          true,
		{StateConnecting, StateConnected}:     true,
		{StateConnecting, StateDisconnecting}: true,
		{StateConnecting, StateIdle}:          true,
		{StateConnected, StateDisconnecting}:  true,
		{StateConnected, StateIdle}:           true,
		{StateDisconnecting, StateIdle}:       true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]State{from, to}]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)

			m := stateMachine{current: from}
			err := m.transition(to)
			if want {
				assert.NoError(t, err)
				assert.Equal(t, to, m.current)
			} else {
				assert.ErrorIs(t, err, shared.ErrInvalidTransition)
				assert.Equal(t, from, m.current)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "disconnecting", StateDisconnecting.String())
	assert.Equal(t, "state(9)", State(9).String())
}
