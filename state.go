package voicecall

import (
	"fmt"

	"github.com/bt-bridge/livekit-voicecall/shared"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists every allowed edge. Connecting→Disconnecting happens when
// End arrives mid-connect and the room resolves anyway; Connected→Idle when the
// server or the agent drops the call.
var transitions = map[State][]State{
	StateIdle:          {StateConnecting},
	StateConnecting:    {StateConnected, StateDisconnecting, StateIdle},
	StateConnected:     {StateDisconnecting, StateIdle},
	StateDisconnecting: {StateIdle},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type stateMachine struct {
	current State
}

func (m *stateMachine) transition(to State) error {
	if !m.current.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, m.current, to)
	}
	m.current = to
	return nil
}
