package host

import (
	"errors"
	"fmt"

	"github.com/worldhost/worldhost/pkg/api"
	"github.com/worldhost/worldhost/pkg/negotiator"
)

// ErrSequence marks a message that is valid but not allowed in the current state.
var ErrSequence = errors.New("out of sequence")

// NegState is the state of one transport direction.
type NegState uint8

const (
	NegIdle NegState = iota
	NegCreating
	NegCreated
	NegConnecting
	NegConnected
)

func (s NegState) String() string {
	switch s {
	case NegIdle:
		return "idle"
	case NegCreating:
		return "creating"
	case NegCreated:
		return "created"
	case NegConnecting:
		return "connecting"
	case NegConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type negEvent uint8

const (
	evCreate negEvent = iota
	evCreated
	evConnect
	evConnected
	evFailed
)

func (e negEvent) String() string {
	return [...]string{"create", "created", "connect", "connected", "failed"}[e]
}

// transitions is the whole negotiation machine.
// A failure goes back to the state before the attempt.
var transitions = map[NegState]map[negEvent]NegState{
	NegIdle:       {evCreate: NegCreating},
	NegCreating:   {evCreated: NegCreated, evFailed: NegIdle},
	NegCreated:    {evConnect: NegConnecting},
	NegConnecting: {evConnected: NegConnected, evFailed: NegCreated},
	NegConnected:  {},
}

// negotiation is one direction of a player: its state and transport.
// Guarded by the player lock.
type negotiation struct {
	dir       api.Direction
	state     NegState
	transport *negotiator.Transport
}

func (n *negotiation) next(e negEvent) error {
	to, ok := transitions[n.state][e]
	if !ok {
		return fmt.Errorf("%w: %v transport is %v, can't %v", ErrSequence, n.dir, n.state, e)
	}
	n.state = to
	return nil
}

// expect checks the state without changing it.
func (n *negotiation) expect(s NegState) error {
	if n.state != s {
		return fmt.Errorf("%w: %v transport is %v, not %v", ErrSequence, n.dir, n.state, s)
	}
	return nil
}
