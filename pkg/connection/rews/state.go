package rews

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a reconnecting connection.
//
//	Disconnected -> Connecting -> Connected -> Disconnected -> Connecting ...
//	any open state -> Closing -> Closed
type State int

const (
	StateUnknown State = iota
	StateDisconnected
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "Unknown"
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "InvalidState"
	}
}

// ErrInvalidTransition is wrapped by every rejected state change.
var ErrInvalidTransition = errors.New("invalid state transition")

func (s State) validateTransitionTo(newState State) error {
	switch s {
	case StateDisconnected:
		switch newState {
		case StateConnecting, StateClosing:
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateDisconnected, StateClosing:
			return nil
		}
	case StateConnected:
		switch newState {
		case StateDisconnected, StateClosing:
			return nil
		}
	case StateClosing:
		if newState == StateClosed {
			return nil
		}
	}

	return fmt.Errorf("%w from %v to %v", ErrInvalidTransition, s, newState)
}
