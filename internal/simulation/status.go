package simulation

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrActive rejects removing a simulation still persisted running or paused.
	ErrActive = errors.New("simulation is running or paused")
)

// transitions is the complete persisted status graph.
var transitions = map[Status][]Status{
	StatusCreated: {StatusRunning},
	StatusRunning: {StatusPaused, StatusStopped, StatusError},
	StatusPaused:  {StatusRunning, StatusStopped, StatusError},
}

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusPaused, StatusStopped, StatusError:
		return true
	}
	return false
}

// Active reports whether a simulation in this status holds a worker slot.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused
}

func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusError
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError wraps ErrInvalidTransition with the attempted edge.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}
