package simulation

import (
	"errors"
	"fmt"
)

var ErrCollaborator = errors.New("collaborator unavailable")

// CollaboratorError is a transient failure of an external dependency: an AI
// provider, a market-data source, an exchange or a notification channel.
// Workers retry it on the next tick.
type CollaboratorError struct {
	Service string
	Err     error
}

func (e *CollaboratorError) Error() string {
	if e.Err == nil {
		return e.Service + ": unavailable"
	}
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *CollaboratorError) Unwrap() []error { return []error{ErrCollaborator, e.Err} }

func Collaborator(service string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Service: service, Err: err}
}
