package domain

import (
	"errors"
	"fmt"
)

// ErrReconciliationMiss is reported when an update references no known contact
var ErrReconciliationMiss = errors.New("no contact matches update")

// ErrContactNotFound is returned by lookups on unknown ids
var ErrContactNotFound = errors.New("contact not found")

// TransportError represents a connection drop or timeout
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthenticationError is raised when the remote side rejects or ignores the
// authenticate request
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return "authentication failed: " + e.Reason
}

// MutationRejectedError is returned after an optimistic change was rolled back
type MutationRejectedError struct {
	ContactID string
	Err       error
}

func (e *MutationRejectedError) Error() string {
	return fmt.Sprintf("update of contact %s rejected: %v", e.ContactID, e.Err)
}

func (e *MutationRejectedError) Unwrap() error {
	return e.Err
}
