// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrDuplicate    = errors.New("already exists")
)

// ErrSessionNotFound is returned when a cart session lookup misses
type ErrSessionNotFound struct {
	SessionID string
}

func (e *ErrSessionNotFound) Error() string {
	return fmt.Sprintf("cart session %s not found", e.SessionID)
}

func NewSessionNotFound(id string) error {
	return &ErrSessionNotFound{SessionID: id}
}

// ErrInvalidTransition is returned when a status change is not allowed from
// the session's current status.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot move cart session from %s to %s", e.From, e.To)
}

func NewInvalidTransition(from, to string) error {
	return &ErrInvalidTransition{From: from, To: to}
}

// ErrValidation carries a client facing message for malformed input.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, msg string) error {
	return &ErrValidation{Field: field, Message: msg}
}

func IsNotFound(err error) bool {
	var nf *ErrSessionNotFound
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var v *ErrValidation
	return errors.As(err, &v)
}

func IsInvalidTransition(err error) bool {
	var it *ErrInvalidTransition
	return errors.As(err, &it)
}
