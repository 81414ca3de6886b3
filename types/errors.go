package types

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
)

// ValidationError is returned for input that is rejected before any remote call is made. The message is meant
// to be shown to the user as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// RemoteError wraps a failed gateway call (network, permission or constraint violation).
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func Remote(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Err: err}
}

// PartialError reports a multi-step operation whose later step failed after an earlier step had already been
// applied. Compensated tells whether the earlier step was undone.
type PartialError struct {
	Op          string
	Completed   string
	Failed      string
	Compensated bool
	Err         error
}

func (e *PartialError) Error() string {
	state := "left in place"
	if e.Compensated {
		state = "rolled back"
	}
	return fmt.Sprintf("%s: %s succeeded but %s failed (%s): %s", e.Op, e.Completed, e.Failed, state, e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}
