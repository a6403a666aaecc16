package core

import (
	"errors"
	"fmt"
)

// ErrNotFound means the record does not exist for the requesting user.
// A record owned by a different user is reported identically, so existence
// never leaks across user partitions.
var ErrNotFound = errors.New("record not found")

// TransientError marks a failure of an external collaborator (storage,
// network, model API) that may succeed on retry. Callers distinguish it
// from logical not-found via IsTransient.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError, preserving nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
