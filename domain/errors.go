package domain

import (
	"errors"
	"fmt"
)

// ErrCorruptPayload indicates that persisted data exists but cannot be read
// back as a valid task collection.
var ErrCorruptPayload = errors.New("corrupt task payload")

// ErrStorageUnavailable indicates the persistence backend could not be reached.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrIDExhausted is an internal invariant failure: the id generator kept
// returning ids that were already issued. It is neither a ValidationError nor
// a PersistenceError, nothing is written, and callers should treat it as a
// server fault.
var ErrIDExhausted = errors.New("unable to allocate unique task id")

// ValidationError is returned for bad input to Add. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a failed save or load.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err for operation op. A nil err yields nil and an
// existing PersistenceError is returned unchanged.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
