package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the store, the engine and the transport.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation error")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrTransientStore    = errors.New("transient store error")
)

// Validation sentinels kept from the expense validation rules.
var (
	ErrInvalidAmount    = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrEmptyDescription = fmt.Errorf("%w: empty description", ErrValidation)
	ErrEmptyCategory    = fmt.Errorf("%w: empty category", ErrValidation)
	ErrUnknownFrequency = fmt.Errorf("%w: unknown frequency", ErrValidation)
	ErrDuplicateSource  = fmt.Errorf("%w: source already materialized for period", ErrConflict)
	ErrImmutableSource  = fmt.Errorf("%w: only one-off expenses can be edited or deleted", ErrConflict)
)

// OpError carries the operation and entity that failed.
type OpError struct {
	Op     string
	Entity string
	ID     any
	Err    error
}

func (e *OpError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s %s %v: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// NotFound builds a NotFound error for entity/id.
func NotFound(op, entity string, id any) error {
	return &OpError{Op: op, Entity: entity, ID: id, Err: ErrNotFound}
}

// Conflict wraps err with entity context; the result always matches ErrConflict.
func Conflict(op, entity string, id any, err error) error {
	switch {
	case err == nil:
		err = ErrConflict
	case !errors.Is(err, ErrConflict):
		err = fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return &OpError{Op: op, Entity: entity, ID: id, Err: err}
}

// Validationf formats a validation error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// SourceUnavailablef formats a source-unavailable error.
func SourceUnavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSourceUnavailable, fmt.Sprintf(format, args...))
}

// Transient marks err as retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransientStore, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore)
}
