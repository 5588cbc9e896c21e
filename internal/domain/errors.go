package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	ErrSerializationFailure  = errors.New("serialization failure")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrEmptyCart             = errors.New("empty cart")
	ErrIllegalTransition     = errors.New("illegal transition")
	ErrIllegalState          = errors.New("illegal state")
	ErrAlreadyTerminal       = errors.New("already terminal")
	ErrValidation            = errors.New("validation error")
	ErrConsistencyViolation  = errors.New("consistency violation")
)

// InsufficientInventoryError identifies the ticket that could not be reserved.
type InsufficientInventoryError struct {
	TicketID  uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for ticket %s: requested %d, available %d",
		e.TicketID, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

func NotFoundf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func Validationf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

func IllegalTransitionf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrIllegalTransition)
}

func AlreadyTerminalf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrAlreadyTerminal)
}

func IllegalStatef(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrIllegalState)
}

// ConsistencyViolationf reports a broken invariant. It signals a bug or corrupted
// data and must abort the surrounding transaction.
func ConsistencyViolationf(format string, args ...interface{}) error {
	return errors.Mark(errors.AssertionFailedf(format, args...), ErrConsistencyViolation)
}

// IsBusinessError reports whether err is a recoverable, caller-facing failure.
func IsBusinessError(err error) bool {
	return errors.IsAny(err,
		ErrNotFound,
		ErrInsufficientInventory,
		ErrEmptyCart,
		ErrIllegalTransition,
		ErrIllegalState,
		ErrAlreadyTerminal,
		ErrValidation,
	)
}
