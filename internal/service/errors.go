package service

import (
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/store"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrConflict                = errors.New("conflict")
	ErrInvalidState            = fmt.Errorf("%w: invalid state for this operation", ErrConflict)
	ErrAlreadySettled          = fmt.Errorf("%w: booking already settled", ErrConflict)
	ErrActiveBooking           = fmt.Errorf("%w: an active booking for this product already exists", ErrConflict)
	ErrExpired                 = errors.New("approval window has expired")
	ErrForbidden               = errors.New("forbidden")
	ErrNotFound                = errors.New("not found")
	ErrSignatureMismatch       = errors.New("signature mismatch")
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")
	ErrReconciliation          = errors.New("payment reconciliation failed")
	ErrBankDetailsMissing      = errors.New("provider has no payout bank details on file")
)

// RangeConflictError is returned when a window overlaps an active booking or
// calendar block. ConflictUntil is the earliest end date among the conflicts.
type RangeConflictError struct {
	ConflictUntil time.Time
}

func (e *RangeConflictError) Error() string {
	return fmt.Sprintf("range unavailable until %s", models.FormatDate(e.ConflictUntil))
}

func (e *RangeConflictError) Unwrap() error { return ErrConflict }

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// fromStore maps store sentinels onto domain errors.
func fromStore(err error) error {
	if err == nil {
		return nil
	}
	if rc, ok := store.IsRangeConflict(err); ok {
		return &RangeConflictError{ConflictUntil: rc.Until}
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, err.Error())
	case errors.Is(err, store.ErrActiveBookingExists):
		return ErrActiveBooking
	case errors.Is(err, store.ErrStatusChanged):
		return fmt.Errorf("%w: %s", ErrInvalidState, err.Error())
	}
	return err
}
