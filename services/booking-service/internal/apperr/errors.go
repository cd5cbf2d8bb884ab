// Package apperr defines the error kinds returned by the booking core.
// Callers branch with errors.Is on the sentinel values.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/booking-service/internal/model"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrConflict      = errors.New("slot unavailable")
	ErrNotFound      = errors.New("not found")
	ErrAuthorization = errors.New("not authorized")
	ErrState         = errors.New("invalid state transition")
	ErrExpiredOffer  = errors.New("offer expired")
)

// ConflictError is returned when a requested slot overlaps existing reservations
// or otherwise cannot be booked. It matches ErrConflict.
type ConflictError struct {
	Reason    string
	Conflicts []model.Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return ErrConflict.Error() + ": " + e.Reason
	}
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, fmt.Sprintf("%s (%s-%s)", c.ReservationID, c.Start, c.End))
	}
	return ErrConflict.Error() + ": " + e.Reason + ": " + strings.Join(ids, ", ")
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func State(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

func ExpiredOffer(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExpiredOffer, fmt.Sprintf(format, args...))
}
