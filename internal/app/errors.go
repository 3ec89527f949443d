package app

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy surfaced to transports. Validation and authorization
// failures are terminal for the single requesting action and reported
// only to the originator.
var (
	ErrValidation   = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("room id already exists")
	ErrRoomFull     = errors.New("room is full")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("identity not bound to this connection")
	ErrInternal     = errors.New("internal error")
)

// BanError rejects admission (or reports an enforcement) with the ban's
// reason and expiry attached.
type BanError struct {
	Reason    string
	ExpiresAt *time.Time
}

func (e *BanError) Error() string {
	if e.ExpiresAt == nil {
		return "banned from room"
	}
	return fmt.Sprintf("banned from room until %s", e.ExpiresAt.Format(time.RFC3339))
}

func validationErr(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
