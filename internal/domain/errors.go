package domain

import "github.com/cockroachdb/errors"

var (
	ErrInvalidSeatSet    = errors.New("invalid seat set")
	ErrSeatCountMismatch = errors.New("seat count does not match passenger count")
	ErrSeatUnavailable   = errors.New("seat unavailable")
	ErrHoldExpired       = errors.New("hold expired")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrNotOwner          = errors.New("not owner")
	ErrAlreadyCancelled  = errors.New("reservation already cancelled")
	ErrValidation        = errors.New("validation error")
	ErrStorageFailure    = errors.New("storage failure")
	ErrNotFound          = errors.New("not found")
	ErrUnauthenticated   = errors.New("unauthenticated")

	ErrSerializationFailure = errors.New("serialization failure")
)

// StorageFailure tags err as transient so callers can match it with
// errors.Is(err, ErrStorageFailure) while the original cause is kept.
func StorageFailure(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrStorageFailure)
}
