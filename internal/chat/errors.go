package chat

import (
	"errors"
	"fmt"
)

// Error taxonomy for the chat core.
//
// Callers branch with errors.Is / errors.As:
//   - ErrNotFound: room or message does not exist; not retryable.
//   - ErrNotParticipant: caller is not a member of the room; not retryable.
//   - ErrStorageUnavailable: transient backing-store failure; retryable with backoff.
//     A send is never acknowledged unless the append truly committed.
//   - ValidationError: malformed input; surfaced immediately, never retried.
var (
	ErrNotFound           = errors.New("chat: not found")
	ErrNotParticipant     = errors.New("chat: not a participant")
	ErrStorageUnavailable = errors.New("chat: storage unavailable")
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// storageErr wraps a backend failure so callers can classify it as transient.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
