// Package errs holds the error kinds shared by the lending core. Callers wrap
// them with context and match with errors.Is at the transport boundary.
package errs

import "errors"

var (
	ErrNotFound          = errors.New("not_found")
	ErrInsufficientScore = errors.New("insufficient_score")
	// ErrLockTimeout is retryable: the row lock was not granted in time.
	ErrLockTimeout   = errors.New("lock_timeout")
	ErrAlreadyExists = errors.New("already_exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidInput  = errors.New("invalid_input")
)

// Code returns the stable snake_case code for err, or "internal_error".
func Code(err error) string {
	for _, kind := range []error{ErrNotFound, ErrInsufficientScore, ErrLockTimeout, ErrAlreadyExists, ErrUnauthorized, ErrInvalidInput} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal_error"
}
