package port

import "errors"

// ErrConcurrencyConflict is returned when a writer lost an optimistic
// concurrency race. Re-read the aggregate and retry.
var ErrConcurrencyConflict = errors.New("concurrent modification, reload and retry")

// IsRetryable reports whether err may succeed on a fresh attempt
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
