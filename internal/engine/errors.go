package engine

import (
	"errors"
	"fmt"

	"decisionsupport/internal/repo"
)

// ErrInvalidInput marks requests the caller must fix, such as a missing process_id.
var ErrInvalidInput = errors.New("invalid input")

// NotFoundError reports an id that does not resolve to a record of Kind.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s was not found.", e.Kind, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// UpstreamError wraps an unexpected persistence or serialization failure.
// Callers surface it without the wrapped detail.
type UpstreamError struct {
	Op  string
	Err error
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e UpstreamError) Unwrap() error { return e.Err }

// upstream logs err with its detail and returns it as an UpstreamError.
func (e Engine) upstream(op string, err error) error {
	e.logger().Error("An error occurred while "+op, "error", err)
	return UpstreamError{Op: op, Err: err}
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
