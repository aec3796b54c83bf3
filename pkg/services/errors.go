// Package services implements the generation pipeline and the archive gateway.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/remote"
)

// Client errors (400). Each wraps ErrInvalidRequest.
var (
	ErrInvalidRequest = errors.New("invalid request")

	ErrInvalidProductOption = fmt.Errorf("%w: productOption must be an integer >= 1", ErrInvalidRequest)
	ErrEmptyUpload          = fmt.Errorf("%w: userImage is empty", ErrInvalidRequest)
	ErrMissingImage         = fmt.Errorf("%w: userImage is required", ErrInvalidRequest)
	ErrInvalidSeed          = fmt.Errorf("%w: seed must be an integer", ErrInvalidRequest)
)

var (
	// ErrUnauthorized indicates a missing or wrong archive token, or no token configured.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNoOutputURL indicates the remote outputs carried no usable URL.
	ErrNoOutputURL = fmt.Errorf("%w: no output url in task outputs", remote.ErrProtocol)
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a client error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, archive.ErrInvalidKind) ||
		errors.Is(err, archive.ErrInvalidLimit)
}

// IsUnauthorized checks if an error should return HTTP 401.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func newError(op string, err error) *ServiceError {
	return &ServiceError{Op: op, Err: err}
}
