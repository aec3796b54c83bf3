package remote

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProtocol means the remote API answered but broke its success contract.
	ErrProtocol = errors.New("remote protocol error")

	// ErrTimeout means a task was still processing when the poll deadline passed.
	ErrTimeout = errors.New("remote task timed out")
)

// ProtocolError carries the raw diagnostic of a contract violation.
type ProtocolError struct {
	Op         string // "create", "outputs" or "fetch"
	StatusCode int    // HTTP status, 0 if the transport succeeded with a 2xx
	Code       *int   // API code field when one was decoded
	Message    string
	Body       string // raw response body, truncated
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}

	if e.Code != nil {
		msg += fmt.Sprintf(" (code %d)", *e.Code)
	}

	if e.Body != "" {
		msg += ": " + e.Body
	}

	return msg
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// TimeoutError reports a poll that ran out of time.
type TimeoutError struct {
	TaskID   string
	Elapsed  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s still processing after %s (%d polls)", e.TaskID, e.Elapsed.Round(time.Millisecond), e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsProtocolError reports whether err is a remote contract violation.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsTimeout reports whether err is a poll deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

const maxDiagnosticBody = 2048

func truncate(body []byte) string {
	if len(body) > maxDiagnosticBody {
		return string(body[:maxDiagnosticBody]) + "..."
	}

	return string(body)
}
