package archive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no blob exists for the requested archive id and kind.
	ErrNotFound = errors.New("archive not found")

	// ErrInvalidKind indicates a kind other than input or output.
	ErrInvalidKind = errors.New("kind must be input or output")

	// ErrInvalidLimit indicates a list limit outside 1..MaxListLimit.
	ErrInvalidLimit = errors.New("limit out of range")
)

// BlobError wraps storage errors with the blob they concern.
type BlobError struct {
	Op        string // "write", "open", "list", "delete"
	Kind      Kind
	ArchiveID string
	Err       error
}

func (e *BlobError) Error() string {
	if e.ArchiveID == "" {
		return fmt.Sprintf("%s %s blobs: %v", e.Op, e.Kind, e.Err)
	}

	return fmt.Sprintf("%s %s blob for %s: %v", e.Op, e.Kind, e.ArchiveID, e.Err)
}

func (e *BlobError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the archive does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
