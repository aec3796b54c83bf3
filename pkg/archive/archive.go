// Package archive defines the durable history of generation runs: blob storage for
// the input and output images and an append-only index of completed runs.
//
// Backends live in subpackages (file, s3, postgresql, redis); this package holds the
// shared record model, naming rules and interfaces.
package archive

import (
	"context"
	"io"
)

// Kind separates input blobs from output blobs. Each kind is its own namespace.
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
)

// Kinds lists every blob namespace.
var Kinds = []Kind{KindInput, KindOutput}

// Namespace is the directory (or key prefix) holding blobs of this kind.
func (k Kind) Namespace() string {
	return string(k) + "s"
}

// ParseKind validates a caller supplied kind. An empty string selects KindOutput.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindOutput:
		return KindOutput, nil
	case KindInput:
		return KindInput, nil
	default:
		return "", ErrInvalidKind
	}
}

// Descriptor describes one stored blob.
type Descriptor struct {
	Filename string `json:"filename"`
	MIME     string `json:"mime"`
	Size     int64  `json:"size"`
}

// OutputDescriptor describes the stored result and where it was fetched from.
type OutputDescriptor struct {
	Descriptor

	SourceURL string `json:"sourceUrl"`
}

// Record is one completed generation run. Records are immutable once appended.
type Record struct {
	ArchiveID     string           `json:"archiveId"`
	CreatedAt     string           `json:"createdAt"`
	TaskID        string           `json:"taskId"`
	ProductOption int              `json:"productOption"`
	Seed          int64            `json:"seed"`
	Input         Descriptor       `json:"input"`
	Output        OutputDescriptor `json:"output"`
}

// Blob is an opened stored blob. Callers must close Body.
type Blob struct {
	Name string
	MIME string
	Size int64
	Body io.ReadCloser
}

// BlobStore persists input and output blobs under deterministic names.
type BlobStore interface {
	// WriteInput stores the uploaded image and returns its filename.
	WriteInput(ctx context.Context, data []byte, archiveID, mimeHint, uploadName string) (string, error)
	// WriteOutput stores the generated image and returns its filename.
	WriteOutput(ctx context.Context, data []byte, archiveID string) (string, error)
	// Open returns the first blob of the given kind named "<archiveID>_*".
	Open(ctx context.Context, kind Kind, archiveID string) (*Blob, error)
	// List returns the names of every blob of the given kind.
	List(ctx context.Context, kind Kind) ([]string, error)
	// Delete removes one blob by name.
	Delete(ctx context.Context, kind Kind, name string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Index is the append-only log of completed runs.
type Index interface {
	// Append adds one record. Prior records are never rewritten.
	Append(ctx context.Context, record Record) error
	// List returns, oldest first, the last limit records whose CreatedAt sorts after
	// since. An empty since disables the filter.
	List(ctx context.Context, since string, limit int) ([]Record, error)
	HealthCheck(ctx context.Context) error
	Close() error
}
