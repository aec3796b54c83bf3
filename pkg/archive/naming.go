package archive

import (
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// StampLayout is the archive id timestamp: fixed width, UTC, sorts chronologically.
	StampLayout = "20060102T150405Z"
	// RecordTimeLayout is the CreatedAt format of index records.
	RecordTimeLayout = "2006-01-02T15:04:05Z"

	DefaultListLimit = 50
	MaxListLimit     = 500

	OutputMIME  = "image/png"
	GenericMIME = "application/octet-stream"

	outputExt  = ".png"
	genericExt = ".bin"
)

var (
	validID       = regexp.MustCompile(`^[0-9]{8}T[0-9]{6}Z_[A-Za-z0-9-]+$`)
	unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

	allowedExt = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

	mimeExt = map[string]string{
		"image/jpeg":  ".jpg",
		"image/jpg":   ".jpg",
		"image/pjpeg": ".jpg",
		"image/png":   ".png",
		"image/webp":  ".webp",
	}
)

// NewID derives the archive id of a run completed at t for the given remote task.
// Characters outside [A-Za-z0-9-] in the task id are replaced so the id is always
// a safe filename prefix.
func NewID(t time.Time, taskID string) string {
	safe := strings.Trim(unsafeIDChars.ReplaceAllString(taskID, "-"), "-")
	if safe == "" {
		safe = "task"
	}

	return t.UTC().Format(StampLayout) + "_" + safe
}

// ValidID reports whether id has the archive id shape. Ids from callers must pass
// this check before they reach a storage backend.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// RecordTime formats t as an index record timestamp.
func RecordTime(t time.Time) string {
	return t.UTC().Format(RecordTimeLayout)
}

// NormalizeSince accepts a record timestamp or a compact archive stamp and returns
// the record timestamp form used for comparison. Other values pass through unchanged.
func NormalizeSince(since string) string {
	since = strings.TrimSpace(since)

	if t, err := time.Parse(StampLayout, since); err == nil {
		return RecordTime(t)
	}

	return since
}

// ParseStamp extracts the creation time from a blob name or archive id.
func ParseStamp(name string) (time.Time, error) {
	stamp, _, found := strings.Cut(name, "_")
	if !found {
		return time.Time{}, fmt.Errorf("no timestamp segment in %q", name)
	}

	t, err := time.Parse(StampLayout, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp segment in %q: %w", name, err)
	}

	return t, nil
}

// InputFilename is the blob name of the uploaded image.
func InputFilename(archiveID, mimeHint, uploadName string) string {
	return archiveID + "_input" + InputExtension(mimeHint, uploadName)
}

// OutputFilename is the blob name of the generated image.
func OutputFilename(archiveID string) string {
	return archiveID + "_output" + outputExt
}

// InputExtension maps the upload's MIME type onto the allow-list, then tries the
// upload filename's extension, and falls back to a generic binary extension.
func InputExtension(mimeHint, uploadName string) string {
	if mediaType, _, err := mime.ParseMediaType(mimeHint); err == nil {
		if ext, ok := mimeExt[strings.ToLower(mediaType)]; ok {
			return ext
		}
	}

	if ext := strings.ToLower(filepath.Ext(uploadName)); allowedExt[ext] {
		return ext
	}

	return genericExt
}

// MIMEFor is the content type served for a blob kind.
func MIMEFor(kind Kind) string {
	if kind == KindOutput {
		return OutputMIME
	}

	return GenericMIME
}

// HasID reports whether a blob name belongs to archiveID.
func HasID(name, archiveID string) bool {
	return strings.HasPrefix(name, archiveID+"_")
}
