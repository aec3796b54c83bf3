package services

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/dukex/tryon/pkg/archive"
)

// Archive is the token gated read side of the archive.
type Archive struct {
	blobs  archive.BlobStore
	index  archive.Index
	token  string
	logger *slog.Logger
}

// NewArchive creates the gateway. An empty token rejects every request.
func NewArchive(blobs archive.BlobStore, index archive.Index, token string, logger *slog.Logger) *Archive {
	return &Archive{
		blobs:  blobs,
		index:  index,
		token:  token,
		logger: logger.With("module", "archive"),
	}
}

// Download opens the blob of the given kind for archiveID. The token is checked before
// any storage access. An empty kind selects the output.
func (a *Archive) Download(ctx context.Context, archiveID, token, kind string) (*archive.Blob, error) {
	if !a.authorized(token) {
		return nil, newError("download", ErrUnauthorized)
	}

	blobKind, err := archive.ParseKind(kind)
	if err != nil {
		return nil, newError("download", err)
	}

	if !archive.ValidID(archiveID) {
		return nil, newError("download", archive.ErrNotFound)
	}

	blob, err := a.blobs.Open(ctx, blobKind, archiveID)
	if err != nil {
		return nil, newError("download", err)
	}

	a.logger.DebugContext(ctx, "Serving archive blob", "archive_id", archiveID, "kind", blobKind, "name", blob.Name)

	return blob, nil
}

// Authorize fails with ErrUnauthorized unless token matches the configured secret.
func (a *Archive) Authorize(token string) error {
	if !a.authorized(token) {
		return newError("authorize", ErrUnauthorized)
	}

	return nil
}

// List returns index records after since, at most limit, oldest first.
func (a *Archive) List(ctx context.Context, token, since string, limit int) ([]archive.Record, error) {
	if !a.authorized(token) {
		return nil, newError("list", ErrUnauthorized)
	}

	if err := archive.ValidateLimit(limit); err != nil {
		return nil, newError("list", err)
	}

	records, err := a.index.List(ctx, since, limit)
	if err != nil {
		return nil, newError("list", err)
	}

	return records, nil
}

// HealthCheck reports the health of each backend by name.
func (a *Archive) HealthCheck(ctx context.Context) map[string]error {
	return map[string]error{
		"blobs": a.blobs.HealthCheck(ctx),
		"index": a.index.HealthCheck(ctx),
	}
}

func (a *Archive) authorized(token string) bool {
	if a.token == "" || token == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}
