package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/archive/file"
	"github.com/dukex/tryon/pkg/config"
	"github.com/dukex/tryon/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore records every storage access.
type countingStore struct {
	archive.BlobStore

	calls atomic.Int32
}

func (c *countingStore) Open(ctx context.Context, kind archive.Kind, archiveID string) (*archive.Blob, error) {
	c.calls.Add(1)

	return c.BlobStore.Open(ctx, kind, archiveID)
}

type countingIndex struct {
	archive.Index

	calls atomic.Int32
}

func (c *countingIndex) List(ctx context.Context, since string, limit int) ([]archive.Record, error) {
	c.calls.Add(1)

	return c.Index.List(ctx, since, limit)
}

func newGateway(t *testing.T, token string) (*services.Archive, *countingStore, *countingIndex, string) {
	t.Helper()

	fx := newFixture(t, successRemote())

	result, err := fx.generation(config.Default()).Generate(t.Context(), services.GenerateRequest{
		Image:         pngUpload(),
		Filename:      "me.png",
		ContentType:   "image/png",
		ProductOption: "2",
	})
	require.NoError(t, err)

	store := &countingStore{BlobStore: fx.blobs}
	index := &countingIndex{Index: fx.index}

	return services.NewArchive(store, index, token, slog.Default()), store, index, result.ArchiveID
}

func TestArchive_Download(t *testing.T) {
	t.Parallel()

	gateway, _, _, archiveID := newGateway(t, "s3cret")

	tests := []struct {
		kind     string
		wantName string
		wantMIME string
		wantSize int64
	}{
		{kind: "", wantName: archiveID + "_output.png", wantMIME: "image/png", wantSize: 20},
		{kind: "output", wantName: archiveID + "_output.png", wantMIME: "image/png", wantSize: 20},
		{kind: "input", wantName: archiveID + "_input.png", wantMIME: "application/octet-stream", wantSize: 10},
	}

	for _, tt := range tests {
		blob, err := gateway.Download(t.Context(), archiveID, "s3cret", tt.kind)
		require.NoError(t, err)

		body, err := io.ReadAll(blob.Body)
		require.NoError(t, err)
		require.NoError(t, blob.Body.Close())

		assert.Equal(t, tt.wantName, blob.Name)
		assert.Equal(t, tt.wantMIME, blob.MIME)
		assert.Equal(t, tt.wantSize, blob.Size)
		assert.Len(t, body, int(tt.wantSize))
	}
}

func TestArchive_DownloadErrors(t *testing.T) {
	t.Parallel()

	gateway, _, _, archiveID := newGateway(t, "s3cret")

	_, err := gateway.Download(t.Context(), archiveID, "s3cret", "thumbnail")
	require.ErrorIs(t, err, archive.ErrInvalidKind)
	assert.True(t, services.IsValidationError(err))

	_, err = gateway.Download(t.Context(), "20990101T000000Z_NOPE", "s3cret", "output")
	require.ErrorIs(t, err, archive.ErrNotFound)

	_, err = gateway.Download(t.Context(), "../../etc/passwd", "s3cret", "output")
	require.ErrorIs(t, err, archive.ErrNotFound)
}

func TestArchive_UnauthorizedNeverTouchesStorage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		configured string
		given      string
	}{
		{name: "wrong token", configured: "s3cret", given: "guess"},
		{name: "missing token", configured: "s3cret", given: ""},
		{name: "prefix of token", configured: "s3cret", given: "s3c"},
		{name: "no token configured", configured: "", given: ""},
		{name: "no token configured with guess", configured: "", given: "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gateway, store, index, archiveID := newGateway(t, tt.configured)

			_, err := gateway.Download(t.Context(), archiveID, tt.given, "output")
			require.ErrorIs(t, err, services.ErrUnauthorized)

			_, err = gateway.Download(t.Context(), archiveID, tt.given, "bogus")
			require.ErrorIs(t, err, services.ErrUnauthorized, "auth is checked before kind")

			_, err = gateway.List(t.Context(), tt.given, "", 50)
			require.ErrorIs(t, err, services.ErrUnauthorized)

			assert.Zero(t, store.calls.Load())
			assert.Zero(t, index.calls.Load())
		})
	}
}

func TestArchive_List(t *testing.T) {
	t.Parallel()

	gateway, _, _, archiveID := newGateway(t, "s3cret")

	records, err := gateway.List(t.Context(), "s3cret", "", 50)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, archiveID, records[0].ArchiveID)

	records, err = gateway.List(t.Context(), "s3cret", "2026-01-02T03:04:05Z", 50)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = gateway.List(t.Context(), "s3cret", "", 0)
	require.ErrorIs(t, err, archive.ErrInvalidLimit)
	assert.True(t, services.IsValidationError(err))
}

func TestArchive_Authorize(t *testing.T) {
	t.Parallel()

	gateway, _, _, _ := newGateway(t, "s3cret")
	require.NoError(t, gateway.Authorize("s3cret"))
	require.ErrorIs(t, gateway.Authorize("nope"), services.ErrUnauthorized)
	require.ErrorIs(t, gateway.Authorize(""), services.ErrUnauthorized)

	closed, _, _, _ := newGateway(t, "")
	assert.True(t, services.IsUnauthorized(closed.Authorize("")))
}

func TestArchive_HealthCheck(t *testing.T) {
	t.Parallel()

	blobs, err := file.NewBlobStore(t.TempDir())
	require.NoError(t, err)

	index, err := file.NewIndex(t.TempDir()+"/index.jsonl", slog.Default())
	require.NoError(t, err)

	checks := services.NewArchive(blobs, index, "", slog.Default()).HealthCheck(t.Context())
	assert.NoError(t, checks["blobs"])
	assert.NoError(t, checks["index"])
}
