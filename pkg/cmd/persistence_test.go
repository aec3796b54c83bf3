package cmd

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/archive/file"
	"github.com/dukex/tryon/pkg/archive/s3"
	"github.com/dukex/tryon/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"./archive":                   "file",
		"/var/lib/tryon":              "file",
		"file:///var/lib/tryon":       "file",
		"s3://bucket/prefix":          "s3",
		"postgres://u:p@db/tryon":     "postgres",
		"postgresql://u:p@db/tryon":   "postgres",
		"redis://localhost:6379/0":    "redis",
		"rediss://cache:6380/1":       "redis",
		"mongodb://localhost/archive": "mongodb",
	}

	for in, want := range tests {
		assert.Equal(t, want, parseProvider(in), in)
	}
}

func TestNewBlobStoreAndIndex_File(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := config.Archive{BlobURL: "file://" + root}

	blobs, err := NewBlobStore(t.Context(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &file.BlobStore{}, blobs)

	index, err := NewIndex(t.Context(), slog.Default(), cfg)
	require.NoError(t, err)
	require.NoError(t, index.Append(t.Context(), testRecord()))
	assert.FileExists(t, filepath.Join(root, file.IndexFilename))
}

func TestNewIndex_RequiresURLForS3(t *testing.T) {
	t.Parallel()

	_, err := NewIndex(t.Context(), slog.Default(), config.Archive{BlobURL: "s3://bucket"})
	require.ErrorIs(t, err, ErrIndexURLRequired)

	_, err = NewIndex(t.Context(), slog.Default(), config.Archive{BlobURL: "./x", IndexURL: "mongodb://localhost"})
	require.Error(t, err)
}

func TestNewBlobStore_S3(t *testing.T) {
	t.Parallel()

	blobs, err := NewBlobStore(t.Context(), config.Archive{
		BlobURL: "s3://bucket/prefix",
		S3:      config.S3{Region: "us-east-1", AccessKey: "a", SecretKey: "b", Endpoint: "http://127.0.0.1:9000"},
	})
	require.NoError(t, err)
	assert.IsType(t, &s3.BlobStore{}, blobs)

	_, err = NewBlobStore(t.Context(), config.Archive{BlobURL: "gs://bucket"})
	require.Error(t, err)
}

func TestNewEventBus(t *testing.T) {
	t.Parallel()

	bus, err := NewEventBus(config.Events{}, false, slog.Default())
	require.NoError(t, err)
	assert.Nil(t, bus)

	bus, err = NewEventBus(config.Events{Provider: "gochannel", Topic: "t"}, false, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, bus)
	require.NoError(t, bus.Close())

	_, err = NewEventBus(config.Events{Provider: "kafka", Topic: "t"}, false, slog.Default())
	require.Error(t, err)

	_, err = NewEventBus(config.Events{Provider: "rabbitmq"}, false, slog.Default())
	require.Error(t, err)
}

func testRecord() archive.Record {
	return archive.Record{
		ArchiveID: "20260101T000000Z_T1",
		CreatedAt: "2026-01-01T00:00:00Z",
		TaskID:    "T1",
		Input:     archive.Descriptor{Filename: "20260101T000000Z_T1_input.png", MIME: "image/png", Size: 1},
		Output: archive.OutputDescriptor{
			Descriptor: archive.Descriptor{Filename: "20260101T000000Z_T1_output.png", MIME: "image/png", Size: 1},
		},
	}
}
