// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/archive/file"
	"github.com/dukex/tryon/pkg/archive/postgresql"
	archiveredis "github.com/dukex/tryon/pkg/archive/redis"
	"github.com/dukex/tryon/pkg/archive/s3"
	"github.com/dukex/tryon/pkg/config"
)

// ErrIndexURLRequired is returned when the index location cannot be derived from the blob store.
var ErrIndexURLRequired = errors.New("index url is required when blobs are not stored on the local file system")

// NewBlobStore selects the blob backend by URL scheme: s3:// or a local path (file:// optional).
func NewBlobStore(ctx context.Context, cfg config.Archive) (archive.BlobStore, error) {
	switch parseProvider(cfg.BlobURL) {
	case "s3":
		return s3.New(ctx, cfg.BlobURL, cfg.S3)
	case "file":
		return file.NewBlobStore(cfg.BlobURL)
	default:
		return nil, fmt.Errorf("unsupported blob store url %q", cfg.BlobURL)
	}
}

// NewIndex selects the index backend by URL scheme: postgres://, redis:// or a local
// file. Without an IndexURL the index lives beside a file blob store.
func NewIndex(ctx context.Context, logger *slog.Logger, cfg config.Archive) (archive.Index, error) {
	indexURL := cfg.IndexURL
	if indexURL == "" {
		if parseProvider(cfg.BlobURL) != "file" {
			return nil, ErrIndexURLRequired
		}

		indexURL = filepath.Join(strings.TrimPrefix(cfg.BlobURL, "file://"), file.IndexFilename)
	}

	switch parseProvider(indexURL) {
	case "postgres":
		return postgresql.NewIndex(ctx, logger, indexURL)
	case "redis":
		return archiveredis.NewIndex(ctx, logger, indexURL)
	case "file":
		return file.NewIndex(indexURL, logger)
	default:
		return nil, fmt.Errorf("unsupported index url %q", indexURL)
	}
}

func parseProvider(rawURL string) string {
	scheme, _, found := strings.Cut(rawURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "file":
		return "file"
	case "s3":
		return "s3"
	case "postgres", "postgresql":
		return "postgres"
	case "redis", "rediss":
		return "redis"
	default:
		return scheme
	}
}
