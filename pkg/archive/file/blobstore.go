// Package file stores archive blobs and the archive index on the local file system.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/google/uuid"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// BlobStore implements archive.BlobStore with one directory per blob kind.
type BlobStore struct {
	root string
}

// NewBlobStore creates the kind directories under root. A "file://" prefix is accepted.
func NewBlobStore(root string) (*BlobStore, error) {
	cleanRoot := strings.TrimPrefix(root, "file://")

	for _, kind := range archive.Kinds {
		if err := os.MkdirAll(filepath.Join(cleanRoot, kind.Namespace()), dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", kind.Namespace(), err)
		}
	}

	return &BlobStore{root: cleanRoot}, nil
}

// Root is the directory holding the kind namespaces.
func (s *BlobStore) Root() string {
	return s.root
}

func (s *BlobStore) WriteInput(_ context.Context, data []byte, archiveID, mimeHint, uploadName string) (string, error) {
	name := archive.InputFilename(archiveID, mimeHint, uploadName)

	return name, s.write(archive.KindInput, archiveID, name, data)
}

func (s *BlobStore) WriteOutput(_ context.Context, data []byte, archiveID string) (string, error) {
	name := archive.OutputFilename(archiveID)

	return name, s.write(archive.KindOutput, archiveID, name, data)
}

// write publishes data under name through a temp file and a rename, so readers never
// observe a partial blob.
func (s *BlobStore) write(kind archive.Kind, archiveID, name string, data []byte) error {
	dir := s.dir(kind)
	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")

	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		_ = os.Remove(tmp)

		return &archive.BlobError{Op: "write", Kind: kind, ArchiveID: archiveID, Err: err}
	}

	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tmp)

		return &archive.BlobError{Op: "write", Kind: kind, ArchiveID: archiveID, Err: err}
	}

	return nil
}

func (s *BlobStore) Open(_ context.Context, kind archive.Kind, archiveID string) (*archive.Blob, error) {
	if !archive.ValidID(archiveID) {
		return nil, archive.ErrNotFound
	}

	names, err := s.names(kind)
	if err != nil {
		return nil, &archive.BlobError{Op: "open", Kind: kind, ArchiveID: archiveID, Err: err}
	}

	idx := slices.IndexFunc(names, func(name string) bool { return archive.HasID(name, archiveID) })
	if idx < 0 {
		return nil, archive.ErrNotFound
	}

	f, err := os.Open(filepath.Join(s.dir(kind), names[idx]))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, archive.ErrNotFound
		}

		return nil, &archive.BlobError{Op: "open", Kind: kind, ArchiveID: archiveID, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, &archive.BlobError{Op: "open", Kind: kind, ArchiveID: archiveID, Err: err}
	}

	return &archive.Blob{Name: names[idx], MIME: archive.MIMEFor(kind), Size: info.Size(), Body: f}, nil
}

func (s *BlobStore) List(_ context.Context, kind archive.Kind) ([]string, error) {
	names, err := s.names(kind)
	if err != nil {
		return nil, &archive.BlobError{Op: "list", Kind: kind, Err: err}
	}

	return names, nil
}

func (s *BlobStore) Delete(_ context.Context, kind archive.Kind, name string) error {
	if name == "" || name != filepath.Base(name) {
		return &archive.BlobError{Op: "delete", Kind: kind, Err: fmt.Errorf("invalid blob name %q", name)}
	}

	if err := os.Remove(filepath.Join(s.dir(kind), name)); err != nil {
		return &archive.BlobError{Op: "delete", Kind: kind, Err: err}
	}

	return nil
}

// HealthCheck verifies both kind directories exist.
func (s *BlobStore) HealthCheck(_ context.Context) error {
	for _, kind := range archive.Kinds {
		if _, err := os.Stat(s.dir(kind)); err != nil {
			return fmt.Errorf("%s directory unavailable: %w", kind.Namespace(), err)
		}
	}

	return nil
}

// Close is a no-op for the file system.
func (s *BlobStore) Close() error {
	return nil
}

func (s *BlobStore) dir(kind archive.Kind) string {
	return filepath.Join(s.root, kind.Namespace())
}

// names lists regular, non-hidden files of a kind in lexicographic order.
func (s *BlobStore) names(kind archive.Kind) ([]string, error) {
	entries, err := os.ReadDir(s.dir(kind))
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		names = append(names, entry.Name())
	}

	return names, nil
}
