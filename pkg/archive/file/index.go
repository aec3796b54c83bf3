package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/xeipuuv/gojsonschema"
)

// IndexFilename is the default index file inside the archive root.
const IndexFilename = "index.jsonl"

const maxLineBytes = 1 << 20

const recordSchema = `{
  "type": "object",
  "required": ["archiveId", "createdAt", "taskId", "input", "output"],
  "properties": {
    "archiveId": {"type": "string", "minLength": 1},
    "createdAt": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}Z$"},
    "taskId": {"type": "string"},
    "productOption": {"type": "integer"},
    "seed": {"type": "integer"},
    "input": {"$ref": "#/definitions/descriptor"},
    "output": {"$ref": "#/definitions/descriptor"}
  },
  "definitions": {
    "descriptor": {
      "type": "object",
      "required": ["filename", "mime", "size"],
      "properties": {
        "filename": {"type": "string"},
        "mime": {"type": "string"},
        "size": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

// Index implements archive.Index as a JSON Lines file. Every record is one line,
// written with a single call on an append-only handle.
type Index struct {
	mu     sync.Mutex
	path   string
	schema *gojsonschema.Schema
	logger *slog.Logger
}

// NewIndex opens (creating if needed) the index file at path. A "file://" prefix is accepted.
func NewIndex(path string, logger *slog.Logger) (*Index, error) {
	cleanPath := strings.TrimPrefix(path, "file://")

	if err := os.MkdirAll(filepath.Dir(cleanPath), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile record schema: %w", err)
	}

	return &Index{
		path:   cleanPath,
		schema: schema,
		logger: logger.With("index", cleanPath),
	}, nil
}

func (i *Index) Append(_ context.Context, record archive.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.ArchiveID, err)
	}

	line = append(line, '\n')

	i.mu.Lock()
	defer i.mu.Unlock()

	f, err := os.OpenFile(i.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()

		return fmt.Errorf("failed to append record %s: %w", record.ArchiveID, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close index: %w", err)
	}

	return nil
}

func (i *Index) List(ctx context.Context, since string, limit int) ([]archive.Record, error) {
	if err := archive.ValidateLimit(limit); err != nil {
		return nil, err
	}

	records, err := i.readAll(ctx)
	if err != nil {
		return nil, err
	}

	return archive.Tail(records, since, limit), nil
}

func (i *Index) readAll(ctx context.Context) ([]archive.Record, error) {
	f, err := os.Open(i.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []archive.Record{}, nil
		}

		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	defer f.Close()

	records := make([]archive.Record, 0)
	reader := bufio.NewReaderSize(f, 64*1024)

	for lineNo := 1; ; lineNo++ {
		line, tooLong, err := readLine(reader)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read index: %w", err)
		}

		switch {
		case tooLong:
			i.logger.DebugContext(ctx, "skipping oversized index line", "line", lineNo)
		case len(strings.TrimSpace(string(line))) == 0:
		default:
			record, ok := i.decode(line)
			if ok {
				records = append(records, record)
			} else {
				i.logger.DebugContext(ctx, "skipping malformed index line", "line", lineNo)
			}
		}

		if errors.Is(err, io.EOF) {
			return records, nil
		}
	}
}

// readLine returns the next line without its newline. Lines longer than maxLineBytes
// are consumed up to the next newline and reported as tooLong with no content.
func readLine(reader *bufio.Reader) ([]byte, bool, error) {
	var line []byte

	tooLong := false

	for {
		chunk, err := reader.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxLineBytes+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if tooLong {
			return nil, true, err
		}

		return bytes.TrimSuffix(line, []byte("\n")), false, err
	}
}

func (i *Index) decode(line []byte) (archive.Record, bool) {
	result, err := i.schema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil || !result.Valid() {
		return archive.Record{}, false
	}

	var record archive.Record
	if err := json.Unmarshal(line, &record); err != nil {
		return archive.Record{}, false
	}

	return record, true
}

// HealthCheck verifies the index directory is reachable.
func (i *Index) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(filepath.Dir(i.path)); err != nil {
		return fmt.Errorf("index directory unavailable: %w", err)
	}

	return nil
}

// Close is a no-op; the index file is opened per operation.
func (i *Index) Close() error {
	return nil
}
