// Package redis stores the archive index as a Redis list of JSON records.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the list holding the index.
const DefaultKey = "tryon:archive:index"

const connectTimeout = 5 * time.Second

// Index implements archive.Index with RPUSH appends to a single list, so list order
// is append order.
type Index struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewIndex connects to redisURL (redis://[user:pass@]host:port/db) and verifies the connection.
func NewIndex(ctx context.Context, logger *slog.Logger, redisURL string) (*Index, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewIndexWithClient(client, DefaultKey, logger), nil
}

// NewIndexWithClient returns an index over an existing client and key.
func NewIndexWithClient(client *redis.Client, key string, logger *slog.Logger) *Index {
	return &Index{client: client, key: key, logger: logger}
}

func (i *Index) Append(ctx context.Context, record archive.Record) error {
	entry, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.ArchiveID, err)
	}

	if err := i.client.RPush(ctx, i.key, entry).Err(); err != nil {
		return fmt.Errorf("failed to append record %s: %w", record.ArchiveID, err)
	}

	return nil
}

func (i *Index) List(ctx context.Context, since string, limit int) ([]archive.Record, error) {
	if err := archive.ValidateLimit(limit); err != nil {
		return nil, err
	}

	entries, err := i.client.LRange(ctx, i.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	records := make([]archive.Record, 0, len(entries))

	for pos, entry := range entries {
		var record archive.Record
		if err := json.Unmarshal([]byte(entry), &record); err != nil || record.ArchiveID == "" {
			i.logger.DebugContext(ctx, "skipping malformed index entry", "position", pos)

			continue
		}

		records = append(records, record)
	}

	return archive.Tail(records, since, limit), nil
}

// HealthCheck pings the server.
func (i *Index) HealthCheck(ctx context.Context) error {
	if err := i.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (i *Index) Close() error {
	if err := i.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}

	return nil
}
