// Package postgresql stores the archive index in a PostgreSQL table.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Index implements archive.Index with one row per record, ordered by an insert sequence.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewIndex connects to databaseURL and migrates the archive schema.
func NewIndex(ctx context.Context, logger *slog.Logger, databaseURL string) (*Index, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())
	if err := migrationManager.RunMigrations(ctx); err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Index{db: database, logger: logger}, nil
}

func (i *Index) Append(ctx context.Context, record archive.Record) error {
	input, err := json.Marshal(record.Input)
	if err != nil {
		return fmt.Errorf("failed to encode input descriptor: %w", err)
	}

	output, err := json.Marshal(record.Output)
	if err != nil {
		return fmt.Errorf("failed to encode output descriptor: %w", err)
	}

	query := `
		INSERT INTO archive_records (archive_id, created_at, task_id, product_option, seed, input, output)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = i.db.ExecContext(ctx, query,
		record.ArchiveID,
		record.CreatedAt,
		record.TaskID,
		record.ProductOption,
		record.Seed,
		input,
		output,
	)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", record.ArchiveID, err)
	}

	return nil
}

func (i *Index) List(ctx context.Context, since string, limit int) ([]archive.Record, error) {
	if err := archive.ValidateLimit(limit); err != nil {
		return nil, err
	}

	query := `
		SELECT archive_id, created_at, task_id, product_option, seed, input, output
		FROM (
			SELECT seq, archive_id, created_at, task_id, product_option, seed, input, output
			FROM archive_records
			WHERE $1 = '' OR created_at > $1
			ORDER BY seq DESC
			LIMIT $2
		) latest
		ORDER BY seq ASC
	`

	rows, err := i.db.QueryContext(ctx, query, archive.NormalizeSince(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive records: %w", err)
	}
	defer rows.Close()

	records := make([]archive.Record, 0)

	for rows.Next() {
		var (
			record        archive.Record
			input, output []byte
		)

		err := rows.Scan(
			&record.ArchiveID,
			&record.CreatedAt,
			&record.TaskID,
			&record.ProductOption,
			&record.Seed,
			&input,
			&output,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive record: %w", err)
		}

		if err := json.Unmarshal(input, &record.Input); err != nil {
			i.logger.WarnContext(ctx, "skipping record with malformed input descriptor", "archive_id", record.ArchiveID)

			continue
		}

		if err := json.Unmarshal(output, &record.Output); err != nil {
			i.logger.WarnContext(ctx, "skipping record with malformed output descriptor", "archive_id", record.ArchiveID)

			continue
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archive records: %w", err)
	}

	return records, nil
}

// HealthCheck verifies the database connection is healthy.
func (i *Index) HealthCheck(ctx context.Context) error {
	if err := i.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (i *Index) Close() error {
	if err := i.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}

	return nil
}
