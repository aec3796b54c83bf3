// Package retention deletes archive blobs older than the configured retention window.
// Index records are never pruned.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/tryon/pkg/archive"
)

// Store is the part of archive.BlobStore the sweeper needs.
type Store interface {
	List(ctx context.Context, kind archive.Kind) ([]string, error)
	Delete(ctx context.Context, kind archive.Kind, name string) error
}

// Sweeper removes expired blobs from every kind namespace.
type Sweeper struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper creates a sweeper over store.
func NewSweeper(store Store, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:  store,
		logger: logger.With("module", "retention"),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Sweep deletes blobs whose name stamp is strictly before now minus retentionDays and
// returns how many were deleted. Non-positive retention is a no-op. Failures are
// logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context, retentionDays int) int {
	if retentionDays <= 0 {
		return 0
	}

	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)
	deleted := 0

	for _, kind := range archive.Kinds {
		names, err := s.store.List(ctx, kind)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to list blobs", "kind", kind, "error", err)

			continue
		}

		for _, name := range names {
			stamp, err := archive.ParseStamp(name)
			if err != nil {
				s.logger.DebugContext(ctx, "skipping blob without timestamp", "kind", kind, "name", name)

				continue
			}

			if !stamp.Before(cutoff) {
				continue
			}

			if err := s.store.Delete(ctx, kind, name); err != nil {
				s.logger.WarnContext(ctx, "failed to delete expired blob", "kind", kind, "name", name, "error", err)

				continue
			}

			deleted++
		}
	}

	s.logger.InfoContext(ctx, "Retention sweep finished",
		"retention_days", retentionDays,
		"cutoff", cutoff.Format(time.RFC3339),
		"deleted", deleted,
	)

	return deleted
}
