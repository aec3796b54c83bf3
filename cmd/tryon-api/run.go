package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/cmd"
	"github.com/dukex/tryon/pkg/config"
	"github.com/dukex/tryon/pkg/log"
	"github.com/dukex/tryon/pkg/otelhelper"
	"github.com/dukex/tryon/pkg/remote"
	"github.com/dukex/tryon/pkg/retention"
	"github.com/dukex/tryon/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Start the HTTP API (default)",
		Action: runAPI,
	}
}

func runAPI(ctx context.Context, command *cli.Command) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)
	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing try-on API",
		"workflow_id", cfg.Remote.WorkflowID,
		"archive_url", cfg.Archive.BlobURL,
		"allow_fixed_seed", cfg.AllowFixedSeed,
	)

	opts := []services.GenerationOption{}

	if cfg.Tracing.Enabled {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shut down tracer", "error", err)
			}
		}()

		opts = append(opts, services.WithTracer(tracer))
	}

	blobs, index, err := openArchive(ctx, logger, cfg.Archive)
	if err != nil {
		return err
	}

	defer closeArchive(ctx, logger, blobs, index)

	eventBus, err := cmd.NewEventBus(cfg.Events, cfg.Tracing.Enabled, logger)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}

	if eventBus != nil {
		defer func() {
			if err := eventBus.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		}()

		if cfg.Events.Provider == "gochannel" {
			if err := cmd.LogArchiveEvents(ctx, eventBus, logger); err != nil {
				return fmt.Errorf("failed to subscribe to archive events: %w", err)
			}
		}

		opts = append(opts, services.WithPublisher(eventBus))
	}

	if cfg.Archive.Token == "" {
		logger.WarnContext(ctx, "ARCHIVE_TOKEN is not set; archive list and download are disabled")
	}

	scheduler, err := retention.NewScheduler(
		retention.NewSweeper(blobs, logger),
		cfg.Archive.RetentionDays,
		cfg.Archive.RetentionSchedule,
		logger,
	)
	if err != nil {
		return err
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to stop retention scheduler", "error", err)
		}
	}()

	generation := services.NewGeneration(
		remote.NewClient(cfg.Remote, logger),
		blobs,
		index,
		cfg,
		logger,
		opts...,
	)
	archiveService := services.NewArchive(blobs, index, cfg.Archive.Token, logger)

	api := NewAPI(logger, generation, archiveService, cfg.MaxUploadBytes)

	logger.InfoContext(ctx, "Starting HTTP server", "port", cfg.Port)

	return api.Start(cfg.Port)
}

func openArchive(ctx context.Context, logger *slog.Logger, cfg config.Archive) (archive.BlobStore, archive.Index, error) {
	blobs, err := cmd.NewBlobStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	index, err := cmd.NewIndex(ctx, logger, cfg)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("failed to open archive index: %w", err), blobs.Close())
	}

	return blobs, index, nil
}

func closeArchive(ctx context.Context, logger *slog.Logger, blobs archive.BlobStore, index archive.Index) {
	if err := index.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close archive index", "error", err)
	}

	if err := blobs.Close(); err != nil {
		logger.ErrorContext(ctx, "Failed to close blob store", "error", err)
	}
}
