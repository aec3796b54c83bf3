package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/tryon/pkg/cmd"
	"github.com/dukex/tryon/pkg/log"
	"github.com/dukex/tryon/pkg/retention"
	cli "github.com/urfave/cli/v3"
)

var errRetentionDisabled = errors.New("archive-retention-days must be positive to sweep")

func SweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run one retention sweep over the archive and exit",
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("sweep")

			cfg := archiveConfig(command)

			days := command.Int("archive-retention-days")
			if days <= 0 {
				return errRetentionDisabled
			}

			blobs, err := cmd.NewBlobStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open blob store: %w", err)
			}

			defer func() {
				if err := blobs.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close blob store", "error", err)
				}
			}()

			deleted := retention.NewSweeper(blobs, logger).Sweep(ctx, days)

			logger.InfoContext(ctx, "Sweep finished", "deleted", deleted)

			return nil
		},
	}
}
