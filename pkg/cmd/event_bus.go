package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/tryon/pkg/channels/gochannel"
	"github.com/dukex/tryon/pkg/channels/kafka"
	"github.com/dukex/tryon/pkg/config"
	"github.com/dukex/tryon/pkg/eventbus"
	"github.com/dukex/tryon/pkg/events"
)

// NewEventBus builds the archive event bus. It returns nil when no provider is configured.
func NewEventBus(cfg config.Events, otelEnabled bool, logger *slog.Logger) (*eventbus.WatermillEventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch cfg.Provider {
	case "":
		return nil, nil
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, cfg.Topic, logger), nil
	case "kafka":
		pub, err := kafka.CreatePublisher(wmLogger, cfg.KafkaBrokers, otelEnabled)
		if err != nil {
			return nil, err
		}

		return eventbus.NewWatermillEventBus(pub, nil, cfg.Topic, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", cfg.Provider)
	}
}

// LogArchiveEvents subscribes a handler that writes every archive.created event to logger.
// It is used with the in-process bus, where nothing else consumes the topic.
func LogArchiveEvents(ctx context.Context, bus eventbus.EventSubscriber, logger *slog.Logger) error {
	logger = logger.With("module", "archive_events")

	err := bus.Handle(events.ArchiveCreatedEvent, func(ctx context.Context, event any) error {
		created, ok := event.(*events.ArchiveCreated)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		logger.InfoContext(ctx, "Archive created",
			"event_id", created.ID,
			"archive_id", created.Record.ArchiveID,
			"task_id", created.Record.TaskID,
			"product_option", created.Record.ProductOption,
		)

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Subscribe(ctx)
}
