// Package main provides the tryon API server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/tryon/pkg/config"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "tryon-api",
		Usage:                 "Generate try-on images through a remote workflow and archive every run",
		EnableShellCompletion: true,
		Flags:                 flags(),
		Commands: []*cli.Command{
			RunAPICommand(),
			SweepCommand(),
		},
		Action: runAPI,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	defaults := config.Default()

	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaults.Port,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   defaults.LogLevel,
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   defaults.LogFormat,
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.IntFlag{
			Name:    "max-upload-bytes",
			Usage:   "Largest accepted request body",
			Value:   defaults.MaxUploadBytes,
			Sources: cli.EnvVars("MAX_UPLOAD_BYTES"),
		},
		&cli.BoolFlag{
			Name:    "allow-fixed-seed",
			Usage:   "Honor caller supplied seeds when fixedSeed=true",
			Sources: cli.EnvVars("ALLOW_FIXED_SEED"),
		},
		&cli.StringFlag{
			Name:    "runninghub-base-url",
			Usage:   "Base URL of the workflow execution API",
			Value:   defaults.Remote.BaseURL,
			Sources: cli.EnvVars("RUNNINGHUB_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "runninghub-api-key",
			Usage:   "API key for the workflow execution API",
			Sources: cli.EnvVars("RUNNINGHUB_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "runninghub-workflow-id",
			Usage:   "Workflow to run; anything after '?' is ignored",
			Sources: cli.EnvVars("RUNNINGHUB_WORKFLOW_ID"),
		},
		&cli.DurationFlag{
			Name:    "poll-timeout",
			Usage:   "How long to wait for a task to finish",
			Value:   defaults.Remote.PollTimeout,
			Sources: cli.EnvVars("RUNNINGHUB_POLL_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "Delay between output polls",
			Value:   defaults.Remote.PollInterval,
			Sources: cli.EnvVars("RUNNINGHUB_POLL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "request-timeout",
			Usage:   "Timeout of each API call",
			Value:   defaults.Remote.RequestTimeout,
			Sources: cli.EnvVars("RUNNINGHUB_REQUEST_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "download-timeout",
			Usage:   "Timeout of the result download",
			Value:   defaults.Remote.DownloadTimeout,
			Sources: cli.EnvVars("RUNNINGHUB_DOWNLOAD_TIMEOUT"),
		},
		&cli.FloatFlag{
			Name:    "remote-rate-limit",
			Usage:   "Remote calls per second across all requests (0 disables)",
			Value:   defaults.Remote.RateLimit,
			Sources: cli.EnvVars("RUNNINGHUB_RATE_LIMIT"),
		},
		&cli.IntFlag{
			Name:    "remote-rate-burst",
			Usage:   "Burst allowance of the remote rate limit",
			Value:   defaults.Remote.RateBurst,
			Sources: cli.EnvVars("RUNNINGHUB_RATE_BURST"),
		},
		&cli.StringFlag{
			Name:    "prompt-node-id",
			Value:   defaults.Nodes.Prompt.NodeID,
			Sources: cli.EnvVars("RUNNINGHUB_PROMPT_NODE_ID"),
		},
		&cli.StringFlag{
			Name:    "prompt-field-name",
			Value:   defaults.Nodes.Prompt.FieldName,
			Sources: cli.EnvVars("RUNNINGHUB_PROMPT_FIELD_NAME"),
		},
		&cli.StringFlag{
			Name:    "prompt-text",
			Usage:   "Text sent to the prompt node",
			Value:   defaults.Nodes.PromptText,
			Sources: cli.EnvVars("RUNNINGHUB_PROMPT_TEXT"),
		},
		&cli.StringFlag{
			Name:    "image-node-id",
			Value:   defaults.Nodes.Image.NodeID,
			Sources: cli.EnvVars("RUNNINGHUB_USER_NODE_ID"),
		},
		&cli.StringFlag{
			Name:    "image-field-name",
			Value:   defaults.Nodes.Image.FieldName,
			Sources: cli.EnvVars("RUNNINGHUB_USER_FIELD_NAME"),
		},
		&cli.StringFlag{
			Name:    "product-node-id",
			Value:   defaults.Nodes.ProductOption.NodeID,
			Sources: cli.EnvVars("RUNNINGHUB_SWITCH_NODE_ID"),
		},
		&cli.StringFlag{
			Name:    "product-field-name",
			Value:   defaults.Nodes.ProductOption.FieldName,
			Sources: cli.EnvVars("RUNNINGHUB_SWITCH_FIELD_NAME"),
		},
		&cli.StringFlag{
			Name:    "seed-node-id",
			Value:   defaults.Nodes.Seed.NodeID,
			Sources: cli.EnvVars("RUNNINGHUB_SEED_NODE_ID"),
		},
		&cli.StringFlag{
			Name:    "seed-field-name",
			Value:   defaults.Nodes.Seed.FieldName,
			Sources: cli.EnvVars("RUNNINGHUB_SEED_FIELD_NAME"),
		},
		&cli.StringFlag{
			Name:    "archive-url",
			Usage:   "Blob storage: a directory, file://<dir> or s3://<bucket>[/<prefix>]",
			Value:   defaults.Archive.BlobURL,
			Sources: cli.EnvVars("ARCHIVE_URL", "ARCHIVE_DIR"),
		},
		&cli.StringFlag{
			Name:    "index-url",
			Usage:   "Index storage: a file, postgres://... or redis://... (default: index.jsonl in the archive directory)",
			Sources: cli.EnvVars("INDEX_URL"),
		},
		&cli.StringFlag{
			Name:    "archive-token",
			Usage:   "Secret for list and download; empty disables both",
			Sources: cli.EnvVars("ARCHIVE_TOKEN"),
		},
		&cli.IntFlag{
			Name:    "archive-retention-days",
			Usage:   "Delete blobs older than this many days (0 keeps everything)",
			Sources: cli.EnvVars("ARCHIVE_RETENTION_DAYS"),
		},
		&cli.StringFlag{
			Name:    "archive-retention-schedule",
			Usage:   "Cron schedule of the retention sweep",
			Value:   defaults.Archive.RetentionSchedule,
			Sources: cli.EnvVars("ARCHIVE_RETENTION_SCHEDULE"),
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Sources: cli.EnvVars("S3_REGION", "AWS_REGION"),
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "Custom endpoint for S3 compatible storage",
			Sources: cli.EnvVars("S3_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			Sources: cli.EnvVars("S3_ACCESS_KEY"),
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			Sources: cli.EnvVars("S3_SECRET_KEY"),
		},
		&cli.BoolFlag{
			Name:    "s3-use-path-style",
			Sources: cli.EnvVars("S3_USE_PATH_STYLE"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Archive event bus (gochannel, kafka); empty disables events",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "events-topic",
			Value:   defaults.Events.Topic,
			Sources: cli.EnvVars("EVENTS_TOPIC"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "otel-service-name",
			Value:   defaults.Tracing.ServiceName,
			Sources: cli.EnvVars("OTEL_SERVICE_NAME"),
		},
	}
}

// archiveConfig reads only the archive settings, for commands that never call the remote API.
func archiveConfig(command *cli.Command) config.Archive {
	return config.Archive{
		BlobURL:           command.String("archive-url"),
		IndexURL:          command.String("index-url"),
		Token:             command.String("archive-token"),
		RetentionDays:     command.Int("archive-retention-days"),
		RetentionSchedule: command.String("archive-retention-schedule"),
		S3: config.S3{
			Region:       command.String("s3-region"),
			Endpoint:     command.String("s3-endpoint"),
			AccessKey:    command.String("s3-access-key"),
			SecretKey:    command.String("s3-secret-key"),
			UsePathStyle: command.Bool("s3-use-path-style"),
		},
	}
}

// loadConfig collects flag values into a validated Config.
func loadConfig(command *cli.Command) (config.Config, error) {
	cfg := config.Config{
		Port:           command.Int("port"),
		LogLevel:       command.String("log-level"),
		LogFormat:      command.String("log-format"),
		MaxUploadBytes: command.Int("max-upload-bytes"),
		AllowFixedSeed: command.Bool("allow-fixed-seed"),
		Remote: config.Remote{
			BaseURL:         command.String("runninghub-base-url"),
			APIKey:          command.String("runninghub-api-key"),
			WorkflowID:      command.String("runninghub-workflow-id"),
			PollTimeout:     command.Duration("poll-timeout"),
			PollInterval:    command.Duration("poll-interval"),
			RequestTimeout:  command.Duration("request-timeout"),
			DownloadTimeout: command.Duration("download-timeout"),
			RateLimit:       command.Float("remote-rate-limit"),
			RateBurst:       command.Int("remote-rate-burst"),
		},
		Nodes: config.Nodes{
			Prompt:        config.NodeField{NodeID: command.String("prompt-node-id"), FieldName: command.String("prompt-field-name")},
			Image:         config.NodeField{NodeID: command.String("image-node-id"), FieldName: command.String("image-field-name")},
			ProductOption: config.NodeField{NodeID: command.String("product-node-id"), FieldName: command.String("product-field-name")},
			Seed:          config.NodeField{NodeID: command.String("seed-node-id"), FieldName: command.String("seed-field-name")},
			PromptText:    command.String("prompt-text"),
		},
		Archive: archiveConfig(command),
		Events: config.Events{
			Provider:     command.String("event-bus"),
			KafkaBrokers: command.StringSlice("kafka-brokers"),
			Topic:        command.String("events-topic"),
		},
		Tracing: config.Tracing{
			Enabled:     command.Bool("otel-enabled"),
			ServiceName: command.String("otel-service-name"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}
