package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/config"
	"github.com/dukex/tryon/pkg/eventbus"
	"github.com/dukex/tryon/pkg/events"
	"github.com/dukex/tryon/pkg/otelhelper"
	"github.com/dukex/tryon/pkg/remote"
	"github.com/dukex/tryon/pkg/seed"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// RemoteClient runs one task on the workflow execution API.
type RemoteClient interface {
	CreateTask(ctx context.Context, overrides []remote.NodeFieldOverride) (string, error)
	PollOutputs(ctx context.Context, taskID string) ([]remote.Output, error)
	FetchResult(ctx context.Context, url string) ([]byte, error)
}

// GenerateRequest is one caller submission.
type GenerateRequest struct {
	Image         []byte
	Filename      string
	ContentType   string
	ProductOption string
	Seed          string
	FixedSeed     bool
}

// GenerateResult is returned to the caller once the run is archived.
type GenerateResult struct {
	TaskID           string `json:"taskId"`
	Seed             int64  `json:"seed"`
	ArchiveID        string `json:"archiveId"`
	ImageURL         string `json:"imageUrl"`
	InputDownloadURL string `json:"inputDownloadUrl"`
}

// Generation drives a request through the remote task lifecycle and archives the result.
type Generation struct {
	remote         RemoteClient
	blobs          archive.BlobStore
	index          archive.Index
	publisher      eventbus.EventPublisher
	nodes          config.Nodes
	allowFixedSeed bool
	tracer         trace.Tracer
	logger         *slog.Logger
	now            func() time.Time
	randomSeed     func() (int64, error)
}

// GenerationOption customizes a Generation.
type GenerationOption func(*Generation)

// WithTracer sets the tracer used for pipeline spans.
func WithTracer(tracer trace.Tracer) GenerationOption {
	return func(g *Generation) {
		g.tracer = tracer
	}
}

// WithClock overrides the time source used for archive ids.
func WithClock(now func() time.Time) GenerationOption {
	return func(g *Generation) {
		g.now = now
	}
}

// WithSeedSource overrides the random seed source.
func WithSeedSource(source func() (int64, error)) GenerationOption {
	return func(g *Generation) {
		g.randomSeed = source
	}
}

// WithPublisher sets where archive.created events go. Without one no events are sent.
func WithPublisher(publisher eventbus.EventPublisher) GenerationOption {
	return func(g *Generation) {
		g.publisher = publisher
	}
}

// NewGeneration creates a new generation pipeline.
func NewGeneration(
	client RemoteClient,
	blobs archive.BlobStore,
	index archive.Index,
	cfg config.Config,
	logger *slog.Logger,
	opts ...GenerationOption,
) *Generation {
	g := &Generation{
		remote:         client,
		blobs:          blobs,
		index:          index,
		nodes:          cfg.Nodes,
		allowFixedSeed: cfg.AllowFixedSeed,
		tracer:         otelhelper.NoopTracer("tryon"),
		logger:         logger.With("module", "generation"),
		now:            time.Now,
		randomSeed:     seed.Random,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Generate validates the request, runs the remote task to completion, archives input
// and output, and returns archive relative download URLs. Cancellation of ctx is
// ignored so an abandoned caller does not leave a half archived run.
func (g *Generation) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	ctx = context.WithoutCancel(ctx)

	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "generation.generate")
	defer span.End()

	result, err := g.generate(ctx, span, req)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return result, nil
}

func (g *Generation) generate(ctx context.Context, span trace.Span, req GenerateRequest) (*GenerateResult, error) {
	productOption, err := ParseProductOption(req.ProductOption)
	if err != nil {
		return nil, newError("generate", err)
	}

	if len(req.Image) == 0 {
		return nil, newError("generate", ErrEmptyUpload)
	}

	seedValue, err := g.chooseSeed(req)
	if err != nil {
		return nil, newError("generate", err)
	}

	span.SetAttributes(
		attribute.Int(otelhelper.ProductOptionKey, productOption),
		attribute.Int64(otelhelper.SeedKey, seedValue),
	)

	overrides := g.overrides(NormalizeBase64(req.Image), productOption, seedValue)

	taskID, err := g.createTask(ctx, overrides)
	if err != nil {
		return nil, newError("create task", err)
	}

	span.SetAttributes(attribute.String(otelhelper.TaskIDKey, taskID))

	logger := g.logger.With("task_id", taskID)
	logger.InfoContext(ctx, "Remote task created", "product_option", productOption, "seed", seedValue)

	outputURL, err := g.awaitOutput(ctx, taskID)
	if err != nil {
		return nil, newError("poll outputs", err)
	}

	output, err := g.fetch(ctx, outputURL)
	if err != nil {
		return nil, newError("fetch result", err)
	}

	record, err := g.archiveRun(ctx, req, taskID, productOption, seedValue, outputURL, output)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to archive completed task", "output_url", outputURL, "error", err)

		return nil, newError("archive", err)
	}

	span.SetAttributes(attribute.String(otelhelper.ArchiveIDKey, record.ArchiveID))
	logger.InfoContext(ctx, "Run archived", "archive_id", record.ArchiveID)

	g.publish(ctx, record)

	return &GenerateResult{
		TaskID:           taskID,
		Seed:             seedValue,
		ArchiveID:        record.ArchiveID,
		ImageURL:         DownloadURL(record.ArchiveID, archive.KindOutput),
		InputDownloadURL: DownloadURL(record.ArchiveID, archive.KindInput),
	}, nil
}

func (g *Generation) chooseSeed(req GenerateRequest) (int64, error) {
	if g.allowFixedSeed && req.FixedSeed {
		return ParseSeed(req.Seed)
	}

	value, err := g.randomSeed()
	if err != nil {
		return 0, fmt.Errorf("failed to draw seed: %w", err)
	}

	return value, nil
}

func (g *Generation) overrides(imageB64 string, productOption int, seedValue int64) []remote.NodeFieldOverride {
	return []remote.NodeFieldOverride{
		{NodeID: g.nodes.Prompt.NodeID, FieldName: g.nodes.Prompt.FieldName, FieldValue: g.nodes.PromptText},
		{NodeID: g.nodes.Image.NodeID, FieldName: g.nodes.Image.FieldName, FieldValue: imageB64},
		{NodeID: g.nodes.ProductOption.NodeID, FieldName: g.nodes.ProductOption.FieldName, FieldValue: strconv.Itoa(productOption)},
		{NodeID: g.nodes.Seed.NodeID, FieldName: g.nodes.Seed.FieldName, FieldValue: strconv.FormatInt(seedValue, 10)},
	}
}

func (g *Generation) createTask(ctx context.Context, overrides []remote.NodeFieldOverride) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "remote.create_task")
	defer span.End()

	taskID, err := g.remote.CreateTask(ctx, overrides)
	otelhelper.SetError(span, err)

	return taskID, err
}

func (g *Generation) awaitOutput(ctx context.Context, taskID string) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "remote.poll_outputs",
		attribute.String(otelhelper.TaskIDKey, taskID),
	)
	defer span.End()

	outputs, err := g.remote.PollOutputs(ctx, taskID)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	outputURL, ok := remote.PickOutputURL(outputs)
	if !ok {
		otelhelper.SetError(span, ErrNoOutputURL)

		return "", ErrNoOutputURL
	}

	span.SetAttributes(attribute.String(otelhelper.OutputURLKey, outputURL))

	return outputURL, nil
}

func (g *Generation) fetch(ctx context.Context, outputURL string) ([]byte, error) {
	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "remote.fetch_result")
	defer span.End()

	data, err := g.remote.FetchResult(ctx, outputURL)
	otelhelper.SetError(span, err)

	return data, err
}

// archiveRun writes both blobs concurrently, then appends the index record. The record
// is only appended once both blobs are durable.
func (g *Generation) archiveRun(
	ctx context.Context,
	req GenerateRequest,
	taskID string,
	productOption int,
	seedValue int64,
	outputURL string,
	output []byte,
) (archive.Record, error) {
	now := g.now()
	archiveID := archive.NewID(now, taskID)
	inputMIME := archive.InputMIME(req.ContentType, req.Image)

	ctx, span := otelhelper.StartSpan(ctx, g.tracer, "archive.write",
		attribute.String(otelhelper.ArchiveIDKey, archiveID),
	)
	defer span.End()

	var inputName, outputName string

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		name, err := g.blobs.WriteInput(groupCtx, req.Image, archiveID, inputMIME, req.Filename)
		inputName = name

		return err
	})

	group.Go(func() error {
		name, err := g.blobs.WriteOutput(groupCtx, output, archiveID)
		outputName = name

		return err
	})

	if err := group.Wait(); err != nil {
		otelhelper.SetError(span, err)

		return archive.Record{}, err
	}

	record := archive.Record{
		ArchiveID:     archiveID,
		CreatedAt:     archive.RecordTime(now),
		TaskID:        taskID,
		ProductOption: productOption,
		Seed:          seedValue,
		Input: archive.Descriptor{
			Filename: inputName,
			MIME:     inputMIME,
			Size:     int64(len(req.Image)),
		},
		Output: archive.OutputDescriptor{
			Descriptor: archive.Descriptor{
				Filename: outputName,
				MIME:     archive.OutputMIME,
				Size:     int64(len(output)),
			},
			SourceURL: outputURL,
		},
	}

	if err := g.index.Append(ctx, record); err != nil {
		otelhelper.SetError(span, err)

		return archive.Record{}, fmt.Errorf("failed to append index record: %w", err)
	}

	return record, nil
}

func (g *Generation) publish(ctx context.Context, record archive.Record) {
	if g.publisher == nil {
		return
	}

	if err := g.publisher.Publish(ctx, record.ArchiveID, events.NewArchiveCreated(record)); err != nil {
		g.logger.WarnContext(ctx, "Failed to publish archive event", "archive_id", record.ArchiveID, "error", err)
	}
}

// ParseProductOption accepts a base 10 integer >= 1, surrounding whitespace allowed.
func ParseProductOption(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 1 {
		return 0, ErrInvalidProductOption
	}

	return value, nil
}

// ParseSeed parses a caller seed and clamps it into the seed range. Values beyond
// int64 saturate before clamping.
func ParseSeed(raw string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, ErrInvalidSeed
	}

	return seed.Clamp(value), nil
}

// NormalizeBase64 encodes data as standard base64 with whitespace removed and
// padding rebuilt to a multiple of four.
func NormalizeBase64(data []byte) string {
	encoded := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}

		return r
	}, base64.StdEncoding.EncodeToString(data))

	encoded = strings.TrimRight(encoded, "=")
	if rem := len(encoded) % 4; rem != 0 {
		encoded += strings.Repeat("=", 4-rem)
	}

	return encoded
}

// DownloadURL is the archive relative URL of a blob. The token is never embedded.
func DownloadURL(archiveID string, kind archive.Kind) string {
	return "/api/archive/" + archiveID + "/download?kind=" + string(kind)
}
