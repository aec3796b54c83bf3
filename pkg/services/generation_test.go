package services_test

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/tryon/pkg/archive"
	"github.com/dukex/tryon/pkg/archive/file"
	"github.com/dukex/tryon/pkg/channels/gochannel"
	"github.com/dukex/tryon/pkg/config"
	"github.com/dukex/tryon/pkg/eventbus"
	"github.com/dukex/tryon/pkg/events"
	"github.com/dukex/tryon/pkg/remote"
	"github.com/dukex/tryon/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t1 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeRemote struct {
	mu sync.Mutex

	taskID    string
	createErr error
	outputs   []remote.Output
	pollErr   error
	result    []byte
	fetchErr  error

	overrides  []remote.NodeFieldOverride
	createCall int
	pollCall   int
	fetchURL   string
}

func (f *fakeRemote) CreateTask(_ context.Context, overrides []remote.NodeFieldOverride) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCall++
	f.overrides = overrides

	return f.taskID, f.createErr
}

func (f *fakeRemote) PollOutputs(_ context.Context, _ string) ([]remote.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pollCall++

	return f.outputs, f.pollErr
}

func (f *fakeRemote) FetchResult(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetchURL = url

	return f.result, f.fetchErr
}

func successRemote() *fakeRemote {
	return &fakeRemote{
		taskID:  "T1",
		outputs: []remote.Output{{"fileUrl": "https://cdn.example/out.png"}},
		result:  make([]byte, 20),
	}
}

type failingIndex struct {
	archive.Index
}

func (failingIndex) Append(context.Context, archive.Record) error {
	return errors.New("disk full")
}

type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, event)

	return c.err
}

type fixture struct {
	root   string
	blobs  *file.BlobStore
	index  *file.Index
	remote *fakeRemote
}

func newFixture(t *testing.T, client *fakeRemote) *fixture {
	t.Helper()

	root := t.TempDir()

	blobs, err := file.NewBlobStore(root)
	require.NoError(t, err)

	index, err := file.NewIndex(filepath.Join(root, file.IndexFilename), slog.Default())
	require.NoError(t, err)

	return &fixture{root: root, blobs: blobs, index: index, remote: client}
}

func (f *fixture) generation(cfg config.Config, opts ...services.GenerationOption) *services.Generation {
	opts = append([]services.GenerationOption{
		services.WithClock(func() time.Time { return t1 }),
		services.WithSeedSource(func() (int64, error) { return 123456, nil }),
	}, opts...)

	return services.NewGeneration(f.remote, f.blobs, f.index, cfg, slog.Default(), opts...)
}

func pngUpload() []byte {
	return []byte("\x89PNG\r\n\x1a\n\x00\x01")
}

func TestGenerate_EndToEnd(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, successRemote())
	publisher := &capturePublisher{}

	result, err := fx.generation(config.Default(), services.WithPublisher(publisher)).Generate(t.Context(), services.GenerateRequest{
		Image:         pngUpload(),
		Filename:      "me.png",
		ContentType:   "image/png",
		ProductOption: "2",
	})
	require.NoError(t, err)

	archiveID := "20260102T030405Z_T1"

	assert.Equal(t, &services.GenerateResult{
		TaskID:           "T1",
		Seed:             123456,
		ArchiveID:        archiveID,
		ImageURL:         "/api/archive/" + archiveID + "/download?kind=output",
		InputDownloadURL: "/api/archive/" + archiveID + "/download?kind=input",
	}, result)

	input, err := os.ReadFile(filepath.Join(fx.root, "inputs", archiveID+"_input.png"))
	require.NoError(t, err)
	assert.Equal(t, pngUpload(), input)

	output, err := os.ReadFile(filepath.Join(fx.root, "outputs", archiveID+"_output.png"))
	require.NoError(t, err)
	assert.Len(t, output, 20)

	raw, err := os.ReadFile(filepath.Join(fx.root, file.IndexFilename))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "\n"))

	records, err := fx.index.List(t.Context(), "", 50)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, archive.Record{
		ArchiveID:     archiveID,
		CreatedAt:     "2026-01-02T03:04:05Z",
		TaskID:        "T1",
		ProductOption: 2,
		Seed:          123456,
		Input:         archive.Descriptor{Filename: archiveID + "_input.png", MIME: "image/png", Size: 10},
		Output: archive.OutputDescriptor{
			Descriptor: archive.Descriptor{Filename: archiveID + "_output.png", MIME: "image/png", Size: 20},
			SourceURL:  "https://cdn.example/out.png",
		},
	}, records[0])

	assert.Equal(t, "https://cdn.example/out.png", fx.remote.fetchURL)

	require.Len(t, publisher.events, 1)
	event, ok := publisher.events[0].(events.ArchiveCreated)
	require.True(t, ok)
	assert.Equal(t, records[0], event.Record)
}

func TestGenerate_Overrides(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, successRemote())

	_, err := fx.generation(config.Default()).Generate(t.Context(), services.GenerateRequest{
		Image:         []byte("abcd"),
		ProductOption: " 3 ",
	})
	require.NoError(t, err)

	assert.Equal(t, []remote.NodeFieldOverride{
		{NodeID: "86", FieldName: "text", FieldValue: config.DefaultPromptText},
		{NodeID: "97", FieldName: "data", FieldValue: base64.StdEncoding.EncodeToString([]byte("abcd"))},
		{NodeID: "101", FieldName: "Path", FieldValue: "3"},
		{NodeID: "50", FieldName: "seed", FieldValue: "123456"},
	}, fx.remote.overrides)
}

func TestGenerate_ValidationStopsBeforeRemote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     services.GenerateRequest
		wantErr error
	}{
		{name: "zero option", req: services.GenerateRequest{Image: pngUpload(), ProductOption: "0"}, wantErr: services.ErrInvalidProductOption},
		{name: "text option", req: services.GenerateRequest{Image: pngUpload(), ProductOption: "two"}, wantErr: services.ErrInvalidProductOption},
		{name: "missing option", req: services.GenerateRequest{Image: pngUpload()}, wantErr: services.ErrInvalidProductOption},
		{name: "empty upload", req: services.GenerateRequest{ProductOption: "1"}, wantErr: services.ErrEmptyUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newFixture(t, successRemote())

			_, err := fx.generation(config.Default()).Generate(t.Context(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, services.IsValidationError(err))
			assert.Zero(t, fx.remote.createCall)
		})
	}
}

func TestGenerate_FixedSeed(t *testing.T) {
	t.Parallel()

	allowed := config.Default()
	allowed.AllowFixedSeed = true

	tests := []struct {
		name     string
		cfg      config.Config
		req      services.GenerateRequest
		wantSeed int64
		wantErr  error
	}{
		{name: "disabled ignores caller seed", cfg: config.Default(), req: services.GenerateRequest{Seed: "7", FixedSeed: true}, wantSeed: 123456},
		{name: "enabled without flag", cfg: allowed, req: services.GenerateRequest{Seed: "7"}, wantSeed: 123456},
		{name: "enabled with flag", cfg: allowed, req: services.GenerateRequest{Seed: "7", FixedSeed: true}, wantSeed: 7},
		{name: "clamped high", cfg: allowed, req: services.GenerateRequest{Seed: "99999999999", FixedSeed: true}, wantSeed: 2147483647},
		{name: "clamped negative", cfg: allowed, req: services.GenerateRequest{Seed: "-5", FixedSeed: true}, wantSeed: 0},
		{name: "invalid", cfg: allowed, req: services.GenerateRequest{Seed: "seven", FixedSeed: true}, wantErr: services.ErrInvalidSeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newFixture(t, successRemote())

			req := tt.req
			req.Image = pngUpload()
			req.ProductOption = "1"

			result, err := fx.generation(tt.cfg).Generate(t.Context(), req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantSeed, result.Seed)
		})
	}
}

func TestGenerate_RemoteFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*fakeRemote)
		wantErr error
	}{
		{
			name:    "create fails",
			mutate:  func(f *fakeRemote) { f.createErr = &remote.ProtocolError{Op: "create", Message: "bad key"} },
			wantErr: remote.ErrProtocol,
		},
		{
			name:    "poll times out",
			mutate:  func(f *fakeRemote) { f.pollErr = &remote.TimeoutError{TaskID: "T1"} },
			wantErr: remote.ErrTimeout,
		},
		{
			name:    "no output url",
			mutate:  func(f *fakeRemote) { f.outputs = []remote.Output{{"text": "nothing"}} },
			wantErr: services.ErrNoOutputURL,
		},
		{
			name:    "fetch fails",
			mutate:  func(f *fakeRemote) { f.fetchErr = &remote.ProtocolError{Op: "fetch", StatusCode: 404} },
			wantErr: remote.ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := successRemote()
			tt.mutate(client)

			fx := newFixture(t, client)

			_, err := fx.generation(config.Default()).Generate(t.Context(), services.GenerateRequest{
				Image:         pngUpload(),
				ProductOption: "1",
			})
			require.ErrorIs(t, err, tt.wantErr)

			records, err := fx.index.List(t.Context(), "", 50)
			require.NoError(t, err)
			assert.Empty(t, records, "failed runs are not archived")
		})
	}
}

func TestGenerate_ArchiveFailureFailsRequest(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, successRemote())
	publisher := &capturePublisher{}

	generation := services.NewGeneration(fx.remote, fx.blobs, failingIndex{fx.index}, config.Default(), slog.Default(),
		services.WithPublisher(publisher),
	)

	_, err := generation.Generate(t.Context(), services.GenerateRequest{Image: pngUpload(), ProductOption: "1"})
	require.ErrorContains(t, err, "disk full")
	assert.Empty(t, publisher.events)
}

func TestGenerate_PublishFailureIsIgnored(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, successRemote())
	publisher := &capturePublisher{err: errors.New("broker down")}

	result, err := fx.generation(config.Default(), services.WithPublisher(publisher)).Generate(t.Context(), services.GenerateRequest{
		Image:         pngUpload(),
		ProductOption: "1",
	})
	require.NoError(t, err)
	assert.Equal(t, "20260102T030405Z_T1", result.ArchiveID)
	assert.Len(t, publisher.events, 1)
}

func TestGenerate_IgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, successRemote())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := fx.generation(config.Default()).Generate(ctx, services.GenerateRequest{Image: pngUpload(), ProductOption: "1"})
	require.NoError(t, err)
}

func TestGenerate_SniffsGenericUpload(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, successRemote())

	result, err := fx.generation(config.Default()).Generate(t.Context(), services.GenerateRequest{
		Image:         pngUpload(),
		Filename:      "upload",
		ContentType:   "application/octet-stream",
		ProductOption: "1",
	})
	require.NoError(t, err)

	blob, err := fx.blobs.Open(t.Context(), archive.KindInput, result.ArchiveID)
	require.NoError(t, err)

	defer blob.Body.Close()

	assert.Equal(t, result.ArchiveID+"_input.png", blob.Name)
}

func TestGenerate_PublishesOnEventBus(t *testing.T) {
	t.Parallel()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, "tryon.test", slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	delivered := make(chan string, 1)
	require.NoError(t, bus.Handle(events.ArchiveCreatedEvent, func(_ context.Context, event any) error {
		delivered <- event.(*events.ArchiveCreated).Record.ArchiveID

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	fx := newFixture(t, successRemote())

	result, err := fx.generation(config.Default(), services.WithPublisher(bus)).Generate(t.Context(), services.GenerateRequest{
		Image:         pngUpload(),
		ProductOption: "1",
	})
	require.NoError(t, err)

	select {
	case id := <-delivered:
		assert.Equal(t, result.ArchiveID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("archive.created not delivered")
	}
}

func TestNormalizeBase64(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{{}, {1}, {1, 2}, {1, 2, 3}, []byte("hello world, this is an image")} {
		encoded := services.NormalizeBase64(data)
		assert.Zero(t, len(encoded)%4)

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
	}
}

func TestParseSeed(t *testing.T) {
	t.Parallel()

	got, err := services.ParseSeed(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	got, err = services.ParseSeed("-99999999999999999999999")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	_, err = services.ParseSeed("")
	require.ErrorIs(t, err, services.ErrInvalidSeed)
}
