package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dukex/tryon/pkg/archive/file"
	"github.com/dukex/tryon/pkg/config"
	"github.com/dukex/tryon/pkg/remote"
	"github.com/dukex/tryon/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

type idleRemote struct{}

func (idleRemote) CreateTask(context.Context, []remote.NodeFieldOverride) (string, error) {
	return "T1", nil
}

func (idleRemote) PollOutputs(context.Context, string) ([]remote.Output, error) {
	return []remote.Output{{"fileUrl": "https://cdn.example/out.png"}}, nil
}

func (idleRemote) FetchResult(context.Context, string) ([]byte, error) {
	return []byte("png"), nil
}

func setupTestApp(t *testing.T, maxUploadBytes int) *fiber.App {
	t.Helper()

	root := t.TempDir()

	blobs, err := file.NewBlobStore(root)
	require.NoError(t, err)

	index, err := file.NewIndex(filepath.Join(root, file.IndexFilename), slog.Default())
	require.NoError(t, err)

	generation := services.NewGeneration(idleRemote{}, blobs, index, config.Default(), slog.Default())
	archiveService := services.NewArchive(blobs, index, "token", slog.Default())

	return NewAPI(slog.Default(), generation, archiveService, maxUploadBytes).App()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t, config.DefaultMaxUploadBytes)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Try-on API", readBody(t, resp))
}

func TestAPI_Probes(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t, config.DefaultMaxUploadBytes)

	for _, path := range []string{"/livez", "/readyz", "/healthz"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		readBody(t, resp)
	}
}

func TestAPI_HealthReportsStores(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t, config.DefaultMaxUploadBytes)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"blobs"`)
}

func TestAPI_BodyLimit(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t, 1024)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(bytes.Repeat([]byte("a"), 4096)))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")

	_, err := app.Test(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body size exceeds the given limit")

	small := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader([]byte("--x--\r\n")))
	small.Header.Set("Content-Type", "multipart/form-data; boundary=x")

	resp, err := app.Test(small)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	readBody(t, resp)
}

func runLoadConfig(args ...string) (config.Config, error) {
	var (
		cfg     config.Config
		loadErr error
	)

	command := &cli.Command{
		Name:  "tryon-api",
		Flags: flags(),
		Action: func(_ context.Context, command *cli.Command) error {
			cfg, loadErr = loadConfig(command)

			return nil
		},
	}

	if err := command.Run(context.Background(), append([]string{"tryon-api"}, args...)); err != nil {
		return config.Config{}, err
	}

	return cfg, loadErr
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, cfg config.Config)
	}{
		{
			name:    "missing api key",
			args:    []string{"--runninghub-workflow-id", "123"},
			wantErr: true,
		},
		{
			name: "defaults",
			args: []string{"--runninghub-api-key", "k", "--runninghub-workflow-id", "123?inviteCode=x"},
			check: func(t *testing.T, cfg config.Config) {
				t.Helper()

				assert.Equal(t, "123", cfg.Remote.WorkflowID)
				assert.Equal(t, 9091, cfg.Port)
				assert.Equal(t, config.DefaultBaseURL, cfg.Remote.BaseURL)
				assert.Equal(t, "86", cfg.Nodes.Prompt.NodeID)
				assert.Equal(t, "./archive", cfg.Archive.BlobURL)
				assert.False(t, cfg.AllowFixedSeed)
				assert.Empty(t, cfg.Events.Provider)
			},
		},
		{
			name: "overrides",
			args: []string{
				"--runninghub-api-key", "k",
				"--runninghub-workflow-id", "123",
				"--port", "8080",
				"--allow-fixed-seed",
				"--archive-url", "s3://bucket/prefix",
				"--index-url", "redis://localhost:6379/0",
				"--archive-retention-days", "7",
				"--seed-node-id", "51",
			},
			check: func(t *testing.T, cfg config.Config) {
				t.Helper()

				assert.Equal(t, 8080, cfg.Port)
				assert.True(t, cfg.AllowFixedSeed)
				assert.Equal(t, "s3://bucket/prefix", cfg.Archive.BlobURL)
				assert.Equal(t, "redis://localhost:6379/0", cfg.Archive.IndexURL)
				assert.Equal(t, 7, cfg.Archive.RetentionDays)
				assert.Equal(t, "51", cfg.Nodes.Seed.NodeID)
			},
		},
		{
			name:    "unknown event bus",
			args:    []string{"--runninghub-api-key", "k", "--runninghub-workflow-id", "123", "--event-bus", "nats"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := runLoadConfig(tt.args...)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}
