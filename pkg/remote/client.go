// Package remote drives the asynchronous workflow execution API: it creates a task
// with per-node field overrides, polls the task until its outputs are ready and
// downloads the produced file.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/tryon/pkg/config"
	"golang.org/x/time/rate"
)

// Client talks to the remote workflow API. It is safe for concurrent use.
type Client struct {
	cfg      config.Remote
	api      *http.Client
	download *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// NewClient creates a client from the remote section of the configuration.
func NewClient(cfg config.Remote, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		cfg:      cfg,
		api:      &http.Client{Timeout: cfg.RequestTimeout},
		download: &http.Client{Timeout: cfg.DownloadTimeout},
		limiter:  rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		logger:   logger.With("module", "remote_client"),
	}
}

// CreateTask submits one workflow run and returns the remote task id. It never retries.
func (c *Client) CreateTask(ctx context.Context, overrides []NodeFieldOverride) (string, error) {
	env, err := c.post(ctx, "create", createPath, createRequest{
		APIKey:           c.cfg.APIKey,
		WorkflowID:       c.cfg.WorkflowID,
		NodeInfoList:     overrides,
		AddMetadata:      true,
		InstanceType:     instanceType,
		UsePersonalQueue: usePersonalQueue,
	})
	if err != nil {
		return "", err
	}

	if *env.Code != CodeSuccess {
		return "", &ProtocolError{Op: "create", Code: env.Code, Message: "unexpected code", Body: truncate(env.raw)}
	}

	var data createData

	if len(env.Data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(env.Data))
		dec.UseNumber()
		// A non-object data field simply yields no task id below.
		_ = dec.Decode(&data)
	}

	taskID := idString(data.TaskID)
	if taskID == "" {
		taskID = idString(data.ID)
	}

	if taskID == "" {
		return "", &ProtocolError{Op: "create", Code: env.Code, Message: "no task id in successful response", Body: truncate(env.Data)}
	}

	c.logger.InfoContext(ctx, "Remote task created", "task_id", taskID)

	return taskID, nil
}

// PollOutputs queries the outputs endpoint until the task produces a non-empty
// result list, fails, or the poll timeout elapses. Only the "still processing"
// code is retried, and retries never extend the deadline.
func (c *Client) PollOutputs(ctx context.Context, taskID string) ([]Output, error) {
	start := time.Now()
	deadline := start.Add(c.cfg.PollTimeout)
	attempts := 0

	for time.Now().Before(deadline) {
		attempts++

		env, err := c.post(ctx, "outputs", outputsPath, outputsRequest{APIKey: c.cfg.APIKey, TaskID: taskID})
		if err != nil {
			return nil, err
		}

		switch *env.Code {
		case CodeSuccess:
			outputs := decodeOutputs(env.Data)
			if len(outputs) == 0 {
				return nil, &ProtocolError{Op: "outputs", Code: env.Code, Message: "empty outputs", Body: truncate(env.Data)}
			}

			c.logger.InfoContext(ctx, "Remote task completed",
				"task_id", taskID,
				"attempts", attempts,
				"elapsed", time.Since(start))

			return outputs, nil

		case CodeProcessing:
			c.logger.DebugContext(ctx, "Remote task still processing", "task_id", taskID, "attempt", attempts)

			if err := sleep(ctx, c.cfg.PollInterval); err != nil {
				return nil, fmt.Errorf("polling task %s: %w", taskID, err)
			}

		default:
			return nil, &ProtocolError{Op: "outputs", Code: env.Code, Message: "unexpected code", Body: truncate(env.raw)}
		}
	}

	return nil, &TimeoutError{TaskID: taskID, Elapsed: time.Since(start), Attempts: attempts}
}

// PickOutputURL returns the first non-empty URL alias of the first output.
func PickOutputURL(outputs []Output) (string, bool) {
	if len(outputs) == 0 {
		return "", false
	}

	for _, key := range outputURLAliases {
		if v, ok := outputs[0][key].(string); ok && v != "" {
			return v, true
		}
	}

	return "", false
}

// FetchResult downloads the produced file with a single GET.
func (c *Client) FetchResult(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch: rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: failed to create request: %w", err)
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProtocolError{Op: "fetch", StatusCode: resp.StatusCode, Message: "unexpected status", Body: truncate(body)}
	}

	return body, nil
}

// post sends one JSON request and decodes the response envelope. Any non-2xx
// status, undecodable body or missing code is a protocol error.
func (c *Client) post(ctx context.Context, op, path string, payload any) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProtocolError{Op: op, StatusCode: resp.StatusCode, Message: "unexpected status", Body: truncate(respBody)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, &ProtocolError{Op: op, Message: "invalid JSON response", Body: truncate(respBody)}
	}

	if env.Code == nil {
		return nil, &ProtocolError{Op: op, Message: "response has no code", Body: truncate(respBody)}
	}

	env.raw = respBody

	return &env, nil
}

// decodeOutputs accepts either a bare list or an object with an "outputs" list.
func decodeOutputs(raw json.RawMessage) []Output {
	var list []Output
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	var wrapped outputsData
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Outputs
	}

	return nil
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
