// Package config holds the process-wide configuration of the generation service.
//
// A Config is assembled once at startup (see cmd/tryon-api) and passed by value into
// every component constructor; nothing reads the environment after that point.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultBaseURL           = "https://www.runninghub.ai"
	DefaultPollTimeout       = 300 * time.Second
	DefaultPollInterval      = 3 * time.Second
	DefaultRequestTimeout    = 60 * time.Second
	DefaultDownloadTimeout   = 120 * time.Second
	DefaultRetentionSchedule = "@hourly"
	DefaultMaxUploadBytes    = 20 * 1024 * 1024
	DefaultPromptText        = "圖中的人背著背包在身後"
	DefaultEventsTopic       = "tryon.archive.events"
)

// Config is the immutable runtime configuration.
type Config struct {
	Port           int    `validate:"min=1,max=65535"`
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=text json"`
	MaxUploadBytes int    `validate:"min=1"`
	// AllowFixedSeed lets callers pin the seed with fixedSeed=true. Off by default.
	AllowFixedSeed bool

	Remote  Remote
	Nodes   Nodes
	Archive Archive
	Events  Events
	Tracing Tracing
}

// Remote configures the workflow execution API.
type Remote struct {
	BaseURL         string        `validate:"required,url"`
	APIKey          string        `validate:"required"`
	WorkflowID      string        `validate:"required"`
	PollTimeout     time.Duration `validate:"gt=0"`
	PollInterval    time.Duration `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	DownloadTimeout time.Duration `validate:"gt=0"`
	// RateLimit caps remote calls per second across all requests; 0 disables the limiter.
	RateLimit float64 `validate:"gte=0"`
	RateBurst int     `validate:"gte=0"`
}

// NodeField addresses one overridable input of a workflow node.
type NodeField struct {
	NodeID    string `validate:"required"`
	FieldName string `validate:"required"`
}

// Nodes maps the four per-request overrides onto the remote workflow graph.
type Nodes struct {
	Prompt        NodeField
	Image         NodeField
	ProductOption NodeField
	Seed          NodeField
	PromptText    string `validate:"required"`
}

// Archive configures blob storage, the index log and retention.
type Archive struct {
	// BlobURL selects the blob backend: a directory path, file://<dir> or s3://<bucket>[/<prefix>].
	BlobURL string `validate:"required"`
	// IndexURL selects the index backend: a file path, file://<path>, postgres://... or redis://...
	// Empty means index.jsonl next to the file blob store.
	IndexURL string
	// Token gates list and download. Empty disables both (fail closed).
	Token             string
	RetentionDays     int `validate:"gte=0"`
	RetentionSchedule string
	S3                S3
}

// S3 holds credentials for an S3-compatible blob backend.
type S3 struct {
	Region       string
	Endpoint     string `validate:"omitempty,url"`
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Events configures archive event publication.
type Events struct {
	Provider     string `validate:"omitempty,oneof=gochannel kafka"`
	KafkaBrokers []string
	Topic        string `validate:"required_with=Provider"`
}

// Tracing configures the OpenTelemetry exporter.
type Tracing struct {
	Enabled     bool
	ServiceName string `validate:"required_if=Enabled true"`
}

// Default returns a Config populated with production defaults. Secrets and
// the workflow id are left empty.
func Default() Config {
	return Config{
		Port:           9091,
		LogLevel:       "info",
		LogFormat:      "text",
		MaxUploadBytes: DefaultMaxUploadBytes,
		Remote: Remote{
			BaseURL:         DefaultBaseURL,
			PollTimeout:     DefaultPollTimeout,
			PollInterval:    DefaultPollInterval,
			RequestTimeout:  DefaultRequestTimeout,
			DownloadTimeout: DefaultDownloadTimeout,
			RateLimit:       5,
			RateBurst:       10,
		},
		Nodes: Nodes{
			Prompt:        NodeField{NodeID: "86", FieldName: "text"},
			Image:         NodeField{NodeID: "97", FieldName: "data"},
			ProductOption: NodeField{NodeID: "101", FieldName: "Path"},
			Seed:          NodeField{NodeID: "50", FieldName: "seed"},
			PromptText:    DefaultPromptText,
		},
		Archive: Archive{
			BlobURL:           "./archive",
			RetentionSchedule: DefaultRetentionSchedule,
		},
		Events: Events{
			Topic: DefaultEventsTopic,
		},
		Tracing: Tracing{
			ServiceName: "tryon-api",
		},
	}
}

// Validate checks the configuration and normalizes derived fields in place.
func (c *Config) Validate() error {
	c.Remote.WorkflowID = NormalizeWorkflowID(c.Remote.WorkflowID)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// NormalizeWorkflowID drops anything after '?' so a workflow URL copied from the
// remote console can be used verbatim.
func NormalizeWorkflowID(id string) string {
	id, _, _ = strings.Cut(strings.TrimSpace(id), "?")

	return id
}
