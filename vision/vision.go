// Package vision provides a transport-agnostic media analysis client that
// turns cached ad creatives into structured text analyses via a Gemini-style
// file+generate HTTP API.
//
// It decouples analysis from the cache so the orchestration layer never knows
// which backend runs behind the endpoint (Google AI Studio, a Vertex proxy,
// or a local stand-in during tests).
//
// Usage:
//
//	an := vision.New(vision.Config{
//	    APIKey: os.Getenv("GEMINI_API_KEY"),
//	    Model:  "gemini-2.0-flash-exp",
//	})
//	ref, err := an.Upload(ctx, "/cache/ab/abc.mp4", "video/mp4")
//	defer an.Release(context.Background(), ref)
//	texts, err := an.AnalyzeBatch(ctx, []vision.FileRef{ref}, vision.VideoPrompt, contexts)
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrUnavailable is returned by every call when the client has no API key
// configured. It is fatal for the call, never a cache miss.
var ErrUnavailable = errors.New("vision: analysis backend not configured")

// QuotaError reports that the backend refused the request for billing
// reasons (HTTP 402 or a quota-flavored 403).
type QuotaError struct {
	Detail string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("vision: quota exceeded: %s", e.Detail)
}

// RateLimitError reports an HTTP 429 with the backend's suggested wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("vision: rate limited, retry after %s", e.RetryAfter)
}

// FileRef identifies one uploaded media file on the backend.
type FileRef struct {
	// Name is the backend resource name (e.g. "files/abc123"), used for
	// deletion.
	Name string
	// URI is the reference embedded in analysis requests.
	URI string
	// MIMEType is the content type declared at upload.
	MIMEType string
}

// ItemContext carries optional ad metadata woven into the batch prompt so
// the backend can tell the items apart.
type ItemContext struct {
	BrandName string
	AdID      string
}

// Analyzer runs media analyses.
type Analyzer interface {
	// Upload stages a local media file on the backend and returns its ref.
	Upload(ctx context.Context, path, contentType string) (FileRef, error)

	// AnalyzeBatch analyzes all refs in one request. The result is ordered:
	// texts[i] belongs to refs[i]. A slice shorter than refs, or an empty
	// entry, means that item's analysis was missing from the combined
	// response; the remaining items are still valid.
	AnalyzeBatch(ctx context.Context, refs []FileRef, instruction string, contexts []ItemContext) ([]string, error)

	// Release deletes an uploaded file from the backend. Idempotent.
	Release(ctx context.Context, ref FileRef) error

	// Model returns the model name requests are sent with.
	Model() string
}

// Config configures the analysis client.
type Config struct {
	// Endpoint is the API base URL. Default: the Google AI Studio endpoint.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// APIKey authenticates requests. If empty, New returns an Analyzer
	// whose every call fails with ErrUnavailable.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the generation model name. Default: "gemini-2.0-flash-exp".
	Model string `json:"model" yaml:"model"`

	// Timeout per HTTP request. Default: 120s; batch generation over
	// several videos is slow.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Logger for debug/error messages. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Endpoint == "" {
		c.Endpoint = "https://generativelanguage.googleapis.com"
	}
	if c.Model == "" {
		c.Model = "gemini-2.0-flash-exp"
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Analyzer from config. Without an API key every call
// returns ErrUnavailable, so a half-configured deployment fails loudly
// instead of silently skipping analysis.
func New(cfg Config) Analyzer {
	cfg.defaults()
	if cfg.APIKey == "" {
		return unavailable{model: cfg.Model}
	}
	return newHTTPClient(cfg)
}

type unavailable struct {
	model string
}

func (u unavailable) Upload(context.Context, string, string) (FileRef, error) {
	return FileRef{}, ErrUnavailable
}

func (u unavailable) AnalyzeBatch(context.Context, []FileRef, string, []ItemContext) ([]string, error) {
	return nil, ErrUnavailable
}

func (u unavailable) Release(context.Context, FileRef) error { return ErrUnavailable }
func (u unavailable) Model() string                          { return u.model }
