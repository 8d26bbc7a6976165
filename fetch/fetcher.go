// Package fetch downloads ad media over plain HTTP GET, validating that the
// response body is really the media class the caller expects.
//
// Ad-library CDNs are known to answer expired media URLs with an HTML error
// page and a 200 status; the content-type check exists to catch exactly that.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/adscope/adscope/guard"
)

// ErrInvalidContentType is returned when a response's content type contains
// no marker recognized for the expected media class.
var ErrInvalidContentType = errors.New("fetch: response is not the expected media type")

// Markers accepted per media class. A content type matches when it contains
// any of them.
var (
	imageMarkers = []string{"image/", "jpeg", "jpg", "png", "gif", "webp"}
	videoMarkers = []string{"video/", "mp4", "mov", "webm", "avi"}
)

// Result is the outcome of fetching one URL. In batch form, Err carries the
// per-item failure; Body and ContentType are only valid when Err is nil.
type Result struct {
	Body        []byte
	ContentType string
	Err         error
}

// Config configures the fetcher.
type Config struct {
	// ImageTimeout bounds one image fetch. Default: 30s.
	ImageTimeout time.Duration
	// VideoTimeout bounds one video fetch; longer because payloads are
	// larger. Default: 60s.
	VideoTimeout time.Duration
	// MaxBytes caps a single response body. Default: 256MB.
	MaxBytes int64
	// MaxConcurrent bounds parallel fetches in FetchBatch. Default: 4.
	MaxConcurrent int
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator validates URLs before fetch (SSRF prevention).
	// Default: guard.ValidateURL.
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = 30 * time.Second
	}
	if c.VideoTimeout <= 0 {
		c.VideoTimeout = 60 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 256 * 1024 * 1024
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.UserAgent == "" {
		c.UserAgent = "adscope/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = guard.ValidateURL
	}
}

// Fetcher performs HTTP media downloads.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher with SSRF protection on redirects. No client-level
// timeout is set; each Fetch derives a per-call deadline from the media
// class.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch downloads one URL and validates its content type against the
// expected media class ("image" or "video"). Timeouts and transport errors
// come back wrapped; the caller can test with errors.Is(err,
// context.DeadlineExceeded) or errors.Is(err, ErrInvalidContentType).
func (f *Fetcher) Fetch(ctx context.Context, url, mediaType string) (*Result, error) {
	if err := f.config.URLValidator(url); err != nil {
		return nil, fmt.Errorf("fetch %s: URL blocked: %w", url, err)
	}

	timeout := f.config.ImageTimeout
	if mediaType == "video" {
		timeout = f.config.VideoTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: new request: %w", url, err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: http %d", url, resp.StatusCode)
	}

	body, err := guard.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", url, err)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		// Server did not say what it sent; sniff the bytes instead.
		contentType = strings.ToLower(mimetype.Detect(body).String())
	}
	if !matchesClass(contentType, mediaType) {
		return nil, fmt.Errorf("fetch %s: content type %q for expected %s: %w",
			url, contentType, mediaType, ErrInvalidContentType)
	}

	return &Result{Body: body, ContentType: contentType}, nil
}

// FetchBatch downloads every URL, up to MaxConcurrent in parallel. Each
// URL gets a slot in the returned map; one URL's failure never cancels or
// blocks its siblings. Callers reconstitute ordering from the map keys.
func (f *Fetcher) FetchBatch(ctx context.Context, urls []string, mediaType string) map[string]*Result {
	out := make(map[string]*Result, len(urls))
	if len(urls) == 0 {
		return out
	}

	// Dedup so two slots for the same URL share one download.
	unique := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			unique = append(unique, u)
		}
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, f.config.MaxConcurrent)
	)
	for _, u := range unique {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := f.Fetch(ctx, u, mediaType)
			if err != nil {
				res = &Result{Err: err}
			}
			mu.Lock()
			out[u] = res
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	return out
}

func matchesClass(contentType, mediaType string) bool {
	markers := imageMarkers
	if mediaType == "video" {
		markers = videoMarkers
	}
	for _, m := range markers {
		if strings.Contains(contentType, m) {
			return true
		}
	}
	return false
}
