// Package adlib lists ad creatives from a ScrapeCreators-compatible ad
// library API: brand search plus paginated ad retrieval per platform page.
//
// Billing failures are first-class here. A 402 or credit-flavored 403 comes
// back as *CreditError and a 429 as *RateLimitError; callers must surface
// them verbatim instead of treating them as empty result sets.
package adlib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adscope/adscope/guard"
)

// CreditError reports exhausted API credits.
type CreditError struct {
	Remaining int
	TopupURL  string
}

func (e *CreditError) Error() string {
	return fmt.Sprintf("adlib: API credits exhausted (%d remaining), top up at %s", e.Remaining, e.TopupURL)
}

// RateLimitError reports an HTTP 429 with the API's suggested wait.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("adlib: rate limited, retry after %s", e.RetryAfter)
}

// Ad is one creative in normalized form. A DCO ad (dynamic creative with
// multiple cards) fans out into one Ad per card, all carrying the parent's
// ad ID.
type Ad struct {
	AdID          string     `json:"ad_id"`
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	MediaURL      string     `json:"media_url"`
	Body          string     `json:"body"`
	MediaType     string     `json:"media_type"`
	DisplayFormat string     `json:"display_format"`
}

// AdsOptions tune a GetAds call.
type AdsOptions struct {
	// Limit caps the total ads returned. Default: 50.
	Limit int
	// Country filters by two-letter country code, uppercased on the wire.
	Country string
	// Trim asks the API for essential fields only.
	Trim bool
}

// Config configures the client.
type Config struct {
	// APIKey authenticates requests (x-api-key header). Required.
	APIKey string `json:"api_key" yaml:"api_key"`

	// BaseURL of the API. Default: "https://api.scrapecreators.com".
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxPageRequests bounds the pagination loop of one GetAds call.
	// Default: 10.
	MaxPageRequests int `json:"max_page_requests" yaml:"max_page_requests"`

	// TopupURL shown in CreditError messages.
	TopupURL string `json:"topup_url" yaml:"topup_url"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.scrapecreators.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxPageRequests <= 0 {
		c.MaxPageRequests = 10
	}
	if c.TopupURL == "" {
		c.TopupURL = "https://scrapecreators.com/dashboard"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client talks to the ad library API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cfg     Config
}

// New creates a Client. Nothing is validated until the first call; a missing
// API key fails there with the backend's own rejection.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
	}
}

// SearchCompanies resolves a brand name to its platform page options,
// name → page ID. Several pages matching one brand is normal (regional
// pages, fan pages); the caller picks.
func (c *Client) SearchCompanies(ctx context.Context, brand string) (map[string]string, error) {
	q := url.Values{"query": {brand}}
	var payload struct {
		SearchResults []struct {
			Name   string `json:"name"`
			PageID string `json:"page_id"`
		} `json:"searchResults"`
	}
	if err := c.getJSON(ctx, "/v1/facebook/adLibrary/search/companies", q, &payload); err != nil {
		return nil, fmt.Errorf("adlib: search %q: %w", brand, err)
	}

	options := make(map[string]string, len(payload.SearchResults))
	for _, r := range payload.SearchResults {
		if r.Name != "" && r.PageID != "" {
			options[r.Name] = r.PageID
		}
	}
	c.cfg.Logger.Info("brand search completed", "brand", brand, "matches", len(options))
	return options, nil
}

// adsPage mirrors one page of the ads endpoint.
type adsPage struct {
	Results []rawAd `json:"results"`
	Cursor  string  `json:"cursor"`
}

// GetAds retrieves up to opt.Limit ads for a page ID, following pagination
// cursors. Credit and rate-limit errors abort immediately; any other
// mid-pagination failure returns the ads gathered so far.
func (c *Client) GetAds(ctx context.Context, pageID string, opt AdsOptions) ([]Ad, error) {
	if opt.Limit <= 0 {
		opt.Limit = 50
	}
	perPage := opt.Limit
	if perPage > 100 {
		perPage = 100
	}

	q := url.Values{
		"pageId": {pageID},
		"limit":  {strconv.Itoa(perPage)},
	}
	if opt.Country != "" {
		q.Set("country", strings.ToUpper(opt.Country))
	}
	if opt.Trim {
		q.Set("trim", "true")
	}

	var ads []Ad
	for requests := 0; len(ads) < opt.Limit && requests < c.cfg.MaxPageRequests; requests++ {
		var page adsPage
		if err := c.getJSON(ctx, "/v1/facebook/adLibrary/company/ads", q, &page); err != nil {
			var ce *CreditError
			var rle *RateLimitError
			if errors.As(err, &ce) || errors.As(err, &rle) || len(ads) == 0 {
				return nil, fmt.Errorf("adlib: ads for page %s: %w", pageID, err)
			}
			c.cfg.Logger.Warn("pagination aborted, returning partial results",
				"page_id", pageID, "ads", len(ads), "error", err)
			break
		}

		parsed := parseAds(page.Results, c.cfg.Logger)
		if len(parsed) == 0 {
			break
		}
		ads = append(ads, parsed...)

		if page.Cursor == "" {
			break
		}
		q.Set("cursor", page.Cursor)
	}

	if len(ads) > opt.Limit {
		ads = ads[:opt.Limit]
	}
	return ads, nil
}

// SearchCompaniesBatch resolves many brands, deduplicating inputs. A credit
// or rate-limit error aborts the whole batch; any other per-brand failure
// leaves that brand's entry empty.
func (c *Client) SearchCompaniesBatch(ctx context.Context, brands []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string, len(brands))
	for _, brand := range brands {
		if _, done := out[brand]; done {
			continue
		}
		options, err := c.SearchCompanies(ctx, brand)
		if err != nil {
			var ce *CreditError
			var rle *RateLimitError
			if errors.As(err, &ce) || errors.As(err, &rle) {
				return nil, err
			}
			c.cfg.Logger.Warn("brand search failed", "brand", brand, "error", err)
			out[brand] = map[string]string{}
			continue
		}
		out[brand] = options
	}
	return out, nil
}

// GetAdsBatch retrieves ads for many page IDs, deduplicating inputs, with
// the same abort semantics as SearchCompaniesBatch.
func (c *Client) GetAdsBatch(ctx context.Context, pageIDs []string, opt AdsOptions) (map[string][]Ad, error) {
	out := make(map[string][]Ad, len(pageIDs))
	for _, id := range pageIDs {
		if _, done := out[id]; done {
			continue
		}
		ads, err := c.GetAds(ctx, id, opt)
		if err != nil {
			var ce *CreditError
			var rle *RateLimitError
			if errors.As(err, &ce) || errors.As(err, &rle) {
				return nil, err
			}
			c.cfg.Logger.Warn("ad retrieval failed", "page_id", id, "error", err)
			out[id] = nil
			continue
		}
		out[id] = ads
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, dst any) error {
	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	body, err := guard.LimitedReadAll(resp.Body, guard.MaxResponseBody)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", path, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// checkStatus maps billing-related statuses onto the typed errors before
// generic HTTP handling.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.ToLower(string(body))

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return &CreditError{Remaining: remainingCredits(resp.Header), TopupURL: c.cfg.TopupURL}
	case resp.StatusCode == http.StatusTooManyRequests:
		retry := 60 * time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				retry = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retry}
	case resp.StatusCode == http.StatusForbidden &&
		(strings.Contains(detail, "credit") || strings.Contains(detail, "quota")):
		return &CreditError{Remaining: remainingCredits(resp.Header), TopupURL: c.cfg.TopupURL}
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func remainingCredits(h http.Header) int {
	for _, name := range []string{"x-credits-remaining", "x-credit-remaining", "credits-remaining"} {
		if s := h.Get(name); s != "" {
			if n, err := strconv.Atoi(s); err == nil {
				return n
			}
		}
	}
	return 0
}
