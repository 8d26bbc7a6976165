package adlib

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{APIKey: "test-key", BaseURL: srv.URL})
}

func TestSearchCompanies(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.URL.Query().Get("query"); got != "Nike" {
			t.Errorf("query = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"searchResults": []any{
				map[string]any{"name": "Nike", "page_id": "15087023444"},
				map[string]any{"name": "Nike Football", "page_id": "160result"},
				map[string]any{"name": "No ID"},
			},
		})
	}))

	options, err := c.SearchCompanies(context.Background(), "Nike")
	if err != nil {
		t.Fatalf("SearchCompanies: %v", err)
	}
	if len(options) != 2 {
		t.Fatalf("got %d options, want 2 (entry without page_id dropped)", len(options))
	}
	if options["Nike"] != "15087023444" {
		t.Errorf("options[Nike] = %q", options["Nike"])
	}
}

// adsPageJSON builds one ads endpoint page.
func adsPageJSON(cursor string, results ...map[string]any) map[string]any {
	page := map[string]any{"results": results}
	if cursor != "" {
		page["cursor"] = cursor
	}
	return page
}

func imageAd(id, url, body string) map[string]any {
	return map[string]any{
		"ad_archive_id": id,
		"start_date":    int64(1735689600),
		"snapshot": map[string]any{
			"display_format": "IMAGE",
			"body":           map[string]any{"text": body},
			"images":         []any{map[string]any{"resized_image_url": url}},
		},
	}
}

func TestGetAdsPagination(t *testing.T) {
	// WHAT: two pages joined by a cursor, then a cursorless page.
	// WHY: the loop must thread the cursor through and stop at the end.
	var cursorsSeen []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cursor := r.URL.Query().Get("cursor")
		cursorsSeen = append(cursorsSeen, cursor)
		switch cursor {
		case "":
			json.NewEncoder(w).Encode(adsPageJSON("page2", imageAd("a1", "http://cdn/a1.jpg", "first")))
		case "page2":
			json.NewEncoder(w).Encode(adsPageJSON("", imageAd("a2", "http://cdn/a2.jpg", "second")))
		default:
			t.Errorf("unexpected cursor %q", cursor)
		}
	}))

	ads, err := c.GetAds(context.Background(), "page-1", AdsOptions{Limit: 10})
	if err != nil {
		t.Fatalf("GetAds: %v", err)
	}
	if len(ads) != 2 || ads[0].AdID != "a1" || ads[1].AdID != "a2" {
		t.Errorf("ads = %+v", ads)
	}
	if len(cursorsSeen) != 2 || cursorsSeen[1] != "page2" {
		t.Errorf("cursors seen = %v", cursorsSeen)
	}
	if ads[0].StartDate == nil || !ads[0].StartDate.Equal(time.Unix(1735689600, 0)) {
		t.Errorf("start date = %v", ads[0].StartDate)
	}
}

func TestGetAdsLimitTruncates(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(adsPageJSON("more",
			imageAd("a1", "http://cdn/1.jpg", "x"),
			imageAd("a2", "http://cdn/2.jpg", "x"),
			imageAd("a3", "http://cdn/3.jpg", "x")))
	}))

	ads, err := c.GetAds(context.Background(), "p", AdsOptions{Limit: 2})
	if err != nil {
		t.Fatalf("GetAds: %v", err)
	}
	if len(ads) != 2 {
		t.Errorf("got %d ads, want 2", len(ads))
	}
}

func TestParseAdsDCOFanOut(t *testing.T) {
	// WHAT: a dynamic creative with three cards, one of them bodyless.
	// WHY: each complete card becomes its own Ad under the parent's ID.
	results := []rawAd{}
	raw, _ := json.Marshal(map[string]any{
		"ad_archive_id": "dco1",
		"snapshot": map[string]any{
			"display_format": "DCO",
			"cards": []any{
				map[string]any{"resized_image_url": "http://cdn/c1.jpg", "body": "card one"},
				map[string]any{"resized_image_url": "http://cdn/c2.jpg"},
				map[string]any{"resized_image_url": "http://cdn/c3.jpg", "body": "card three"},
			},
		},
	})
	var r rawAd
	if err := json.Unmarshal(raw, &r); err != nil {
		t.Fatal(err)
	}
	results = append(results, r)

	ads := parseAds(results, testLogger())
	if len(ads) != 2 {
		t.Fatalf("got %d ads, want 2", len(ads))
	}
	for _, ad := range ads {
		if ad.AdID != "dco1" || ad.MediaType != "image" || ad.DisplayFormat != "DCO" {
			t.Errorf("ad = %+v", ad)
		}
	}
	if ads[0].Body != "card one" || ads[1].Body != "card three" {
		t.Errorf("bodies = %q, %q", ads[0].Body, ads[1].Body)
	}
}

func TestParseAdsSkipsUnsupportedAndIncomplete(t *testing.T) {
	var carousel, noMedia rawAd
	json.Unmarshal([]byte(`{"ad_archive_id":"x","snapshot":{"display_format":"CAROUSEL"}}`), &carousel)
	json.Unmarshal([]byte(`{"ad_archive_id":"y","snapshot":{"display_format":"IMAGE","body":{"text":"hi"}}}`), &noMedia)

	if got := parseAds([]rawAd{carousel, noMedia}, testLogger()); len(got) != 0 {
		t.Errorf("got %d ads, want 0", len(got))
	}
}

func TestCreditErrorOn402(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-credits-remaining", "0")
		http.Error(w, "payment required", http.StatusPaymentRequired)
	}))

	_, err := c.SearchCompanies(context.Background(), "Nike")
	var ce *CreditError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CreditError", err)
	}
	if ce.Remaining != 0 || !strings.Contains(ce.TopupURL, "scrapecreators.com") {
		t.Errorf("CreditError = %+v", ce)
	}
}

func TestCreditErrorOnCreditFlavored403(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"insufficient credits for this plan"}`, http.StatusForbidden)
	}))
	_, err := c.GetAds(context.Background(), "p", AdsOptions{})
	var ce *CreditError
	if !errors.As(err, &ce) {
		t.Errorf("err = %v, want CreditError", err)
	}
}

func TestPlain403IsNotCreditError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusForbidden)
	}))
	_, err := c.SearchCompanies(context.Background(), "Nike")
	var ce *CreditError
	if errors.As(err, &ce) {
		t.Errorf("plain 403 classified as CreditError: %v", err)
	}
	if err == nil {
		t.Error("expected error")
	}
}

func TestRateLimitErrorOn429(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	_, err := c.GetAds(context.Background(), "p", AdsOptions{})
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rle.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %s, want 5s", rle.RetryAfter)
	}
}

func TestGetAdsReturnsPartialOnMidPaginationFailure(t *testing.T) {
	// WHAT: first page succeeds, second page 500s.
	// WHY: gathered ads are worth returning; only billing errors abort.
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(adsPageJSON("next", imageAd("a1", "http://cdn/1.jpg", "x")))
			return
		}
		http.Error(w, "backend hiccup", http.StatusInternalServerError)
	}))

	ads, err := c.GetAds(context.Background(), "p", AdsOptions{Limit: 10})
	if err != nil {
		t.Fatalf("GetAds: %v", err)
	}
	if len(ads) != 1 {
		t.Errorf("got %d ads, want the 1 from the healthy page", len(ads))
	}
}

func TestSearchCompaniesBatchDedupsAndAbortsOnCredit(t *testing.T) {
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("query") == "Broke" {
			http.Error(w, "payment required", http.StatusPaymentRequired)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"searchResults": []any{map[string]any{"name": "Nike", "page_id": "1"}},
		})
	}))

	// Duplicate inputs collapse to one call each.
	out, err := c.SearchCompaniesBatch(context.Background(), []string{"Nike", "Nike", "Nike"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if calls != 1 || len(out) != 1 {
		t.Errorf("calls = %d, entries = %d, want 1 and 1", calls, len(out))
	}

	// Credit exhaustion aborts and surfaces typed.
	_, err = c.SearchCompaniesBatch(context.Background(), []string{"Broke", "Nike"})
	var ce *CreditError
	if !errors.As(err, &ce) {
		t.Errorf("err = %v, want CreditError", err)
	}
}
