package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// Minimal but real file headers so content sniffing recognizes them.
var (
	pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	jpgBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10, 'J', 'F', 'I', 'F', 0}
)

func newTestFetcher(cfg Config) *Fetcher {
	// Tests hit 127.0.0.1 servers, so the SSRF validator must stand down.
	cfg.URLValidator = func(string) error { return nil }
	return New(cfg)
}

func TestFetchImage(t *testing.T) {
	// WHAT: fetching a URL whose server returns an image content type.
	// WHY: the happy path must hand back body and content type verbatim.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	f := newTestFetcher(Config{})
	res, err := f.Fetch(context.Background(), srv.URL, "image")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(res.Body, pngBytes) {
		t.Errorf("body mismatch: got %d bytes", len(res.Body))
	}
	if res.ContentType != "image/png" {
		t.Errorf("content type = %q, want image/png", res.ContentType)
	}
}

func TestFetchRejectsWrongClass(t *testing.T) {
	// WHAT: an expired CDN URL answered with an HTML error page and 200.
	// WHY: such a body must never be cached as media; the typed error lets
	// callers distinguish this from transport failures.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>this ad has expired</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(Config{})
	for _, mediaType := range []string{"image", "video"} {
		_, err := f.Fetch(context.Background(), srv.URL, mediaType)
		if !errors.Is(err, ErrInvalidContentType) {
			t.Errorf("%s: err = %v, want ErrInvalidContentType", mediaType, err)
		}
	}
}

func TestFetchSniffsMissingContentType(t *testing.T) {
	// WHAT: a server that sends application/octet-stream for a real JPEG.
	// WHY: some CDNs never set a proper type; the body bytes are the
	// authority then.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(jpgBytes)
	}))
	defer srv.Close()

	f := newTestFetcher(Config{})
	res, err := f.Fetch(context.Background(), srv.URL, "image")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(res.ContentType, "image/jpeg") {
		t.Errorf("sniffed content type = %q, want image/jpeg", res.ContentType)
	}
}

func TestFetchMarkerMatch(t *testing.T) {
	// WHAT: marker matching over the accepted content type spellings.
	tests := []struct {
		contentType string
		mediaType   string
		ok          bool
	}{
		{"image/png", "image", true},
		{"application/jpg", "image", true},
		{"image/webp", "image", true},
		{"video/mp4", "video", true},
		{"application/mp4", "video", true},
		{"video/quicktime; codecs=avc1", "video", true},
		{"video/webm", "video", true},
		{"video/mp4", "image", false},
		{"image/png", "video", false},
		{"text/plain", "image", false},
	}
	for _, tc := range tests {
		if got := matchesClass(tc.contentType, tc.mediaType); got != tc.ok {
			t.Errorf("matchesClass(%q, %q) = %v, want %v", tc.contentType, tc.mediaType, got, tc.ok)
		}
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(Config{})
	_, err := f.Fetch(context.Background(), srv.URL, "image")
	if err == nil || !strings.Contains(err.Error(), "http 404") {
		t.Errorf("err = %v, want http 404", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	// WHAT: a server that stalls longer than the image timeout.
	// WHY: one slow CDN must not hold a batch hostage; the deadline error
	// must surface as context.DeadlineExceeded for callers to classify.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	f := newTestFetcher(Config{ImageTimeout: 50 * time.Millisecond})
	_, err := f.Fetch(context.Background(), srv.URL, "image")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestFetchBodyCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(bytes.Repeat([]byte{0xAA}, 2048))
	}))
	defer srv.Close()

	f := newTestFetcher(Config{MaxBytes: 1024})
	_, err := f.Fetch(context.Background(), srv.URL, "image")
	if err == nil {
		t.Fatal("expected error for oversized body")
	}
}

func TestFetchBatchPartialFailure(t *testing.T) {
	// WHAT: a batch where one URL 500s and the rest succeed.
	// WHY: every input must get its own result slot; failures stay isolated.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a", srv.URL + "/bad", srv.URL + "/c"}
	f := newTestFetcher(Config{})
	out := f.FetchBatch(context.Background(), urls, "image")

	if len(out) != 3 {
		t.Fatalf("got %d results, want 3", len(out))
	}
	if out[urls[0]].Err != nil || out[urls[2]].Err != nil {
		t.Errorf("healthy URLs failed: %v / %v", out[urls[0]].Err, out[urls[2]].Err)
	}
	if out[urls[1]].Err == nil {
		t.Error("failing URL reported no error")
	}
}

func TestFetchBatchDedupsURLs(t *testing.T) {
	// WHAT: the same URL listed three times in one batch.
	// WHY: duplicates must collapse to one download.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	f := newTestFetcher(Config{})
	out := f.FetchBatch(context.Background(), []string{srv.URL, srv.URL, srv.URL}, "image")
	if got := hits.Load(); got != 1 {
		t.Errorf("server hit %d times, want 1", got)
	}
	if len(out) != 1 {
		t.Errorf("got %d map entries, want 1", len(out))
	}
}

func TestFetchBatchConcurrencyBound(t *testing.T) {
	// WHAT: 8 parallel fetches against a MaxConcurrent of 2.
	var cur, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		cur.Add(-1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	defer srv.Close()

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = srv.URL + "/" + string(rune('a'+i))
	}
	f := newTestFetcher(Config{MaxConcurrent: 2})
	f.FetchBatch(context.Background(), urls, "image")
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency %d, want <= 2", p)
	}
}

func TestFetchBlockedURL(t *testing.T) {
	// Default validator in place here: loopback must be refused before any
	// network traffic happens.
	f := New(Config{})
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:9/x.png", "image")
	if err == nil || !strings.Contains(err.Error(), "URL blocked") {
		t.Errorf("err = %v, want URL blocked", err)
	}
}
