package mediacache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/adscope/adscope/blobstore"
	"github.com/adscope/adscope/fetch"
	"github.com/adscope/adscope/mediastore"
	"github.com/adscope/adscope/vision"
)

// fakeFetcher serves canned bodies and counts downloads per URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	types  map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies: map[string][]byte{},
		types:  map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (f *fakeFetcher) serve(url string, body []byte, contentType string) {
	f.bodies[url] = body
	f.types[url] = contentType
}

func (f *fakeFetcher) Fetch(_ context.Context, url, _ string) (*fetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, fmt.Errorf("fake: no body for %s", url)
	}
	return &fetch.Result{Body: body, ContentType: f.types[url]}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// fakeAnalyzer scripts the backend: an uploaded path becomes a ref, one
// AnalyzeBatch call returns the scripted texts, and releases are recorded.
type fakeAnalyzer struct {
	mu           sync.Mutex
	uploads      []string
	released     []string
	uploadErr    error
	batchErr     error
	texts        []string
	batches      int
	instructions []string
}

func (a *fakeAnalyzer) Upload(_ context.Context, path, _ string) (vision.FileRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uploadErr != nil {
		return vision.FileRef{}, a.uploadErr
	}
	a.uploads = append(a.uploads, path)
	name := fmt.Sprintf("files/%d", len(a.uploads))
	return vision.FileRef{Name: name, URI: "uri-" + name, MIMEType: "video/mp4"}, nil
}

func (a *fakeAnalyzer) AnalyzeBatch(_ context.Context, refs []vision.FileRef, instruction string, contexts []vision.ItemContext) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches++
	a.instructions = append(a.instructions, instruction)
	if a.batchErr != nil {
		return nil, a.batchErr
	}
	if a.texts != nil {
		return a.texts, nil
	}
	out := make([]string, len(refs))
	for i := range out {
		out[i] = fmt.Sprintf("analysis for %s", refs[i].Name)
	}
	return out, nil
}

func (a *fakeAnalyzer) Release(_ context.Context, ref vision.FileRef) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.released = append(a.released, ref.Name)
	return nil
}

func (a *fakeAnalyzer) Model() string { return "fake-model" }

func (a *fakeAnalyzer) releasedRefs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.released...)
}

type testEnv struct {
	svc      *Service
	fetcher  *fakeFetcher
	analyzer *fakeAnalyzer
	index    *mediastore.Store
	blobs    *blobstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	if err := mediastore.ApplySchema(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	fetcher := newFakeFetcher()
	analyzer := &fakeAnalyzer{}
	index := mediastore.NewStore(db)
	svc, err := New(Config{
		Blobs:    blobs,
		Index:    index,
		Fetcher:  fetcher,
		Analyzer: analyzer,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{svc: svc, fetcher: fetcher, analyzer: analyzer, index: index, blobs: blobs}
}

func TestGetOrFetchMissThenHit(t *testing.T) {
	env := newTestEnv(t)
	url := "https://cdn.example/ad1.jpg"
	env.fetcher.serve(url, []byte("jpeg bytes"), "image/jpeg")
	req := MediaRequest{URL: url, MediaType: mediastore.MediaImage, BrandName: "Nike"}

	rec, cached, err := env.svc.GetOrFetch(context.Background(), req)
	if err != nil {
		t.Fatalf("first GetOrFetch: %v", err)
	}
	if cached {
		t.Error("first call reported cached")
	}
	if rec.FileSize != int64(len("jpeg bytes")) || rec.BrandName != "Nike" {
		t.Errorf("record = %+v", rec)
	}

	rec2, cached, err := env.svc.GetOrFetch(context.Background(), req)
	if err != nil {
		t.Fatalf("second GetOrFetch: %v", err)
	}
	if !cached {
		t.Error("second call reported a miss")
	}
	if rec2.URLHash != rec.URLHash {
		t.Errorf("hash changed between calls")
	}
	if got := env.fetcher.callCount(url); got != 1 {
		t.Errorf("fetcher called %d times, want 1", got)
	}
}

func TestGetOrFetchValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []MediaRequest{
		{URL: "", MediaType: mediastore.MediaImage},
		{URL: "https://x.example/a.jpg", MediaType: "audio"},
		{URL: "https://x.example/a.jpg"},
	}
	for _, req := range tests {
		if _, _, err := env.svc.GetOrFetch(context.Background(), req); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("req %+v: err = %v, want ErrInvalidInput", req, err)
		}
	}
	if got := env.fetcher.callCount("https://x.example/a.jpg"); got != 0 {
		t.Errorf("invalid request reached the fetcher %d times", got)
	}
}

func TestGetOrFetchRecoversMissingBlob(t *testing.T) {
	// WHAT: the metadata row survives but someone deleted the blob file.
	// WHY: that state must read as a miss and heal itself with one
	// re-download, not error out or serve nothing.
	env := newTestEnv(t)
	url := "https://cdn.example/ad2.jpg"
	env.fetcher.serve(url, []byte("payload"), "image/jpeg")
	req := MediaRequest{URL: url, MediaType: mediastore.MediaImage}

	rec, _, err := env.svc.GetOrFetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.blobs.Delete(blobstore.Ref(rec.BlobRef)); err != nil {
		t.Fatal(err)
	}

	rec2, cached, err := env.svc.GetOrFetch(context.Background(), req)
	if err != nil {
		t.Fatalf("recovery GetOrFetch: %v", err)
	}
	if cached {
		t.Error("missing blob reported as cache hit")
	}
	if _, err := env.blobs.Get(blobstore.Ref(rec2.BlobRef)); err != nil {
		t.Errorf("blob not restored: %v", err)
	}
	if got := env.fetcher.callCount(url); got != 2 {
		t.Errorf("fetcher called %d times, want 2", got)
	}
}

func TestGetOrFetchDownloadFailure(t *testing.T) {
	env := newTestEnv(t)
	url := "https://cdn.example/gone.jpg"
	env.fetcher.errs[url] = errors.New("connection refused")

	_, _, err := env.svc.GetOrFetch(context.Background(), MediaRequest{URL: url, MediaType: mediastore.MediaImage})
	if err == nil {
		t.Fatal("expected error")
	}
	// Nothing half-written: neither store knows the URL.
	if _, lerr := env.index.Lookup(context.Background(), url); !errors.Is(lerr, mediastore.ErrNotFound) {
		t.Errorf("failed download left a metadata row: %v", lerr)
	}
}

func TestGetOrFetchBatchOrderAndIsolation(t *testing.T) {
	// WHAT: a batch where the middle URL fails.
	// WHY: outcomes must keep input order and fail independently.
	env := newTestEnv(t)
	urls := []string{
		"https://cdn.example/a.jpg",
		"https://cdn.example/bad.jpg",
		"https://cdn.example/c.jpg",
	}
	env.fetcher.serve(urls[0], []byte("a"), "image/jpeg")
	env.fetcher.errs[urls[1]] = errors.New("500")
	env.fetcher.serve(urls[2], []byte("c"), "image/jpeg")

	reqs := make([]MediaRequest, len(urls))
	for i, u := range urls {
		reqs[i] = MediaRequest{URL: u, MediaType: mediastore.MediaImage}
	}
	out := env.svc.GetOrFetchBatch(context.Background(), reqs)

	if len(out) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(out))
	}
	for i, o := range out {
		if o.URL != urls[i] {
			t.Errorf("outcome %d is for %s, want %s", i, o.URL, urls[i])
		}
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Errorf("healthy slots failed: %v / %v", out[0].Err, out[2].Err)
	}
	if out[1].Err == nil {
		t.Error("failing slot has no error")
	}
}

func TestGetOrFetchBatchDuplicateURLs(t *testing.T) {
	// WHAT: the same URL twice in one concurrent batch.
	// WHY: the key lock makes the second request wait and reuse the first
	// download instead of fetching again.
	env := newTestEnv(t)
	url := "https://cdn.example/dup.jpg"
	env.fetcher.serve(url, []byte("dup"), "image/jpeg")

	req := MediaRequest{URL: url, MediaType: mediastore.MediaImage}
	out := env.svc.GetOrFetchBatch(context.Background(), []MediaRequest{req, req, req})

	for i, o := range out {
		if o.Err != nil {
			t.Fatalf("slot %d: %v", i, o.Err)
		}
		if o.Record == nil || o.Record.URLHash != blobstore.HashURL(url) {
			t.Errorf("slot %d record = %+v", i, o.Record)
		}
	}
	if got := env.fetcher.callCount(url); got != 1 {
		t.Errorf("fetcher called %d times for duplicates, want 1", got)
	}
}

func TestCleanupEvictsStrictlyOlder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two records: one ancient, one fresh.
	oldURL := "https://cdn.example/old.mp4"
	newURL := "https://cdn.example/new.jpg"
	env.fetcher.serve(oldURL, []byte("old video bytes"), "video/mp4")
	env.fetcher.serve(newURL, []byte("new"), "image/jpeg")

	oldRec, _, err := env.svc.GetOrFetch(ctx, MediaRequest{URL: oldURL, MediaType: mediastore.MediaVideo})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.svc.GetOrFetch(ctx, MediaRequest{URL: newURL, MediaType: mediastore.MediaImage}); err != nil {
		t.Fatal(err)
	}

	// Age the first record 40 days.
	aged := oldRec.DownloadedAt - 40*24*3600*1000
	if _, err := env.index.DB.Exec("UPDATE media_cache SET downloaded_at = ? WHERE url = ?", aged, oldURL); err != nil {
		t.Fatal(err)
	}

	report, err := env.svc.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if report.FilesRemoved != 1 || report.VideosRemoved != 1 || report.ImagesRemoved != 0 {
		t.Errorf("report = %+v", report)
	}
	if report.BytesFreed != int64(len("old video bytes")) {
		t.Errorf("bytes freed = %d", report.BytesFreed)
	}

	if _, err := env.index.Lookup(ctx, oldURL); !errors.Is(err, mediastore.ErrNotFound) {
		t.Errorf("old record still present: %v", err)
	}
	if _, err := env.blobs.Get(blobstore.Ref(oldRec.BlobRef)); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("old blob still present: %v", err)
	}
	if _, err := env.index.Lookup(ctx, newURL); err != nil {
		t.Errorf("fresh record evicted: %v", err)
	}
}

func TestCleanupRejectsNonPositiveAge(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Cleanup(context.Background(), 0); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestStatsReflectCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fetcher.serve("https://cdn.example/s1.jpg", []byte("1234"), "image/jpeg")
	if _, _, err := env.svc.GetOrFetch(ctx, MediaRequest{URL: "https://cdn.example/s1.jpg", MediaType: mediastore.MediaImage, BrandName: "Acme"}); err != nil {
		t.Fatal(err)
	}

	stats, err := env.svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalFiles != 1 || stats.TotalImages != 1 || stats.TotalSizeBytes != 4 || stats.UniqueBrands != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSearchScrubsEmbeddedMedia(t *testing.T) {
	// WHAT: a stored payload carrying base64 media under a data key.
	// WHY: search results are metadata; raw bytes must not leak through.
	env := newTestEnv(t)
	ctx := context.Background()
	url := "https://cdn.example/scrub.jpg"
	env.fetcher.serve(url, []byte("x"), "image/jpeg")
	if _, _, err := env.svc.GetOrFetch(ctx, MediaRequest{URL: url, MediaType: mediastore.MediaImage}); err != nil {
		t.Fatal(err)
	}

	huge := make([]byte, 600)
	for i := range huge {
		huge[i] = 'A'
	}
	payload := map[string]any{
		"raw_analysis": "short text stays",
		"image_data":   string(huge),
		"nested":       map[string]any{"data": string(huge)},
	}
	if err := env.index.UpdateAnalysis(ctx, url, payload); err != nil {
		t.Fatal(err)
	}

	recs, err := env.svc.Search(ctx, mediastore.SearchFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	got := recs[0].Analysis
	if got["image_data"] != PayloadScrubbed {
		t.Errorf("image_data = %v, want placeholder", got["image_data"])
	}
	if nested, ok := got["nested"].(map[string]any); !ok || nested["data"] != PayloadScrubbed {
		t.Errorf("nested data not scrubbed: %v", got["nested"])
	}
	if got["raw_analysis"] != "short text stays" {
		t.Errorf("raw_analysis altered: %v", got["raw_analysis"])
	}
}
