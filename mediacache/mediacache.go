// Package mediacache is the facade over the media caching subsystem: it
// composes the blob store, the metadata index, the downloader and the
// analysis backend behind one Service, and is the only package tool handlers
// talk to.
//
// Consistency model: the blob store holds the bytes, the index holds the
// truth. A record without its blob is treated as a miss and re-downloaded
// once; a blob without its record is invisible and gets overwritten by the
// next Put for the same URL.
package mediacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adscope/adscope/blobstore"
	"github.com/adscope/adscope/fetch"
	"github.com/adscope/adscope/mediastore"
	"github.com/adscope/adscope/observability"
	"github.com/adscope/adscope/vision"
)

// ErrInvalidInput marks requests rejected before any I/O: empty URL,
// unknown media type, mismatched batch lists.
var ErrInvalidInput = errors.New("mediacache: invalid input")

// Fetcher is the downloader surface the service needs.
type Fetcher interface {
	Fetch(ctx context.Context, url, mediaType string) (*fetch.Result, error)
}

// MediaRequest identifies one creative to cache or analyze.
type MediaRequest struct {
	URL       string
	MediaType string // mediastore.MediaImage or mediastore.MediaVideo
	BrandName string
	AdID      string

	// ForceRefresh re-runs analysis even when a payload is already cached.
	// It never re-downloads bytes that are present.
	ForceRefresh bool
}

func (r MediaRequest) validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: empty media URL", ErrInvalidInput)
	}
	if r.MediaType != mediastore.MediaImage && r.MediaType != mediastore.MediaVideo {
		return fmt.Errorf("%w: media type %q", ErrInvalidInput, r.MediaType)
	}
	return nil
}

// FetchOutcome is one slot of a GetOrFetchBatch result, in input order.
type FetchOutcome struct {
	URL    string
	Record *mediastore.MediaRecord
	Cached bool
	Err    error
}

// Config wires a Service.
type Config struct {
	Blobs    *blobstore.Store
	Index    *mediastore.Store
	Fetcher  Fetcher
	Analyzer vision.Analyzer

	// Events and Metrics are optional; nil disables them.
	Events  *observability.EventLogger
	Metrics *observability.MetricsManager

	// MaxConcurrent bounds parallel downloads in GetOrFetchBatch.
	// Default: 4.
	MaxConcurrent int

	// ServiceName tags business events. Default: "adscope".
	ServiceName string

	Logger *slog.Logger
}

// Service is the cache facade.
type Service struct {
	blobs    *blobstore.Store
	index    *mediastore.Store
	fetcher  Fetcher
	analyzer vision.Analyzer
	events   *observability.EventLogger
	metrics  *observability.MetricsManager
	keys     *keyLock
	maxConc  int
	name     string
	logger   *slog.Logger
}

// New validates the wiring and returns a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Blobs == nil || cfg.Index == nil || cfg.Fetcher == nil || cfg.Analyzer == nil {
		return nil, fmt.Errorf("mediacache: blobs, index, fetcher and analyzer are all required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "adscope"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		blobs:    cfg.Blobs,
		index:    cfg.Index,
		fetcher:  cfg.Fetcher,
		analyzer: cfg.Analyzer,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		keys:     newKeyLock(),
		maxConc:  cfg.MaxConcurrent,
		name:     cfg.ServiceName,
		logger:   cfg.Logger,
	}, nil
}

// GetOrFetch returns the cached record for a URL, downloading and caching
// it on a miss. The bool reports whether the bytes came from cache. A
// record whose blob has vanished from disk counts as a miss and is
// re-downloaded under the same key.
func (s *Service) GetOrFetch(ctx context.Context, req MediaRequest) (*mediastore.MediaRecord, bool, error) {
	if err := req.validate(); err != nil {
		return nil, false, err
	}
	hash := blobstore.HashURL(req.URL)
	unlock := s.keys.lock(hash)
	defer unlock()
	return s.getOrFetchLocked(ctx, req, hash)
}

// getOrFetchLocked is GetOrFetch without lock management; the caller holds
// the key lock for hash.
func (s *Service) getOrFetchLocked(ctx context.Context, req MediaRequest, hash string) (*mediastore.MediaRecord, bool, error) {
	rec, err := s.index.Lookup(ctx, req.URL)
	switch {
	case err == nil:
		if _, perr := s.blobs.Path(blobstore.Ref(rec.BlobRef)); perr == nil {
			s.metric(observability.MetricCacheHitCount, 1, "count")
			return rec, true, nil
		}
		s.logger.Warn("cached record has no blob, re-downloading",
			"url_hash", hash, "blob_ref", rec.BlobRef)
	case !errors.Is(err, mediastore.ErrNotFound):
		return nil, false, fmt.Errorf("mediacache: lookup: %w", err)
	}

	s.metric(observability.MetricCacheMissCount, 1, "count")
	started := time.Now()
	res, err := s.fetcher.Fetch(ctx, req.URL, req.MediaType)
	if err != nil {
		return nil, false, fmt.Errorf("mediacache: download: %w", err)
	}

	ref, err := s.blobs.Put(hash, res.Body, res.ContentType)
	if err != nil {
		return nil, false, fmt.Errorf("mediacache: store blob: %w", err)
	}

	rec = &mediastore.MediaRecord{
		URLHash:     hash,
		URL:         req.URL,
		MediaType:   req.MediaType,
		ContentType: res.ContentType,
		BlobRef:     string(ref),
		FileSize:    int64(len(res.Body)),
		BrandName:   req.BrandName,
		AdID:        req.AdID,
	}
	if err := s.index.Upsert(ctx, rec); err != nil {
		// Roll the blob back so the stores don't drift apart.
		if derr := s.blobs.Delete(ref); derr != nil {
			s.logger.Error("orphaned blob after failed upsert", "ref", ref, "error", derr)
		}
		return nil, false, fmt.Errorf("mediacache: index: %w", err)
	}

	s.metric(observability.MetricMediaDownloadMs, float64(time.Since(started).Milliseconds()), "milliseconds")
	s.metric(observability.MetricMediaDownloadBytes, float64(rec.FileSize), "bytes")
	s.event(ctx, observability.BusinessEvent{
		EventType:  observability.EventMediaDownloaded,
		EntityType: "media",
		EntityID:   hash,
		Action:     "download",
		Details:    fmt.Sprintf(`{"media_type":%q,"bytes":%d}`, req.MediaType, rec.FileSize),
		Success:    true,
	})
	return rec, false, nil
}

// GetOrFetchBatch caches every requested URL, up to MaxConcurrent downloads
// in parallel. Outcomes are in input order; duplicate URLs serialize on the
// key lock so the bytes are downloaded once and every slot gets the record.
func (s *Service) GetOrFetchBatch(ctx context.Context, reqs []MediaRequest) []FetchOutcome {
	out := make([]FetchOutcome, len(reqs))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.maxConc)
	for i, req := range reqs {
		out[i].URL = req.URL
		wg.Add(1)
		go func(i int, req MediaRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			rec, cached, err := s.GetOrFetch(ctx, req)
			out[i].Record, out[i].Cached, out[i].Err = rec, cached, err
		}(i, req)
	}
	wg.Wait()
	return out
}

func (s *Service) event(ctx context.Context, ev observability.BusinessEvent) {
	if s.events == nil {
		return
	}
	ev.ServiceName = s.name
	s.events.LogEvent(ctx, ev)
}

func (s *Service) metric(name string, value float64, unit string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordSimple(name, value, unit)
}

// detailsJSON marshals event details, falling back to {} so a marshalling
// hiccup never blocks an event write.
func detailsJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
