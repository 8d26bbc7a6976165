package mediacache

import (
	"context"
	"fmt"
	"time"

	"github.com/adscope/adscope/blobstore"
	"github.com/adscope/adscope/mediastore"
	"github.com/adscope/adscope/observability"
)

// PayloadScrubbed replaces embedded media data in search results.
const PayloadScrubbed = "[media data omitted]"

// Stats reports aggregate cache counters at the instant of the call.
func (s *Service) Stats(ctx context.Context) (*mediastore.CacheStats, error) {
	return s.index.Stats(ctx)
}

// Search returns cached records matching the filters, most recent first.
// Analysis payloads are scrubbed of embedded raw media before leaving the
// facade; a search result is metadata, not a media transport.
func (s *Service) Search(ctx context.Context, filters mediastore.SearchFilters) ([]*mediastore.MediaRecord, error) {
	recs, err := s.index.Search(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("mediacache: search: %w", err)
	}
	for _, rec := range recs {
		if rec.Analysis != nil {
			rec.Analysis = scrubPayload(rec.Analysis)
		}
	}
	return recs, nil
}

// scrubPayload walks the payload and replaces any value that looks like
// embedded media bytes with a placeholder. The original map is left alone;
// callers may still hold it.
func scrubPayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = scrubValue(k, v)
	}
	return out
}

func scrubValue(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return scrubPayload(val)
	case []any:
		scrubbed := make([]any, len(val))
		for i, item := range val {
			scrubbed[i] = scrubValue(key, item)
		}
		return scrubbed
	case string:
		if isEmbeddedMedia(key, val) {
			return PayloadScrubbed
		}
		return val
	default:
		return v
	}
}

// isEmbeddedMedia flags strings that carry raw file content: either stored
// under a data-bearing key or simply enormous, which no analysis text is.
func isEmbeddedMedia(key, val string) bool {
	switch key {
	case "image_data", "video_data", "media_data", "base64", "data":
		return len(val) > 256
	}
	return len(val) > 1<<20
}

// EvictionReport summarizes one Cleanup sweep.
type EvictionReport struct {
	FilesRemoved  int   `json:"files_removed"`
	ImagesRemoved int   `json:"images_removed"`
	VideosRemoved int   `json:"videos_removed"`
	BytesFreed    int64 `json:"bytes_freed"`
}

// Cleanup evicts every record downloaded strictly more than maxAgeDays ago.
// A record downloaded exactly at the boundary survives. Each record is
// removed under its own key lock, blob first, so an in-flight request for
// the same URL either finishes before the eviction or sees a clean miss.
func (s *Service) Cleanup(ctx context.Context, maxAgeDays int) (*EvictionReport, error) {
	if maxAgeDays <= 0 {
		return nil, fmt.Errorf("%w: max age must be positive, got %d days", ErrInvalidInput, maxAgeDays)
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UnixMilli()
	recs, err := s.index.ListOlderThan(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mediacache: list for eviction: %w", err)
	}

	report := &EvictionReport{}
	for _, rec := range recs {
		if err := s.evictOne(ctx, rec, report); err != nil {
			s.logger.Error("eviction failed, record kept", "url_hash", rec.URLHash, "error", err)
		}
	}

	s.metric(observability.MetricEvictionFilesRemoved, float64(report.FilesRemoved), "count")
	s.metric(observability.MetricEvictionBytesFreed, float64(report.BytesFreed), "bytes")
	s.event(ctx, observability.BusinessEvent{
		EventType:  observability.EventEvictionSweep,
		EntityType: "sweep",
		Action:     "evict",
		Details:    detailsJSON(report),
		Success:    true,
	})
	return report, nil
}

func (s *Service) evictOne(ctx context.Context, rec *mediastore.MediaRecord, report *EvictionReport) error {
	unlock := s.keys.lock(rec.URLHash)
	defer unlock()

	// Blob first. If the metadata delete then fails the record points at a
	// missing blob, which the miss-recovery path already handles.
	if err := s.blobs.Delete(blobstore.Ref(rec.BlobRef)); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if _, err := s.index.DeleteBatch(ctx, []string{rec.URL}); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	report.FilesRemoved++
	report.BytesFreed += rec.FileSize
	switch rec.MediaType {
	case mediastore.MediaImage:
		report.ImagesRemoved++
	case mediastore.MediaVideo:
		report.VideosRemoved++
	}
	return nil
}
