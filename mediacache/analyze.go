package mediacache

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/adscope/adscope/blobstore"
	"github.com/adscope/adscope/mediastore"
	"github.com/adscope/adscope/observability"
	"github.com/adscope/adscope/vision"
)

// AnalyzeOutcome is one slot of an AnalyzeBatch result, in input order.
type AnalyzeOutcome struct {
	URL      string
	Record   *mediastore.MediaRecord
	Analysis map[string]any
	Cached   bool
	Err      error
}

// Analyze runs a batch of one.
func (s *Service) Analyze(ctx context.Context, req MediaRequest) (map[string]any, bool, error) {
	o := s.AnalyzeBatch(ctx, []MediaRequest{req})[0]
	return o.Analysis, o.Cached, o.Err
}

// pendingItem is one distinct URL awaiting backend analysis. Duplicate
// requests for the same URL share a pendingItem, so the bytes are uploaded
// and analyzed once and every slot gets the payload.
type pendingItem struct {
	positions []int
	req       MediaRequest
	rec       *mediastore.MediaRecord
	ref       vision.FileRef
	uploaded  bool
}

// AnalyzeBatch analyzes every requested creative, reusing cached payloads
// and sending everything else to the backend in a single combined request.
// One item's failure never empties its siblings' slots; outcomes come back
// in the caller's request order.
func (s *Service) AnalyzeBatch(ctx context.Context, reqs []MediaRequest) []AnalyzeOutcome {
	out := make([]AnalyzeOutcome, len(reqs))

	var validIdx []int
	var validURLs []string
	for i, req := range reqs {
		out[i].URL = req.URL
		if err := req.validate(); err != nil {
			out[i].Err = err
			continue
		}
		validIdx = append(validIdx, i)
		validURLs = append(validURLs, req.URL)
	}

	// One query answers every already-analyzed item without touching the
	// blob store or the key locks.
	known, err := s.index.LookupBatch(ctx, validURLs)
	if err != nil {
		s.logger.Warn("batch lookup failed, falling back to per-item path", "error", err)
		known = nil
	}

	// Everything else needs its bytes present before upload.
	var fetchIdx []int
	var fetchReqs []MediaRequest
	for _, i := range validIdx {
		req := reqs[i]
		if rec := known[req.URL]; rec != nil && rec.Analyzed() && !req.ForceRefresh {
			out[i].Record = rec
			out[i].Analysis = rec.Analysis
			out[i].Cached = true
			continue
		}
		fetchIdx = append(fetchIdx, i)
		fetchReqs = append(fetchReqs, req)
	}
	for k, fo := range s.GetOrFetchBatch(ctx, fetchReqs) {
		i := fetchIdx[k]
		out[i].Record = fo.Record
		out[i].Err = fo.Err
	}

	// Partition cached payloads from work, collapsing duplicate URLs.
	var pending []*pendingItem
	byHash := make(map[string]*pendingItem)
	for i, req := range reqs {
		if out[i].Err != nil {
			continue
		}
		rec := out[i].Record
		if rec.Analyzed() && !req.ForceRefresh {
			out[i].Analysis = rec.Analysis
			out[i].Cached = true
			continue
		}
		hash := blobstore.HashURL(req.URL)
		if it, ok := byHash[hash]; ok {
			it.positions = append(it.positions, i)
			continue
		}
		it := &pendingItem{positions: []int{i}, req: req, rec: rec}
		byHash[hash] = it
		pending = append(pending, it)
	}
	if len(pending) == 0 {
		return out
	}

	// Every ref staged from here on is released before returning, error or
	// not. Backend storage is billed; leaks add up fast.
	defer func() {
		for _, it := range pending {
			if !it.uploaded {
				continue
			}
			rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.analyzer.Release(rctx, it.ref); err != nil {
				s.logger.Warn("failed to release uploaded media", "ref", it.ref.Name, "error", err)
			}
			cancel()
		}
	}()

	// The shared instruction is chosen per media class, so a mixed batch
	// splits into one backend submission per class. Slots still come back
	// in the caller's order.
	var classes [][]*pendingItem
	classIdx := make(map[string]int)
	for _, it := range pending {
		k, ok := classIdx[it.req.MediaType]
		if !ok {
			k = len(classes)
			classIdx[it.req.MediaType] = k
			classes = append(classes, nil)
		}
		classes[k] = append(classes[k], it)
	}
	for _, class := range classes {
		s.analyzeClass(ctx, out, class)
	}
	return out
}

// analyzeClass uploads one media class's pending items, analyzes them in a
// single backend request and demuxes the combined response back onto the
// slots. Refs staged here are released by the caller's deferred sweep.
func (s *Service) analyzeClass(ctx context.Context, out []AnalyzeOutcome, pending []*pendingItem) {
	started := time.Now()
	var submitted []*pendingItem
	for _, it := range pending {
		path, err := s.blobs.Path(blobstore.Ref(it.rec.BlobRef))
		if err != nil {
			s.fail(out, it, fmt.Errorf("mediacache: blob for analysis: %w", err))
			continue
		}
		ref, err := s.analyzer.Upload(ctx, path, it.rec.ContentType)
		if err != nil {
			s.fail(out, it, fmt.Errorf("mediacache: upload: %w", err))
			continue
		}
		it.ref = ref
		it.uploaded = true
		submitted = append(submitted, it)
	}
	if len(submitted) == 0 {
		return
	}

	refs := make([]vision.FileRef, len(submitted))
	contexts := make([]vision.ItemContext, len(submitted))
	for k, it := range submitted {
		refs[k] = it.ref
		contexts[k] = vision.ItemContext{BrandName: it.req.BrandName, AdID: it.req.AdID}
	}

	instruction := vision.ImagePrompt
	if submitted[0].req.MediaType == mediastore.MediaVideo {
		instruction = vision.VideoPrompt
	}

	texts, err := s.analyzer.AnalyzeBatch(ctx, refs, instruction, contexts)
	if err != nil {
		for _, it := range submitted {
			s.fail(out, it, fmt.Errorf("mediacache: analyze: %w", err))
		}
		s.event(ctx, observability.BusinessEvent{
			EventType:  observability.EventAnalysisBatch,
			EntityType: "batch",
			Action:     "analyze",
			Details:    detailsJSON(map[string]any{"submitted": len(submitted), "error": err.Error()}),
			Success:    false,
		})
		return
	}

	// Position is the contract: texts[k] belongs to submitted[k].
	succeeded := 0
	for k, it := range submitted {
		var text string
		if k < len(texts) {
			text = texts[k]
		}
		if text == "" {
			s.fail(out, it, fmt.Errorf("mediacache: analysis for item %d missing from batch response", k+1))
			continue
		}

		payload := s.buildPayload(text, it.rec, k, len(submitted))
		if err := s.writeBack(ctx, it.req.URL, payload); err != nil {
			s.fail(out, it, err)
			continue
		}
		for _, i := range it.positions {
			out[i].Analysis = payload
			out[i].Record.Analysis = payload
		}
		succeeded++
	}

	s.metric(observability.MetricAnalysisBatchMs, float64(time.Since(started).Milliseconds()), "milliseconds")
	s.metric(observability.MetricAnalysisBatchSize, float64(len(submitted)), "count")
	s.event(ctx, observability.BusinessEvent{
		EventType:  observability.EventAnalysisBatch,
		EntityType: "batch",
		Action:     "analyze",
		Details:    detailsJSON(map[string]any{"submitted": len(submitted), "succeeded": succeeded}),
		Success:    succeeded == len(submitted),
	})
}

// fail marks every slot sharing a pending item.
func (s *Service) fail(out []AnalyzeOutcome, it *pendingItem, err error) {
	for _, i := range it.positions {
		out[i].Err = err
	}
}

// buildPayload assembles the stored analysis envelope. model_used is opaque
// passthrough of whatever the backend reports.
func (s *Service) buildPayload(text string, rec *mediastore.MediaRecord, pos, total int) map[string]any {
	meta := map[string]any{
		"file_size_mb": math.Round(float64(rec.FileSize)/(1024*1024)*100) / 100,
		"content_type": rec.ContentType,
	}
	if rec.DurationSeconds != nil {
		meta["duration_seconds"] = *rec.DurationSeconds
	}
	payload := map[string]any{
		"raw_analysis":       text,
		"model_used":         s.analyzer.Model(),
		"analysis_timestamp": time.Now().UTC().Format(time.RFC3339),
		"media_metadata":     meta,
	}
	if total > 1 {
		payload["batch_analysis"] = true
		payload["batch_position"] = pos + 1
		payload["total_batch_size"] = total
	}
	return payload
}

// writeBack persists the payload under the record's key lock so it never
// races an eviction of the same record.
func (s *Service) writeBack(ctx context.Context, url string, payload map[string]any) error {
	unlock := s.keys.lock(blobstore.HashURL(url))
	defer unlock()
	if err := s.index.UpdateAnalysis(ctx, url, payload); err != nil {
		return fmt.Errorf("mediacache: cache analysis: %w", err)
	}
	return nil
}
