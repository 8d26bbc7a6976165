package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adscope/adscope/kit"
	"github.com/adscope/adscope/mediacache"
	"github.com/adscope/adscope/mediastore"
)

// analysisSlot shapes one per-item result in analyze tool responses.
type analysisSlot struct {
	MediaURL string         `json:"media_url"`
	Success  bool           `json:"success"`
	Cached   bool           `json:"cached"`
	Analysis map[string]any `json:"analysis,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func toSlots(outcomes []mediacache.AnalyzeOutcome) ([]analysisSlot, int) {
	slots := make([]analysisSlot, len(outcomes))
	succeeded := 0
	for i, o := range outcomes {
		slots[i] = analysisSlot{MediaURL: o.URL, Cached: o.Cached}
		if o.Err != nil {
			slots[i].Error = o.Err.Error()
			continue
		}
		slots[i].Success = true
		slots[i].Analysis = o.Analysis
		succeeded++
	}
	return slots, succeeded
}

// --- analyze_ad_image ---

type analyzeImageReq struct {
	MediaURLs    stringList `json:"media_urls"`
	BrandName    string     `json:"brand_name"`
	AdID         string     `json:"ad_id"`
	ForceRefresh bool       `json:"force_refresh"`
}

func (t *Tools) registerAnalyzeImage(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "analyze_ad_image",
		Description: "Download, cache and analyze ad images: visual description, text " +
			"transcription, people, brand elements, composition and colors. Accepts a single " +
			"URL or a list; a list is analyzed in one backend call.",
		InputSchema: inputSchema(map[string]any{
			"media_urls": map[string]any{
				"description": "Image URL, or list of image URLs, from get_brand_ads",
			},
			"brand_name": map[string]any{
				"type":        "string",
				"description": "Optional brand name for cache organization",
			},
			"ad_id": map[string]any{
				"type":        "string",
				"description": "Optional ad ID for tracking",
			},
			"force_refresh": map[string]any{
				"type":        "boolean",
				"description": "Re-run analysis even when a cached payload exists",
			},
		}, []string{"media_urls"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*analyzeImageReq)
		if len(r.MediaURLs) == 0 {
			return nil, fmt.Errorf("at least one media URL is required")
		}
		reqs := make([]mediacache.MediaRequest, len(r.MediaURLs))
		for i, u := range r.MediaURLs {
			reqs[i] = mediacache.MediaRequest{
				URL:          u,
				MediaType:    mediastore.MediaImage,
				BrandName:    r.BrandName,
				AdID:         r.AdID,
				ForceRefresh: r.ForceRefresh,
			}
		}
		slots, succeeded := toSlots(t.cache.AnalyzeBatch(ctx, reqs))
		return map[string]any{
			"success":         succeeded == len(slots),
			"message":         fmt.Sprintf("Analyzed %d of %d image(s).", succeeded, len(slots)),
			"results":         slots,
			"total_processed": succeeded,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(endpoint), decodeInto[analyzeImageReq])
}

// --- analyze_ad_video ---

type analyzeVideoReq struct {
	MediaURL     string `json:"media_url"`
	BrandName    string `json:"brand_name"`
	AdID         string `json:"ad_id"`
	ForceRefresh bool   `json:"force_refresh"`
}

func (t *Tools) registerAnalyzeVideo(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "analyze_ad_video",
		Description: "Download, cache and analyze one ad video: scene-by-scene breakdown, " +
			"text elements, brand placements, audio and hook analysis. For several videos " +
			"prefer analyze_ad_videos_batch, which shares one backend call.",
		InputSchema: inputSchema(map[string]any{
			"media_url": map[string]any{
				"type":        "string",
				"description": "Direct URL of the ad video",
			},
			"brand_name": map[string]any{
				"type":        "string",
				"description": "Optional brand name for cache organization",
			},
			"ad_id": map[string]any{
				"type":        "string",
				"description": "Optional ad ID for tracking",
			},
			"force_refresh": map[string]any{
				"type":        "boolean",
				"description": "Re-run analysis even when a cached payload exists",
			},
		}, []string{"media_url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*analyzeVideoReq)
		if r.MediaURL == "" {
			return nil, fmt.Errorf("media_url is required")
		}
		analysis, cached, err := t.cache.Analyze(ctx, mediacache.MediaRequest{
			URL:          r.MediaURL,
			MediaType:    mediastore.MediaVideo,
			BrandName:    r.BrandName,
			AdID:         r.AdID,
			ForceRefresh: r.ForceRefresh,
		})
		if err != nil {
			return nil, err
		}
		status := "Downloaded and analyzed new video"
		if cached {
			status = "Used cached analysis"
		}
		return map[string]any{
			"success":      true,
			"message":      "Video analysis completed successfully.",
			"analysis":     analysis,
			"media_url":    r.MediaURL,
			"cached":       cached,
			"cache_status": status,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(endpoint), decodeInto[analyzeVideoReq])
}

// --- analyze_ad_videos_batch ---

type analyzeVideosBatchReq struct {
	MediaURLs    []string `json:"media_urls"`
	BrandNames   []string `json:"brand_names"`
	AdIDs        []string `json:"ad_ids"`
	ForceRefresh bool     `json:"force_refresh"`
}

func (t *Tools) registerAnalyzeVideosBatch(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "analyze_ad_videos_batch",
		Description: "Download, cache and analyze several ad videos in one backend call, " +
			"sharing prompt tokens. Results come back in input order; one video's failure " +
			"never affects the others.",
		InputSchema: inputSchema(map[string]any{
			"media_urls": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Direct URLs of the ad videos to analyze",
			},
			"brand_names": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional brand names, parallel to media_urls",
			},
			"ad_ids": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional ad IDs, parallel to media_urls",
			},
			"force_refresh": map[string]any{
				"type":        "boolean",
				"description": "Re-run analysis even when cached payloads exist",
			},
		}, []string{"media_urls"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*analyzeVideosBatchReq)
		if len(r.MediaURLs) == 0 {
			return nil, fmt.Errorf("media_urls must be a non-empty list")
		}
		if len(r.BrandNames) > 0 && len(r.BrandNames) != len(r.MediaURLs) {
			return nil, fmt.Errorf("brand_names must match media_urls length (%d vs %d)",
				len(r.BrandNames), len(r.MediaURLs))
		}
		if len(r.AdIDs) > 0 && len(r.AdIDs) != len(r.MediaURLs) {
			return nil, fmt.Errorf("ad_ids must match media_urls length (%d vs %d)",
				len(r.AdIDs), len(r.MediaURLs))
		}

		reqs := make([]mediacache.MediaRequest, len(r.MediaURLs))
		for i, u := range r.MediaURLs {
			mr := mediacache.MediaRequest{
				URL:          u,
				MediaType:    mediastore.MediaVideo,
				ForceRefresh: r.ForceRefresh,
			}
			if len(r.BrandNames) > 0 {
				mr.BrandName = r.BrandNames[i]
			}
			if len(r.AdIDs) > 0 {
				mr.AdID = r.AdIDs[i]
			}
			reqs[i] = mr
		}

		slots, succeeded := toSlots(t.cache.AnalyzeBatch(ctx, reqs))
		cachedCount := 0
		for _, s := range slots {
			if s.Cached {
				cachedCount++
			}
		}
		return map[string]any{
			"success":         succeeded == len(slots),
			"message":         fmt.Sprintf("Analyzed %d of %d video(s), %d from cache.", succeeded, len(slots), cachedCount),
			"results":         slots,
			"total_processed": succeeded,
			"batch_info": map[string]any{
				"batch_size":   len(slots),
				"cached_count": cachedCount,
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(endpoint), decodeInto[analyzeVideosBatchReq])
}
