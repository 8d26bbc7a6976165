package mcptools

import (
	"context"
	"fmt"
	"math"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adscope/adscope/kit"
	"github.com/adscope/adscope/mediastore"
)

// --- get_cache_stats ---

type cacheStatsReq struct{}

func (t *Tools) registerCacheStats(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "get_cache_stats",
		Description: "Report aggregate cache state: file and brand counts, total size " +
			"and how many entries already carry an analysis payload.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		stats, err := t.cache.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("collecting cache stats: %w", err)
		}
		return map[string]any{
			"success":       true,
			"stats":         stats,
			"total_size_mb": math.Round(float64(stats.TotalSizeBytes)/(1024*1024)*100) / 100,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(endpoint), decodeInto[cacheStatsReq])
}

// --- search_cached_media ---

type searchCachedReq struct {
	BrandName     string `json:"brand_name"`
	MediaType     string `json:"media_type"`
	HasPeople     *bool  `json:"has_people"`
	ColorContains string `json:"color_contains"`
	Limit         int    `json:"limit"`
}

func (t *Tools) registerSearchCachedMedia(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "search_cached_media",
		Description: "Search previously analyzed media by brand, media type, presence of " +
			"people or dominant color. Returns index records with analysis payloads; " +
			"embedded media data is replaced by a placeholder.",
		InputSchema: inputSchema(map[string]any{
			"brand_name": map[string]any{
				"type":        "string",
				"description": "Exact match on the stored brand name",
			},
			"media_type": map[string]any{
				"type":        "string",
				"enum":        []string{"image", "video"},
				"description": "Restrict results to one media type",
			},
			"has_people": map[string]any{
				"type":        "boolean",
				"description": "Only media whose analysis did (or did not) detect people",
			},
			"color_contains": map[string]any{
				"type":        "string",
				"description": "Substring match on detected dominant colors",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum results to return (default 20)",
			},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchCachedReq)
		if r.MediaType != "" && r.MediaType != mediastore.MediaImage && r.MediaType != mediastore.MediaVideo {
			return nil, fmt.Errorf("media_type must be %q or %q", mediastore.MediaImage, mediastore.MediaVideo)
		}
		recs, err := t.cache.Search(ctx, mediastore.SearchFilters{
			BrandName:     r.BrandName,
			MediaType:     r.MediaType,
			HasPeople:     r.HasPeople,
			ColorContains: r.ColorContains,
			Limit:         r.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("searching cached media: %w", err)
		}
		return map[string]any{
			"success": true,
			"message": fmt.Sprintf("Found %d cached media record(s).", len(recs)),
			"results": recs,
			"count":   len(recs),
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(endpoint), decodeInto[searchCachedReq])
}

// --- cleanup_media_cache ---

type cleanupCacheReq struct {
	MaxAgeDays int `json:"max_age_days"`
}

func (t *Tools) registerCleanupCache(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "cleanup_media_cache",
		Description: "Evict cached media files older than the given age, removing both the " +
			"stored bytes and their index rows. Analysis payloads go with them.",
		InputSchema: inputSchema(map[string]any{
			"max_age_days": map[string]any{
				"type":        "integer",
				"description": "Evict entries downloaded more than this many days ago (default 30)",
			},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*cleanupCacheReq)
		days := r.MaxAgeDays
		if days == 0 {
			days = 30
		}
		report, err := t.cache.Cleanup(ctx, days)
		if err != nil {
			return nil, err
		}
		stats, err := t.cache.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("collecting post-cleanup stats: %w", err)
		}
		return map[string]any{
			"success": true,
			"message": fmt.Sprintf("Removed %d file(s) older than %d day(s), freeing %.2f MB.",
				report.FilesRemoved, days, float64(report.BytesFreed)/(1024*1024)),
			"report":      report,
			"cache_stats": stats,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(endpoint), decodeInto[cleanupCacheReq])
}
