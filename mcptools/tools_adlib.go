package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adscope/adscope/adlib"
	"github.com/adscope/adscope/kit"
)

// --- search_ad_library_brands ---

type searchBrandsReq struct {
	BrandNames stringList `json:"brand_names"`
}

func (t *Tools) registerSearchBrands(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "search_ad_library_brands",
		Description: "Search the ad library for brands by name and return their platform page " +
			"IDs. Use the returned page IDs with get_brand_ads. Accepts a single name or a list.",
		InputSchema: inputSchema(map[string]any{
			"brand_names": map[string]any{
				"description": "Brand name, or list of brand names, to search for",
			},
		}, []string{"brand_names"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*searchBrandsReq)
		if len(r.BrandNames) == 0 {
			return nil, fmt.Errorf("at least one brand name is required")
		}
		for _, b := range r.BrandNames {
			if b == "" {
				return nil, fmt.Errorf("brand names must not be empty")
			}
		}

		results, err := t.ads.SearchCompaniesBatch(ctx, r.BrandNames)
		if err != nil {
			return nil, err
		}
		found := 0
		for _, options := range results {
			found += len(options)
		}
		return map[string]any{
			"success": true,
			"message": fmt.Sprintf("Found %d platform page(s) across %d brand(s).", found, len(results)),
			"results": results,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(endpoint), decodeInto[searchBrandsReq])
}

// --- get_brand_ads ---

type getBrandAdsReq struct {
	PageIDs stringList `json:"page_ids"`
	Limit   int        `json:"limit"`
	Country string     `json:"country"`
	Trim    *bool      `json:"trim"`
}

func (t *Tools) registerGetBrandAds(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "get_brand_ads",
		Description: "Retrieve currently running ads for brand page IDs from the ad library, " +
			"including media URLs, ad copy and run dates. Feed the media URLs to the analyze " +
			"tools for visual analysis.",
		InputSchema: inputSchema(map[string]any{
			"page_ids": map[string]any{
				"description": "Platform page ID, or list of IDs, from search_ad_library_brands",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum ads per page ID (default 50)",
			},
			"country": map[string]any{
				"type":        "string",
				"description": "Optional two-letter country filter, e.g. US",
			},
			"trim": map[string]any{
				"type":        "boolean",
				"description": "Return essential fields only (default true)",
			},
		}, []string{"page_ids"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*getBrandAdsReq)
		if len(r.PageIDs) == 0 {
			return nil, fmt.Errorf("at least one page ID is required")
		}
		trim := true
		if r.Trim != nil {
			trim = *r.Trim
		}

		results, err := t.ads.GetAdsBatch(ctx, r.PageIDs, adlib.AdsOptions{
			Limit:   r.Limit,
			Country: r.Country,
			Trim:    trim,
		})
		if err != nil {
			return nil, err
		}
		total := 0
		for _, ads := range results {
			total += len(ads)
		}
		return map[string]any{
			"success": true,
			"message": fmt.Sprintf("Retrieved %d ad(s) across %d page(s).", total, len(results)),
			"results": results,
			"count":   total,
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, t.wrap(endpoint), decodeInto[getBrandAdsReq])
}

// decodeInto is the shared decode func for tools whose request is a plain
// JSON object.
func decodeInto[T any](req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var r T
	if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{Request: &r}, nil
}
