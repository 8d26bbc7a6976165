// Package mcptools is the MCP tool surface of the media cache: brand
// discovery, ad listing, creative analysis and cache maintenance, exposed
// as eight tools on a stdio MCP server.
//
// Handlers validate input, call the mediacache facade or the ad library
// client, and shape responses; no caching or analysis logic lives here.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adscope/adscope/adlib"
	"github.com/adscope/adscope/idgen"
	"github.com/adscope/adscope/kit"
	"github.com/adscope/adscope/mediacache"
	"github.com/adscope/adscope/observability"
)

// AdLister is the ad library surface the tools need.
type AdLister interface {
	SearchCompaniesBatch(ctx context.Context, brands []string) (map[string]map[string]string, error)
	GetAdsBatch(ctx context.Context, pageIDs []string, opt adlib.AdsOptions) (map[string][]adlib.Ad, error)
}

// Config wires the tool surface.
type Config struct {
	Cache *mediacache.Service
	Ads   AdLister

	// Audit is optional; nil disables the tool-call audit trail.
	Audit *observability.AuditLogger

	Logger *slog.Logger
}

// Tools registers and serves the MCP tool set.
type Tools struct {
	cache  *mediacache.Service
	ads    AdLister
	audit  *observability.AuditLogger
	logger *slog.Logger
	newID  idgen.Generator
	wrap   kit.Middleware
}

// New validates the wiring and builds the tool set.
func New(cfg Config) (*Tools, error) {
	if cfg.Cache == nil || cfg.Ads == nil {
		return nil, fmt.Errorf("mcptools: cache and ads client are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &Tools{
		cache:  cfg.Cache,
		ads:    cfg.Ads,
		audit:  cfg.Audit,
		logger: cfg.Logger,
		newID:  idgen.Prefixed("req_", idgen.Default),
	}
	t.wrap = kit.Chain(t.requestIDMiddleware(), t.auditMiddleware())
	return t, nil
}

// RegisterAll adds every tool to the MCP server.
func (t *Tools) RegisterAll(srv *mcp.Server) {
	t.registerSearchBrands(srv)
	t.registerGetBrandAds(srv)
	t.registerAnalyzeImage(srv)
	t.registerAnalyzeVideo(srv)
	t.registerAnalyzeVideosBatch(srv)
	t.registerCacheStats(srv)
	t.registerSearchCachedMedia(srv)
	t.registerCleanupCache(srv)
}

// requestIDMiddleware tags every call with a fresh request ID.
func (t *Tools) requestIDMiddleware() kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if kit.GetRequestID(ctx) == "" {
				ctx = kit.WithRequestID(ctx, t.newID())
			}
			return next(ctx, req)
		}
	}
}

// auditMiddleware records every tool call, parameters and outcome in the
// audit trail.
func (t *Tools) auditMiddleware() kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if t.audit == nil {
				return next(ctx, req)
			}
			started := time.Now()
			resp, err := next(ctx, req)
			entry := t.audit.NewAuditEntry("mcptools", kit.GetToolName(ctx), req, err, time.Since(started))
			entry.RequestID = kit.GetRequestID(ctx)
			t.audit.LogAsync(entry)
			return resp, err
		}
	}
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// stringList accepts either a JSON string or an array of strings, because
// callers habitually pass a bare string where one item is meant.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or array of strings")
	}
	*s = stringList(many)
	return nil
}
