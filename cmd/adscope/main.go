package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/adscope/adscope/adlib"
	"github.com/adscope/adscope/blobstore"
	"github.com/adscope/adscope/dbopen"
	"github.com/adscope/adscope/fetch"
	"github.com/adscope/adscope/idgen"
	"github.com/adscope/adscope/mcptools"
	"github.com/adscope/adscope/mediacache"
	"github.com/adscope/adscope/mediastore"
	"github.com/adscope/adscope/observability"
	"github.com/adscope/adscope/vision"
)

const workerName = "adscope"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := "adscope.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging. Stdout carries the MCP session, so logs go to stderr.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Observability DB, separate from the cache index to avoid write contention.
	obsDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "observability.db"), dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability schema", "error", err)
		os.Exit(1)
	}

	auditLogger := observability.NewAuditLogger(obsDB, 1000)
	defer auditLogger.Close()
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	defer metrics.Close()
	events := observability.NewEventLogger(obsDB,
		observability.WithEventIDGenerator(idgen.Prefixed("evt_", idgen.Default)),
	)

	heartbeat := observability.NewHeartbeatWriter(obsDB, workerName, 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	go retentionLoop(ctx, obsDB, cfg.Retention)

	// Cache index.
	indexDB, err := dbopen.Open(filepath.Join(cfg.DataDir, "media_cache.db"), dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("cache db", "error", err)
		os.Exit(1)
	}
	defer indexDB.Close()
	if err := mediastore.ApplySchema(indexDB); err != nil {
		slog.Error("cache schema", "error", err)
		os.Exit(1)
	}
	index := mediastore.NewStore(indexDB)

	blobs, err := blobstore.New(filepath.Join(cfg.DataDir, "media_cache"))
	if err != nil {
		slog.Error("blob store", "error", err)
		os.Exit(1)
	}

	fetcher := fetch.New(fetch.Config{
		ImageTimeout:  cfg.ImageTimeout(),
		VideoTimeout:  cfg.VideoTimeout(),
		MaxBytes:      cfg.MaxFileBytes(),
		MaxConcurrent: cfg.Cache.MaxConcurrent,
	})

	if cfg.Gemini.APIKey == "" {
		slog.Warn("GEMINI_API_KEY not set, analysis tools will report unavailable")
	}
	analyzer := vision.New(vision.Config{
		Endpoint: cfg.Gemini.Endpoint,
		APIKey:   cfg.Gemini.APIKey,
		Model:    cfg.Gemini.Model,
		Logger:   logger,
	})

	if cfg.ScrapeCreators.APIKey == "" {
		slog.Warn("SCRAPECREATORS_API_KEY not set, ad library tools will fail")
	}
	ads := adlib.New(adlib.Config{
		APIKey:  cfg.ScrapeCreators.APIKey,
		BaseURL: cfg.ScrapeCreators.BaseURL,
		Logger:  logger,
	})

	cache, err := mediacache.New(mediacache.Config{
		Blobs:         blobs,
		Index:         index,
		Fetcher:       fetcher,
		Analyzer:      analyzer,
		Events:        events,
		Metrics:       metrics,
		MaxConcurrent: cfg.Cache.MaxConcurrent,
		ServiceName:   workerName,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("media cache", "error", err)
		os.Exit(1)
	}

	if cfg.Cache.MaxAgeDays > 0 {
		go evictionLoop(ctx, cache, cfg.Cache.MaxAgeDays)
	}

	tools, err := mcptools.New(mcptools.Config{
		Cache:  cache,
		Ads:    ads,
		Audit:  auditLogger,
		Logger: logger,
	})
	if err != nil {
		slog.Error("mcp tools", "error", err)
		os.Exit(1)
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "adscope",
		Version: "1.0.0",
	}, nil)
	tools.RegisterAll(mcpSrv)

	// Optional HTTP sidecar for liveness and cache introspection.
	if cfg.Listen != "" {
		go runSidecar(ctx, cfg.Listen, cache, obsDB)
	}

	slog.Info("mcp server starting", "transport", "stdio", "model", analyzer.Model())
	if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		slog.Error("mcp server", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// retentionLoop prunes observability tables once a day.
func retentionLoop(ctx context.Context, db *sql.DB, cfg RetentionConfig) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := observability.Cleanup(ctx, db, observability.RetentionConfig{
				EventLogsDays:  cfg.EventLogsDays,
				HeartbeatsDays: cfg.HeartbeatsDays,
				MetricsDays:    cfg.MetricsDays,
				AuditDays:      cfg.AuditDays,
			})
			if err != nil {
				slog.Warn("observability retention", "error", err)
			}
		}
	}
}

// evictionLoop sweeps stale cache entries once a day.
func evictionLoop(ctx context.Context, cache *mediacache.Service, maxAgeDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := cache.Cleanup(ctx, maxAgeDays)
			if err != nil {
				slog.Warn("cache eviction sweep", "error", err)
				continue
			}
			if report.FilesRemoved > 0 {
				slog.Info("cache eviction sweep",
					"files_removed", report.FilesRemoved,
					"bytes_freed", report.BytesFreed)
			}
		}
	}
}

func runSidecar(ctx context.Context, listen string, cache *mediacache.Service, obsDB *sql.DB) {
	// Staleness threshold = 3x heartbeat interval.
	const stalenessThreshold = 45 * time.Second

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		resp := map[string]any{"status": "ok"}
		if stats, err := cache.Stats(req.Context()); err == nil {
			resp["cache"] = stats
		}
		hb, err := observability.LatestHeartbeat(req.Context(), obsDB, workerName, stalenessThreshold)
		if err == nil && hb != nil {
			resp["heartbeat"] = hb
			if !hb.Alive {
				resp["status"] = "degraded"
			}
		}
		writeJSON(w, 200, resp)
	})
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		stats, err := cache.Stats(req.Context())
		if err != nil {
			writeJSON(w, 500, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, 200, stats)
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("sidecar starting", "addr", listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("sidecar", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
