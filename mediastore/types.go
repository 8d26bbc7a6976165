package mediastore

// Media types accepted by the cache.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// MediaRecord is one cached media file: where the bytes came from, where
// they live, and the analysis payload once computed. Timestamps are unix
// milliseconds.
type MediaRecord struct {
	URLHash          string         `json:"url_hash"`
	URL              string         `json:"url"`
	MediaType        string         `json:"media_type"`
	ContentType      string         `json:"content_type"`
	BlobRef          string         `json:"blob_ref"`
	FileSize         int64          `json:"file_size"`
	BrandName        string         `json:"brand_name,omitempty"`
	AdID             string         `json:"ad_id,omitempty"`
	DownloadedAt     int64          `json:"downloaded_at"`
	Analysis         map[string]any `json:"analysis_results,omitempty"`
	AnalysisCachedAt *int64         `json:"analysis_cached_at,omitempty"`
	DurationSeconds  *float64       `json:"duration_seconds,omitempty"`
}

// Analyzed reports whether an analysis payload has been stored for this
// record.
func (r *MediaRecord) Analyzed() bool {
	return r != nil && r.Analysis != nil
}

// SearchFilters narrows a cached-media search. Zero values mean "no filter".
// HasPeople and ColorContains are evaluated against fields inside the
// analysis payload; records without analysis never match them.
type SearchFilters struct {
	BrandName     string `json:"brand_name,omitempty"`
	MediaType     string `json:"media_type,omitempty"`
	HasPeople     *bool  `json:"has_people,omitempty"`
	ColorContains string `json:"color_contains,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// CacheStats holds aggregate counters over the whole index, computed at the
// instant of the call.
type CacheStats struct {
	TotalFiles     int   `json:"total_files"`
	TotalImages    int   `json:"total_images"`
	TotalVideos    int   `json:"total_videos"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
	AnalyzedFiles  int   `json:"analyzed_files"`
	UniqueBrands   int   `json:"unique_brands"`
}
