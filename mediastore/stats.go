package mediastore

import (
	"context"
	"fmt"
)

// Stats computes aggregate counters in one query, reflecting the index at
// the instant of the call.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	var st CacheStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN media_type = 'image' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN media_type = 'video' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(file_size), 0),
			COALESCE(SUM(CASE WHEN analysis_json IS NOT NULL THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT CASE WHEN brand_name <> '' THEN brand_name END)
		FROM media_cache`,
	).Scan(&st.TotalFiles, &st.TotalImages, &st.TotalVideos,
		&st.TotalSizeBytes, &st.AnalyzedFiles, &st.UniqueBrands)
	if err != nil {
		return nil, fmt.Errorf("mediastore: stats: %w", err)
	}
	return &st, nil
}
