package mediastore

import (
	"context"
	"fmt"
)

// Search returns cached records matching the given filters, most recent
// first. HasPeople and ColorContains look inside the analysis payload
// ($.has_people boolean, $.dominant_colors array of strings); the index does
// not interpret their meaning, it only matches the sub-documents. Records
// without analysis never match either predicate.
func (s *Store) Search(ctx context.Context, f SearchFilters) ([]*MediaRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + recordColumns + ` FROM media_cache WHERE 1=1`
	var args []any

	if f.BrandName != "" {
		query += ` AND brand_name = ?`
		args = append(args, f.BrandName)
	}
	if f.MediaType != "" {
		query += ` AND media_type = ?`
		args = append(args, f.MediaType)
	}
	if f.HasPeople != nil {
		query += ` AND analysis_json IS NOT NULL
			AND json_extract(analysis_json, '$.has_people') = ?`
		if *f.HasPeople {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if f.ColorContains != "" {
		query += ` AND analysis_json IS NOT NULL
			AND json_type(analysis_json, '$.dominant_colors') = 'array'
			AND EXISTS (
				SELECT 1 FROM json_each(media_cache.analysis_json, '$.dominant_colors')
				WHERE lower(json_each.value) LIKE '%' || lower(?) || '%'
			)`
		args = append(args, f.ColorContains)
	}

	query += ` ORDER BY downloaded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("mediastore: search: %w", err)
	}
	defer rows.Close()

	var out []*MediaRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
