package mediastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adscope/adscope/dbopen"
)

// ErrNotFound is returned when an operation references a URL that was never
// cached.
var ErrNotFound = errors.New("mediastore: record not found")

const recordColumns = `url_hash, url, media_type, content_type, blob_ref,
	file_size, brand_name, ad_id, downloaded_at, analysis_json,
	analysis_cached_at, duration_seconds`

// Lookup returns the record for a URL, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, url string) (*MediaRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM media_cache WHERE url = ?`, url)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// LookupBatch returns the records for the given URLs in a single query.
// The result map holds an entry only for URLs that are cached; absence from
// the map is a cache miss. Duplicate input URLs are collapsed.
func (s *Store) LookupBatch(ctx context.Context, urls []string) (map[string]*MediaRecord, error) {
	out := make(map[string]*MediaRecord, len(urls))
	if len(urls) == 0 {
		return out, nil
	}

	seen := make(map[string]bool, len(urls))
	args := make([]any, 0, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			args = append(args, u)
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM media_cache WHERE url IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("mediastore: lookup batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[rec.URL] = rec
	}
	return out, rows.Err()
}

// Upsert inserts or replaces the record keyed by url_hash. Re-caching the
// same URL overwrites in place; it never duplicates.
func (s *Store) Upsert(ctx context.Context, rec *MediaRecord) error {
	if rec.URLHash == "" || rec.URL == "" {
		return fmt.Errorf("mediastore: upsert requires url and url_hash")
	}
	if rec.DownloadedAt == 0 {
		rec.DownloadedAt = time.Now().UnixMilli()
	}

	analysisJSON, err := marshalAnalysis(rec.Analysis)
	if err != nil {
		return err
	}

	// Writers contend with the eviction loop; retry through SQLITE_BUSY.
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO media_cache (url_hash, url, media_type, content_type,
			blob_ref, file_size, brand_name, ad_id, downloaded_at,
			analysis_json, analysis_cached_at, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash) DO UPDATE SET
			url = excluded.url,
			media_type = excluded.media_type,
			content_type = excluded.content_type,
			blob_ref = excluded.blob_ref,
			file_size = excluded.file_size,
			brand_name = excluded.brand_name,
			ad_id = excluded.ad_id,
			downloaded_at = excluded.downloaded_at,
			analysis_json = excluded.analysis_json,
			analysis_cached_at = excluded.analysis_cached_at,
			duration_seconds = excluded.duration_seconds`,
			rec.URLHash, rec.URL, rec.MediaType, rec.ContentType,
			rec.BlobRef, rec.FileSize, rec.BrandName, rec.AdID, rec.DownloadedAt,
			analysisJSON, rec.AnalysisCachedAt, rec.DurationSeconds,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("mediastore: upsert %s: %w", rec.URL, err)
	}
	return nil
}

// UpdateAnalysis attaches an analysis payload to an already-cached URL,
// touching only analysis_json and analysis_cached_at. Returns ErrNotFound
// if the URL was never cached.
func (s *Store) UpdateAnalysis(ctx context.Context, url string, payload map[string]any) error {
	analysisJSON, err := marshalAnalysis(payload)
	if err != nil {
		return err
	}
	var n int64
	err = dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE media_cache SET analysis_json = ?, analysis_cached_at = ? WHERE url = ?`,
			analysisJSON, time.Now().UnixMilli(), url)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("mediastore: update analysis %s: %w", url, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOlderThan returns all records downloaded strictly before cutoff
// (unix milliseconds). A record downloaded exactly at the cutoff is not
// included.
func (s *Store) ListOlderThan(ctx context.Context, cutoff int64) ([]*MediaRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM media_cache WHERE downloaded_at < ? ORDER BY downloaded_at ASC`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("mediastore: list older than: %w", err)
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

// DeleteBatch removes the rows for the given URLs and returns how many were
// deleted. URLs that were never cached are ignored.
func (s *Store) DeleteBatch(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(urls)), ",")
	var n int64
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM media_cache WHERE url IN (`+placeholders+`)`, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("mediastore: delete batch: %w", err)
	}
	return int(n), nil
}

func marshalAnalysis(payload map[string]any) (sql.NullString, error) {
	if payload == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("mediastore: marshal analysis: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// scanRecord reads one row using the recordColumns order.
func scanRecord(scan func(...any) error) (*MediaRecord, error) {
	var (
		rec          MediaRecord
		analysisJSON sql.NullString
		analyzedAt   sql.NullInt64
		duration     sql.NullFloat64
	)
	err := scan(&rec.URLHash, &rec.URL, &rec.MediaType, &rec.ContentType,
		&rec.BlobRef, &rec.FileSize, &rec.BrandName, &rec.AdID,
		&rec.DownloadedAt, &analysisJSON, &analyzedAt, &duration)
	if err != nil {
		return nil, err
	}
	if analysisJSON.Valid {
		if err := json.Unmarshal([]byte(analysisJSON.String), &rec.Analysis); err != nil {
			return nil, fmt.Errorf("mediastore: decode analysis for %s: %w", rec.URL, err)
		}
	}
	if analyzedAt.Valid {
		rec.AnalysisCachedAt = &analyzedAt.Int64
	}
	if duration.Valid {
		rec.DurationSeconds = &duration.Float64
	}
	return &rec, nil
}
