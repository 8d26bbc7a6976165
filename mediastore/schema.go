package mediastore

// Schema is the metadata index schema. analysis_json is NULL until the
// vision backend has produced a payload for the exact blob referenced by
// blob_ref; its presence is the sole signal that analysis exists.
const Schema = `
CREATE TABLE IF NOT EXISTS media_cache (
    url_hash           TEXT PRIMARY KEY,
    url                TEXT NOT NULL UNIQUE,
    media_type         TEXT NOT NULL,
    content_type       TEXT NOT NULL DEFAULT '',
    blob_ref           TEXT NOT NULL,
    file_size          INTEGER NOT NULL DEFAULT 0,
    brand_name         TEXT NOT NULL DEFAULT '',
    ad_id              TEXT NOT NULL DEFAULT '',
    downloaded_at      INTEGER NOT NULL,
    analysis_json      TEXT,
    analysis_cached_at INTEGER,
    duration_seconds   REAL
);
CREATE INDEX IF NOT EXISTS idx_media_brand ON media_cache(brand_name);
CREATE INDEX IF NOT EXISTS idx_media_downloaded ON media_cache(downloaded_at DESC);
CREATE INDEX IF NOT EXISTS idx_media_type ON media_cache(media_type);
`
