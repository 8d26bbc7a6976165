// Package mediastore is the metadata index for cached ad media.
//
// One row exists per distinct source URL, keyed by the URL hash. The blob
// bytes live in the blobstore; this package records where they are, where
// they came from, and the analysis payload once the vision backend has seen
// them.
package mediastore

import "database/sql"

// Store wraps the cache database for media metadata operations.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// ApplySchema creates the media_cache table and its indexes.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
