// Package blobstore persists downloaded ad media on the local filesystem,
// content-addressed by the hash of the source URL.
//
// The path for a blob is derived solely from its URL hash, so re-caching the
// same URL always resolves to the same physical location: a second Put is an
// overwrite, never a second allocation. Writes go through a temp file and
// rename, so a partially written blob is never visible under its final path.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adscope/adscope/guard"
)

// ErrNotFound is returned by Get and Path when no blob exists for the ref.
var ErrNotFound = errors.New("blobstore: blob not found")

// Ref locates a stored blob. It is a path relative to the store root and is
// owned exclusively by the store; callers treat it as opaque.
type Ref string

// Store is a filesystem blob store rooted at a single directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a Store.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("blobstore: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir root: %w", err)
	}
	return &Store{root: root}, nil
}

// HashURL returns the deterministic storage key for a source URL: the hex
// SHA-256 of the exact URL string. Pure, no randomness, no time component.
func HashURL(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

// Put stores data under urlHash, overwriting any previous blob for the same
// hash. The extension is derived from contentType for operator convenience;
// the hash alone determines identity.
func (s *Store) Put(urlHash string, data []byte, contentType string) (Ref, error) {
	if len(urlHash) < 2 {
		return "", fmt.Errorf("blobstore: url hash %q too short", urlHash)
	}
	rel := filepath.Join(urlHash[:2], urlHash+extFor(contentType))
	abs, err := guard.SafePath(s.root, rel)
	if err != nil {
		return "", fmt.Errorf("blobstore: put %s: %w", urlHash, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir: %w", err)
	}

	// Temp file in the destination directory so the rename stays on one
	// filesystem and is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+urlHash+".tmp*")
	if err != nil {
		return "", fmt.Errorf("blobstore: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("blobstore: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("blobstore: close: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("blobstore: rename: %w", err)
	}

	// A re-cache with a different content type produces a different
	// extension; drop any sibling file for the same hash so exactly one
	// physical blob exists per key.
	s.removeSiblings(urlHash, filepath.Base(abs))

	return Ref(rel), nil
}

// Get returns the stored bytes for ref, or ErrNotFound.
func (s *Store) Get(ref Ref) ([]byte, error) {
	abs, err := s.abs(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", ref, err)
	}
	return data, nil
}

// Path returns the absolute file path for ref, or ErrNotFound when the blob
// does not exist. Used to stream blobs to the analysis backend without
// loading them through the caller.
func (s *Store) Path(ref Ref) (string, error) {
	abs, err := s.abs(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	} else if err != nil {
		return "", fmt.Errorf("blobstore: stat %s: %w", ref, err)
	}
	return abs, nil
}

// Delete removes the blob for ref. Deleting an absent blob is not an error.
func (s *Store) Delete(ref Ref) error {
	abs, err := s.abs(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blobstore: delete %s: %w", ref, err)
	}
	return nil
}

// Size walks the store and returns the total bytes on disk. Used by tests
// and the stats cross-check; the metadata index is authoritative for sizes.
func (s *Store) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("blobstore: size walk: %w", err)
	}
	return total, nil
}

func (s *Store) abs(ref Ref) (string, error) {
	if ref == "" {
		return "", ErrNotFound
	}
	abs, err := guard.SafePath(s.root, string(ref))
	if err != nil {
		return "", fmt.Errorf("blobstore: ref %q: %w", ref, err)
	}
	return abs, nil
}

func (s *Store) removeSiblings(urlHash, keep string) {
	dir := filepath.Join(s.root, urlHash[:2])
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if name != keep && strings.HasPrefix(name, urlHash) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}

func extFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "jpeg"), strings.Contains(ct, "jpg"):
		return ".jpg"
	case strings.Contains(ct, "png"):
		return ".png"
	case strings.Contains(ct, "gif"):
		return ".gif"
	case strings.Contains(ct, "webp"):
		return ".webp"
	case strings.Contains(ct, "mp4"):
		return ".mp4"
	case strings.Contains(ct, "webm"):
		return ".webm"
	case strings.Contains(ct, "quicktime"), strings.Contains(ct, "mov"):
		return ".mov"
	case strings.Contains(ct, "avi"):
		return ".avi"
	default:
		return ".bin"
	}
}
