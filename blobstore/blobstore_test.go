package blobstore

import (
	"bytes"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestHashURLDeterministic(t *testing.T) {
	// WHAT: The same URL always hashes to the same key.
	// WHY: The hash is the dedup key; any instability breaks cache hits
	// across process restarts.
	const url = "https://cdn.example.com/ad/123.jpg"
	a := HashURL(url)
	b := HashURL(url)
	if a != b {
		t.Fatalf("hash not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
	if a == HashURL(url+"?x=1") {
		t.Fatal("distinct URLs must not collide on trivially different input")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	hash := HashURL("https://cdn.example.com/a.jpg")
	data := []byte("jpeg-bytes")

	ref, err := s.Put(hash, data, "image/jpeg")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestPutSameHashOverwrites(t *testing.T) {
	// WHAT: A second Put for the same hash overwrites in place.
	// WHY: At most one physical blob may exist per URL hash.
	s := newTestStore(t)
	hash := HashURL("https://cdn.example.com/a.jpg")

	ref1, err := s.Put(hash, []byte("v1"), "image/jpeg")
	if err != nil {
		t.Fatalf("put v1: %v", err)
	}
	ref2, err := s.Put(hash, []byte("v2"), "image/jpeg")
	if err != nil {
		t.Fatalf("put v2: %v", err)
	}
	if ref1 != ref2 {
		t.Fatalf("refs differ for same hash: %s vs %s", ref1, ref2)
	}
	got, err := s.Get(ref2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("got %q, want v2", got)
	}
}

func TestPutContentTypeChangeLeavesOneBlob(t *testing.T) {
	// WHAT: Re-caching with a different content type removes the old file.
	// WHY: The extension is cosmetic; identity is the hash alone.
	s := newTestStore(t)
	hash := HashURL("https://cdn.example.com/a")

	ref1, err := s.Put(hash, []byte("png"), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := s.Put(hash, []byte("webp"), "image/webp")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ref2); err != nil {
		t.Fatalf("new ref: %v", err)
	}
	if _, err := s.Get(ref1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old ref should be gone, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(Ref("ab/absent.jpg")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	hash := HashURL("https://cdn.example.com/v.mp4")
	ref, err := s.Put(hash, []byte("video"), "video/mp4")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ref); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.Delete(ref); err != nil {
		t.Fatalf("second delete should succeed: %v", err)
	}
	if _, err := s.Get(ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("blob should be gone, got %v", err)
	}
}

func TestRefTraversalRejected(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(Ref("../../etc/passwd")); err == nil {
		t.Fatal("traversal ref must be rejected")
	}
	if err := s.Delete(Ref("../../etc/passwd")); err == nil {
		t.Fatal("traversal delete must be rejected")
	}
}

func TestSize(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Put(HashURL("u1"), make([]byte, 100), "image/png"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(HashURL("u2"), make([]byte, 50), "video/mp4"); err != nil {
		t.Fatal(err)
	}
	size, err := s.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != 150 {
		t.Fatalf("size = %d, want 150", size)
	}
}

func TestPutRejectsShortHash(t *testing.T) {
	// The sharding prefix needs two characters; anything shorter must
	// error instead of panicking.
	s := newTestStore(t)
	for _, hash := range []string{"", "a"} {
		if _, err := s.Put(hash, []byte("x"), "image/jpeg"); err == nil {
			t.Errorf("Put(%q) succeeded, want error", hash)
		}
	}
}
