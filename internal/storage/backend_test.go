package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	curerr "github.com/artcurate/artcurate/internal/errors"
)

// runBlobStoreSuite exercises the BlobStore contract against a fresh store
// produced by newStore for each subtest.
func runBlobStoreSuite(t *testing.T, newStore func(t *testing.T) BlobStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Put(ctx, []byte("image bytes"), TagOriginal, "starry.jpg")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		tag, _, err := splitBlobID(id)
		if err != nil {
			t.Fatalf("Put returned malformed id %q: %v", id, err)
		}
		if tag != TagOriginal {
			t.Errorf("tag = %q, want original", tag)
		}

		got, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, []byte("image bytes")) {
			t.Errorf("Get = %q, want %q", got, "image bytes")
		}
	})

	t.Run("DistinctIDs", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Put(ctx, []byte("same"), TagOriginal, "a.jpg")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		b, err := s.Put(ctx, []byte("same"), TagOriginal, "a.jpg")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if a == b {
			t.Errorf("two Puts returned the same id %q", a)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "original/0123456789abcdef0123456789abcdef")
		if !errors.Is(err, curerr.ErrNotFound) {
			t.Errorf("Get missing: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("GetMalformed", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"", "nope", "bogus/abc", "original/", "original/../x"} {
			if _, err := s.Get(ctx, id); !errors.Is(err, curerr.ErrNotFound) {
				t.Errorf("Get(%q): err = %v, want ErrNotFound", id, err)
			}
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Put(ctx, []byte("x"), TagTransformed, "1_transformed.jpg")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Delete(ctx, id); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, id); err != nil {
			t.Fatalf("second Delete: %v", err)
		}
		if err := s.Delete(ctx, "garbage"); err != nil {
			t.Fatalf("Delete malformed: %v", err)
		}
		if _, err := s.Get(ctx, id); !errors.Is(err, curerr.ErrNotFound) {
			t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByTag", func(t *testing.T) {
		s := newStore(t)
		orig, err := s.Put(ctx, []byte("aa"), TagOriginal, "a.jpg")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		trans, err := s.Put(ctx, []byte("bbb"), TagTransformed, "a_transformed.jpg")
		if err != nil {
			t.Fatalf("Put: %v", err)
		}

		blobs, err := s.List(ctx, TagOriginal)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(blobs) != 1 || blobs[0].ID != orig || blobs[0].Size != 2 {
			t.Errorf("List(original) = %+v, want one blob %q of size 2", blobs, orig)
		}

		blobs, err = s.List(ctx, TagTransformed)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(blobs) != 1 || blobs[0].ID != trans || blobs[0].Tag != TagTransformed {
			t.Errorf("List(transformed) = %+v, want one blob %q", blobs, trans)
		}
	})

	t.Run("UnknownTag", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Put(ctx, []byte("x"), Tag("thumbnail"), "x.jpg"); err == nil {
			t.Error("Put with unknown tag: expected error")
		}
		if _, err := s.List(ctx, Tag("thumbnail")); err == nil {
			t.Error("List with unknown tag: expected error")
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		s := newStore(t)
		if err := s.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})
}

func TestSplitBlobID(t *testing.T) {
	tests := []struct {
		id      string
		tag     Tag
		name    string
		wantErr bool
	}{
		{"original/abc", TagOriginal, "abc", false},
		{"transformed/abc-x.jpg", TagTransformed, "abc-x.jpg", false},
		{"original", "", "", true},
		{"thumb/abc", "", "", true},
		{"original/", "", "", true},
		{"original/a/b", "", "", true},
		{`original/a\b`, "", "", true},
		{"original/..", "", "", true},
	}
	for _, tt := range tests {
		tag, name, err := splitBlobID(tt.id)
		if (err != nil) != tt.wantErr {
			t.Errorf("splitBlobID(%q) err = %v, wantErr %v", tt.id, err, tt.wantErr)
			continue
		}
		if err != nil {
			if !errors.Is(err, curerr.ErrInvalidBlobID) {
				t.Errorf("splitBlobID(%q) err = %v, want ErrInvalidBlobID", tt.id, err)
			}
			continue
		}
		if tag != tt.tag || name != tt.name {
			t.Errorf("splitBlobID(%q) = (%q, %q), want (%q, %q)", tt.id, tag, name, tt.tag, tt.name)
		}
	}
}

func TestMemoryBlobStoreConformance(t *testing.T) {
	runBlobStoreSuite(t, func(t *testing.T) BlobStore {
		b, err := NewMemoryBackend(0, "none", "", 0)
		if err != nil {
			t.Fatalf("NewMemoryBackend: %v", err)
		}
		t.Cleanup(func() { b.Close() })
		return b
	})
}

func TestSQLiteBlobStoreConformance(t *testing.T) {
	runBlobStoreSuite(t, func(t *testing.T) BlobStore {
		b, err := NewSQLiteBackend(t.TempDir() + "/blobs.db")
		if err != nil {
			t.Fatalf("NewSQLiteBackend: %v", err)
		}
		t.Cleanup(func() { b.Close() })
		return b
	})
}
