package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestBackend(t *testing.T) *LocalBackend {
	t.Helper()
	rootDir := t.TempDir()
	backend, err := NewLocalBackend(rootDir)
	if err != nil {
		t.Fatalf("NewLocalBackend failed: %v", err)
	}
	return backend
}

func TestLocalBlobStoreConformance(t *testing.T) {
	runBlobStoreSuite(t, func(t *testing.T) BlobStore {
		return newTestBackend(t)
	})
}

func TestLocalPutAtomicWrite(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	id, err := backend.Put(ctx, []byte("atomic write test"), TagOriginal, "436535.jpg")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Check the .tmp directory is clean.
	tmpDir := filepath.Join(backend.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir .tmp failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf(".tmp directory should be empty after Put, has %d entries", len(entries))
	}

	// The blob lives under the tag directory with the filename as suffix.
	_, name, _ := splitBlobID(id)
	if !strings.HasSuffix(name, "-436535.jpg") {
		t.Errorf("blob name %q should end with -436535.jpg", name)
	}
	if _, err := os.Stat(filepath.Join(backend.RootDir, "original", name)); err != nil {
		t.Errorf("blob file missing: %v", err)
	}
}

func TestLocalListKeepsFilename(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	if _, err := backend.Put(ctx, []byte("x"), TagTransformed, "9_transformed.jpg"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	blobs, err := backend.List(ctx, TagTransformed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(blobs) != 1 || blobs[0].Filename != "9_transformed.jpg" {
		t.Errorf("List = %+v, want one blob with filename 9_transformed.jpg", blobs)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"a.jpg":            "a.jpg",
		"../../etc/passwd": "passwd",
		"dir/b.png":        "b.png",
		"":                 "",
		"..":               "",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanTempFiles(t *testing.T) {
	backend := newTestBackend(t)

	// Create some fake temp files in .tmp.
	tmpDir := filepath.Join(backend.RootDir, ".tmp")
	for _, name := range []string{"tmp-abc123", "tmp-def456"} {
		path := filepath.Join(tmpDir, name)
		if err := os.WriteFile(path, []byte("orphan"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	entries, _ := os.ReadDir(tmpDir)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 temp files, got %d", len(entries))
	}

	if err := backend.CleanTempFiles(); err != nil {
		t.Fatalf("CleanTempFiles failed: %v", err)
	}

	entries, _ = os.ReadDir(tmpDir)
	if len(entries) != 0 {
		t.Errorf("Expected 0 temp files after cleanup, got %d", len(entries))
	}
}
