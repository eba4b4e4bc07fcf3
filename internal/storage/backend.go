// Package storage defines the interface and implementations for artcurate's
// image blob storage layer.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/uid"
)

// Tag classifies a blob as an ingested original or a pipeline output.
type Tag string

const (
	TagOriginal    Tag = "original"
	TagTransformed Tag = "transformed"
)

// Tags lists every blob tag, in listing order.
var Tags = []Tag{TagOriginal, TagTransformed}

// Valid reports whether t is a known tag.
func (t Tag) Valid() bool {
	return t == TagOriginal || t == TagTransformed
}

// BlobInfo describes one stored blob as returned by List.
type BlobInfo struct {
	ID       string
	Tag      Tag
	Filename string
	Size     int64
	Created  time.Time
}

// BlobStore defines the interface for storing image bytes. Implementations
// provide the underlying storage mechanism (local filesystem, GridFS, cloud
// provider, etc.). All methods must be safe for concurrent use.
//
// Blob IDs have the form "<tag>/<name>" and are opaque to callers.
type BlobStore interface {
	io.Closer

	// Put stores data under a new blob ID and returns it. filename is kept
	// as descriptive metadata where the backend supports it.
	Put(ctx context.Context, data []byte, tag Tag, filename string) (string, error)

	// Get returns the bytes of a blob. The error wraps ErrNotFound if the
	// blob does not exist or the ID is malformed.
	Get(ctx context.Context, blobID string) ([]byte, error)

	// Delete removes a blob. Deleting a missing blob or a malformed ID is
	// not an error.
	Delete(ctx context.Context, blobID string) error

	// List returns every blob carrying tag.
	List(ctx context.Context, tag Tag) ([]BlobInfo, error)

	// HealthCheck verifies that the storage backend is operational.
	HealthCheck(ctx context.Context) error
}

// newBlobName returns a fresh blob name for backends that name blobs
// themselves.
func newBlobName() string {
	return uid.New()
}

// blobID joins a tag and a backend-local name.
func blobID(tag Tag, name string) string {
	return string(tag) + "/" + name
}

// splitBlobID parses "<tag>/<name>". The name must be non-empty and must not
// contain path separators or "..".
func splitBlobID(id string) (Tag, string, error) {
	tag, name, ok := strings.Cut(id, "/")
	if !ok || !Tag(tag).Valid() || name == "" ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", "", fmt.Errorf("blob id %q: %w", id, curerr.ErrInvalidBlobID)
	}
	return Tag(tag), name, nil
}

// notFound builds the error returned by Get for a missing or malformed blob.
func notFound(id string) error {
	return fmt.Errorf("blob %s: %w", id, curerr.ErrNotFound)
}

func checkTag(tag Tag) error {
	if !tag.Valid() {
		return fmt.Errorf("unknown blob tag %q", tag)
	}
	return nil
}
