// GCP Cloud Storage gateway backend.
//
// The GCP gateway backend stores blob bytes in an upstream GCS bucket via the
// official Go Cloud Storage client library.
//
// Key mapping:
//
//	Blobs:  {prefix}{tag}/{name}
//
// Credentials are resolved via Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, metadata server).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSAPI defines the subset of the GCS client interface that the gateway
// backend uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object.
	NewWriter(ctx context.Context, bucket, object string, meta map[string]string) GCSWriter
	// NewReader returns a reader for the given GCS object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// ListObjects lists objects with the given prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]GCSAttrs, error)
}

// GCSWriter is a writer interface for writing to GCS objects.
type GCSWriter interface {
	io.WriteCloser
}

// GCSAttrs holds object attributes returned from GCS listings.
type GCSAttrs struct {
	Name     string
	Size     int64
	Created  time.Time
	Metadata map[string]string
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string, meta map[string]string) GCSWriter {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.Metadata = meta
	return w
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]GCSAttrs, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var out []GCSAttrs
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, GCSAttrs{
			Name:     attrs.Name,
			Size:     attrs.Size,
			Created:  attrs.Created,
			Metadata: attrs.Metadata,
		})
	}
	return out, nil
}

// GCPGatewayBackend implements the BlobStore interface by storing blobs in
// Google Cloud Storage under a key prefix.
type GCPGatewayBackend struct {
	// Bucket is the upstream GCS bucket name.
	Bucket string
	// Project is the GCP project ID.
	Project string
	// Prefix is the key prefix for all blobs in the upstream bucket.
	Prefix string
	// client is the GCS client (satisfying GCSAPI interface).
	client GCSAPI
	// closer releases the real client, if any.
	closer io.Closer
}

// NewGCPGatewayBackend creates a new GCPGatewayBackend for the specified GCS
// bucket. It initializes the GCS client using Application Default
// Credentials.
func NewGCPGatewayBackend(ctx context.Context, bucket, project, prefix string) (*GCPGatewayBackend, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := NewGCPGatewayBackendWithClient(bucket, project, prefix, &realGCSClient{client: client})
	b.closer = client

	if err := b.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("cannot access upstream GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCP gateway backend initialized", "bucket", bucket, "project", project, "prefix", prefix)
	return b, nil
}

// NewGCPGatewayBackendWithClient creates a GCPGatewayBackend with a
// pre-configured GCS client. This is primarily used for testing with mock
// clients.
func NewGCPGatewayBackendWithClient(bucket, project, prefix string, client GCSAPI) *GCPGatewayBackend {
	return &GCPGatewayBackend{
		Bucket:  bucket,
		Project: project,
		Prefix:  prefix,
		client:  client,
	}
}

// gcsKey maps a tag and blob name to an upstream GCS object name.
func (b *GCPGatewayBackend) gcsKey(tag Tag, name string) string {
	return b.Prefix + string(tag) + "/" + name
}

// Put uploads blob data to the upstream GCS bucket.
func (b *GCPGatewayBackend) Put(ctx context.Context, data []byte, tag Tag, filename string) (string, error) {
	if err := checkTag(tag); err != nil {
		return "", err
	}

	name := newBlobName()
	var meta map[string]string
	if filename != "" {
		meta = map[string]string{"filename": filename}
	}

	w := b.client.NewWriter(ctx, b.Bucket, b.gcsKey(tag, name), meta)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("writing to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing GCS writer: %w", err)
	}
	return blobID(tag, name), nil
}

// Get downloads blob data from the upstream GCS bucket.
func (b *GCPGatewayBackend) Get(ctx context.Context, id string) ([]byte, error) {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notFound(id), err)
	}

	rc, err := b.client.NewReader(ctx, b.Bucket, b.gcsKey(tag, name))
	if err != nil {
		if isGCSNotFound(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("getting blob from GCS: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading GCS object: %w", err)
	}
	return data, nil
}

// Delete removes a blob from the upstream GCS bucket. Missing objects are not
// an error.
func (b *GCPGatewayBackend) Delete(ctx context.Context, id string) error {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil
	}

	if err := b.client.Delete(ctx, b.Bucket, b.gcsKey(tag, name)); err != nil && !isGCSNotFound(err) {
		return fmt.Errorf("deleting blob from GCS: %w", err)
	}
	return nil
}

// List returns the blobs under the tag prefix.
func (b *GCPGatewayBackend) List(ctx context.Context, tag Tag) ([]BlobInfo, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}

	prefix := b.gcsKey(tag, "")
	objects, err := b.client.ListObjects(ctx, b.Bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing GCS objects: %w", err)
	}

	var out []BlobInfo
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Name, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		out = append(out, BlobInfo{
			ID:       blobID(tag, name),
			Tag:      tag,
			Filename: obj.Metadata["filename"],
			Size:     obj.Size,
			Created:  obj.Created.UTC(),
		})
	}
	return out, nil
}

// HealthCheck verifies the upstream bucket is reachable by listing a prefix
// that cannot match anything.
func (b *GCPGatewayBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.ListObjects(ctx, b.Bucket, "\x00nonexistent\x00")
	return err
}

// Close releases the GCS client when the backend created it.
func (b *GCPGatewayBackend) Close() error {
	if b.closer != nil {
		return b.closer.Close()
	}
	return nil
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	// Check error message as fallback.
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return true
		}
	}
	return false
}

// Ensure GCPGatewayBackend implements BlobStore at compile time.
var _ BlobStore = (*GCPGatewayBackend)(nil)
