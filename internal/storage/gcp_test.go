package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	gcs "cloud.google.com/go/storage"
)

type mockGCSObject struct {
	data    []byte
	meta    map[string]string
	created time.Time
}

// mockGCSClient implements GCSAPI for unit testing.
type mockGCSClient struct {
	// objects stores all objects keyed by their GCS object name.
	objects map[string]mockGCSObject
	// putCalls tracks the number of write operations.
	putCalls int
	// deleteCalls tracks the number of delete calls.
	deleteCalls int
	// listErr, when set, is returned by ListObjects.
	listErr error
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{
		objects: make(map[string]mockGCSObject),
	}
}

// mockGCSWriter implements GCSWriter for testing.
type mockGCSWriter struct {
	buf    *bytes.Buffer
	client *mockGCSClient
	key    string
	meta   map[string]string
}

func (w *mockGCSWriter) Write(p []byte) (n int, err error) {
	return w.buf.Write(p)
}

func (w *mockGCSWriter) Close() error {
	w.client.objects[w.key] = mockGCSObject{data: w.buf.Bytes(), meta: w.meta, created: time.Now()}
	w.client.putCalls++
	return nil
}

func (m *mockGCSClient) NewWriter(ctx context.Context, bucket, object string, meta map[string]string) GCSWriter {
	return &mockGCSWriter{
		buf:    &bytes.Buffer{},
		client: m,
		key:    object,
		meta:   meta,
	}
}

func (m *mockGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	obj, ok := m.objects[object]
	if !ok {
		return nil, gcs.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *mockGCSClient) Delete(ctx context.Context, bucket, object string) error {
	m.deleteCalls++
	if _, ok := m.objects[object]; !ok {
		return fmt.Errorf("storage: object doesn't exist: not found")
	}
	delete(m.objects, object)
	return nil
}

func (m *mockGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]GCSAttrs, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []GCSAttrs
	for name, obj := range m.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, GCSAttrs{Name: name, Size: int64(len(obj.data)), Created: obj.created, Metadata: obj.meta})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func newTestGCPBackend(t *testing.T) (*GCPGatewayBackend, *mockGCSClient) {
	t.Helper()
	mock := newMockGCSClient()
	backend := NewGCPGatewayBackendWithClient("test-upstream-bucket", "test-project", "ac/", mock)
	return backend, mock
}

func TestGCPBlobStoreConformance(t *testing.T) {
	runBlobStoreSuite(t, func(t *testing.T) BlobStore {
		backend, _ := newTestGCPBackend(t)
		return backend
	})
}

func TestGCPKeyMappingAndFilename(t *testing.T) {
	backend, mock := newTestGCPBackend(t)
	ctx := context.Background()

	id, err := backend.Put(ctx, []byte("img"), TagOriginal, "436535.jpg")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_, name, _ := splitBlobID(id)
	obj, ok := mock.objects["ac/original/"+name]
	if !ok {
		t.Fatalf("expected upstream object ac/original/%s", name)
	}
	if obj.meta["filename"] != "436535.jpg" {
		t.Errorf("filename metadata = %q", obj.meta["filename"])
	}

	blobs, err := backend.List(ctx, TagOriginal)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(blobs) != 1 || blobs[0].Filename != "436535.jpg" {
		t.Errorf("List = %+v", blobs)
	}
}

func TestGCPDeleteMissingIsNotError(t *testing.T) {
	backend, mock := newTestGCPBackend(t)

	if err := backend.Delete(context.Background(), "original/abc"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if mock.deleteCalls != 1 {
		t.Errorf("deleteCalls = %d, want 1", mock.deleteCalls)
	}
}

func TestGCPHealthCheckFails(t *testing.T) {
	backend, mock := newTestGCPBackend(t)
	mock.listErr = errors.New("permission denied")

	if err := backend.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected HealthCheck error")
	}
}

func TestIsGCSNotFound(t *testing.T) {
	if !isGCSNotFound(gcs.ErrObjectNotExist) {
		t.Error("ErrObjectNotExist should be not-found")
	}
	if !isGCSNotFound(fmt.Errorf("wrapped: %w", gcs.ErrBucketNotExist)) {
		t.Error("wrapped ErrBucketNotExist should be not-found")
	}
	if isGCSNotFound(errors.New("permission denied")) {
		t.Error("permission denied should not be not-found")
	}
	if isGCSNotFound(nil) {
		t.Error("nil should not be not-found")
	}
}
