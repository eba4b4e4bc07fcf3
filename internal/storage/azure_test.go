package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"
)

type mockAzureBlob struct {
	data    []byte
	meta    map[string]string
	created time.Time
}

// mockAzureClient implements AzureBlobAPI for unit testing.
type mockAzureClient struct {
	// blobs stores all blobs keyed by "container/blobName".
	blobs map[string]mockAzureBlob
	// uploadCalls tracks the number of upload operations.
	uploadCalls int
	// downloadCalls tracks the number of download operations.
	downloadCalls int
	// deleteCalls tracks the number of delete operations.
	deleteCalls int
}

func newMockAzureClient() *mockAzureClient {
	return &mockAzureClient{
		blobs: make(map[string]mockAzureBlob),
	}
}

func (m *mockAzureClient) blobKey(containerName, blobName string) string {
	return containerName + "/" + blobName
}

func (m *mockAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte, metadata map[string]string) error {
	m.uploadCalls++
	copied := make([]byte, len(data))
	copy(copied, data)
	m.blobs[m.blobKey(containerName, blobName)] = mockAzureBlob{data: copied, meta: metadata, created: time.Now()}
	return nil
}

func (m *mockAzureClient) DownloadBlob(ctx context.Context, containerName, blobName string) ([]byte, error) {
	m.downloadCalls++
	blob, ok := m.blobs[m.blobKey(containerName, blobName)]
	if !ok {
		return nil, fmt.Errorf("BlobNotFound: the specified blob does not exist")
	}
	return blob.data, nil
}

func (m *mockAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	m.deleteCalls++
	key := m.blobKey(containerName, blobName)
	if _, ok := m.blobs[key]; !ok {
		return fmt.Errorf("BlobNotFound: the specified blob does not exist")
	}
	delete(m.blobs, key)
	return nil
}

func (m *mockAzureClient) BlobExists(ctx context.Context, containerName, blobName string) (bool, error) {
	_, ok := m.blobs[m.blobKey(containerName, blobName)]
	return ok, nil
}

func (m *mockAzureClient) ListBlobs(ctx context.Context, containerName, prefix string) ([]AzureBlobItem, error) {
	var out []AzureBlobItem
	for key, blob := range m.blobs {
		name, ok := strings.CutPrefix(key, containerName+"/")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, AzureBlobItem{Name: name, Size: int64(len(blob.data)), Created: blob.created, Metadata: blob.meta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func newTestAzureBackend(t *testing.T) (*AzureGatewayBackend, *mockAzureClient) {
	t.Helper()
	mock := newMockAzureClient()
	backend := NewAzureGatewayBackendWithClient("test-container", "https://test.blob.core.windows.net", "ac/", mock)
	return backend, mock
}

func TestAzureBlobStoreConformance(t *testing.T) {
	runBlobStoreSuite(t, func(t *testing.T) BlobStore {
		backend, _ := newTestAzureBackend(t)
		return backend
	})
}

func TestAzureKeyMapping(t *testing.T) {
	backend, mock := newTestAzureBackend(t)
	ctx := context.Background()

	id, err := backend.Put(ctx, []byte("img"), TagTransformed, "7_transformed.jpg")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	_, name, _ := splitBlobID(id)

	key := "test-container/ac/transformed/" + name
	blob, ok := mock.blobs[key]
	if !ok {
		t.Fatalf("expected upstream blob %q", key)
	}
	if blob.meta["filename"] != "7_transformed.jpg" {
		t.Errorf("filename metadata = %q", blob.meta["filename"])
	}
}

func TestAzureKeyMappingNoPrefix(t *testing.T) {
	backend := NewAzureGatewayBackendWithClient("c", "https://x.blob.core.windows.net", "", newMockAzureClient())

	if got := backend.blobName(TagOriginal, "abc"); got != "original/abc" {
		t.Errorf("blobName = %q, want original/abc", got)
	}
}

func TestAzureDeleteMissing(t *testing.T) {
	backend, mock := newTestAzureBackend(t)

	if err := backend.Delete(context.Background(), "transformed/abc"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if mock.deleteCalls != 1 {
		t.Errorf("deleteCalls = %d, want 1", mock.deleteCalls)
	}
}

func TestAzureIsAzureNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"BlobNotFound", fmt.Errorf("BlobNotFound: the specified blob does not exist"), true},
		{"ContainerNotFound", fmt.Errorf("ContainerNotFound: container not accessible"), true},
		{"not found message", fmt.Errorf("resource not found"), true},
		{"404 message", fmt.Errorf("got HTTP 404"), true},
		{"random error", fmt.Errorf("connection refused"), false},
	}

	for _, tc := range tests {
		got := isAzureNotFound(tc.err)
		if got != tc.expected {
			t.Errorf("isAzureNotFound(%v) = %v, want %v", tc.err, got, tc.expected)
		}
	}
}
