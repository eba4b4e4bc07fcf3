// Azure Blob Storage gateway backend.
//
// The Azure gateway backend stores blob bytes in an upstream Azure Blob
// Storage container via the official Azure SDK for Go.
//
// Key mapping:
//
//	Blobs:  {prefix}{tag}/{name}
//
// Credentials are resolved via a connection string when configured, managed
// identity when requested, and DefaultAzureCredential otherwise.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the gateway backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a blob, overwriting if it already exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte, metadata map[string]string) error
	// DownloadBlob downloads a blob's contents.
	DownloadBlob(ctx context.Context, containerName, blobName string) ([]byte, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// BlobExists checks if a blob exists.
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
	// ListBlobs lists every blob whose name starts with prefix.
	ListBlobs(ctx context.Context, containerName, prefix string) ([]AzureBlobItem, error)
}

// AzureBlobItem is one entry of a container listing.
type AzureBlobItem struct {
	Name     string
	Size     int64
	Created  time.Time
	Metadata map[string]string
}

// AzureGatewayBackend implements the BlobStore interface by storing blobs in
// an upstream Azure Blob container under a key prefix.
type AzureGatewayBackend struct {
	// Container is the upstream Azure Blob container name.
	Container string
	// AccountURL is the Azure storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// Prefix is the key prefix for all blobs in the upstream container.
	Prefix string
	// client is the Azure Blob client (satisfying AzureBlobAPI interface).
	client AzureBlobAPI
}

// AzureOptions selects how the Azure client authenticates.
type AzureOptions struct {
	ConnectionString   string
	UseManagedIdentity bool
}

// NewAzureGatewayBackend creates a new AzureGatewayBackend for the specified
// Azure Blob container and verifies that the container is reachable.
func NewAzureGatewayBackend(ctx context.Context, container, accountURL, prefix string, opts AzureOptions) (*AzureGatewayBackend, error) {
	client, err := newRealAzureClient(accountURL, opts.ConnectionString, opts.UseManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	b := NewAzureGatewayBackendWithClient(container, accountURL, prefix, client)
	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access upstream Azure container %q: %w", container, err)
	}

	slog.Info("Azure gateway backend initialized", "container", container, "account", accountURL, "prefix", prefix)
	return b, nil
}

// NewAzureGatewayBackendWithClient creates an AzureGatewayBackend with a
// pre-configured Azure client. This is primarily used for testing with mock
// clients.
func NewAzureGatewayBackendWithClient(container, accountURL, prefix string, client AzureBlobAPI) *AzureGatewayBackend {
	return &AzureGatewayBackend{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		client:     client,
	}
}

// blobName maps a tag and name to an upstream Azure blob name.
func (b *AzureGatewayBackend) blobName(tag Tag, name string) string {
	return b.Prefix + string(tag) + "/" + name
}

// Put uploads blob data to the upstream Azure Blob container.
func (b *AzureGatewayBackend) Put(ctx context.Context, data []byte, tag Tag, filename string) (string, error) {
	if err := checkTag(tag); err != nil {
		return "", err
	}

	name := newBlobName()
	var meta map[string]string
	if filename != "" {
		meta = map[string]string{"filename": filename}
	}
	if err := b.client.UploadBlob(ctx, b.Container, b.blobName(tag, name), data, meta); err != nil {
		return "", fmt.Errorf("uploading to Azure: %w", err)
	}
	return blobID(tag, name), nil
}

// Get downloads blob data from the upstream Azure Blob container.
func (b *AzureGatewayBackend) Get(ctx context.Context, id string) ([]byte, error) {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notFound(id), err)
	}

	data, err := b.client.DownloadBlob(ctx, b.Container, b.blobName(tag, name))
	if err != nil {
		if isAzureNotFound(err) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("downloading blob from Azure: %w", err)
	}
	return data, nil
}

// Delete removes a blob from the upstream container. Missing blobs are not
// an error.
func (b *AzureGatewayBackend) Delete(ctx context.Context, id string) error {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil
	}

	if err := b.client.DeleteBlob(ctx, b.Container, b.blobName(tag, name)); err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("deleting blob from Azure: %w", err)
	}
	return nil
}

// List returns the blobs under the tag prefix.
func (b *AzureGatewayBackend) List(ctx context.Context, tag Tag) ([]BlobInfo, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}

	prefix := b.blobName(tag, "")
	items, err := b.client.ListBlobs(ctx, b.Container, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing Azure blobs: %w", err)
	}

	var out []BlobInfo
	for _, item := range items {
		name := strings.TrimPrefix(item.Name, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		out = append(out, BlobInfo{
			ID:       blobID(tag, name),
			Tag:      tag,
			Filename: item.Metadata["filename"],
			Size:     item.Size,
			Created:  item.Created.UTC(),
		})
	}
	return out, nil
}

// HealthCheck verifies that the upstream Azure Blob container is accessible.
func (b *AzureGatewayBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.BlobExists(ctx, b.Container, "\x00nonexistent\x00")
	return err
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (b *AzureGatewayBackend) Close() error {
	return nil
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "blobnotfound") || strings.Contains(msg, "containernotfound") ||
		strings.Contains(msg, "the specified blob does not exist") ||
		strings.Contains(msg, "the specified container does not exist") {
		return true
	}
	return false
}

// Ensure AzureGatewayBackend implements BlobStore at compile time.
var _ BlobStore = (*AzureGatewayBackend)(nil)
