package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artcurate/artcurate/internal/config"
)

// Open constructs the BlobStore selected by cfg.Backend.
func Open(ctx context.Context, cfg *config.StorageConfig) (BlobStore, error) {
	switch cfg.Backend {
	case "memory":
		m := cfg.Memory
		return NewMemoryBackend(m.MaxSizeBytes, m.Persistence, m.SnapshotPath, m.SnapshotIntervalSeconds)

	case "local", "":
		b, err := NewLocalBackend(cfg.Local.RootDir)
		if err != nil {
			return nil, err
		}
		if err := b.CleanTempFiles(); err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
		}
		return b, nil

	case "sqlite":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating storage directory: %w", err)
			}
		}
		return NewSQLiteBackend(cfg.SQLite.Path)

	case "gridfs":
		g := cfg.GridFS
		return NewGridFSBackend(ctx, g.URI, g.Database, g.Bucket)

	case "aws":
		if cfg.AWSBucket == "" {
			return nil, fmt.Errorf("storage.aws_bucket is required when backend is 'aws'")
		}
		return NewAWSGatewayBackend(ctx, cfg.AWSBucket, cfg.AWSRegion, cfg.AWSPrefix, AWSOptions{
			EndpointURL:     cfg.AWSEndpointURL,
			UsePathStyle:    cfg.AWSUsePathStyle,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})

	case "gcp":
		if cfg.GCPBucket == "" {
			return nil, fmt.Errorf("storage.gcp_bucket is required when backend is 'gcp'")
		}
		return NewGCPGatewayBackend(ctx, cfg.GCPBucket, cfg.GCPProject, cfg.GCPPrefix)

	case "azure":
		if cfg.AzureContainer == "" {
			return nil, fmt.Errorf("storage.azure_container is required when backend is 'azure'")
		}
		// Construct account URL from account name if not explicitly set.
		accountURL := cfg.AzureAccountURL
		if accountURL == "" && cfg.AzureConnectionString == "" {
			if cfg.AzureAccount == "" {
				return nil, fmt.Errorf("storage.azure_account or storage.azure_account_url is required when backend is 'azure'")
			}
			accountURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AzureAccount)
		}
		return NewAzureGatewayBackend(ctx, cfg.AzureContainer, accountURL, cfg.AzurePrefix, AzureOptions{
			ConnectionString:   cfg.AzureConnectionString,
			UseManagedIdentity: cfg.AzureUseManagedIdentity,
		})
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}
