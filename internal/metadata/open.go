package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/artcurate/artcurate/internal/config"
)

// Open constructs the MetadataStore selected by cfg.Engine.
func Open(ctx context.Context, cfg *config.MetadataConfig) (MetadataStore, error) {
	switch cfg.Engine {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("creating metadata directory: %w", err)
			}
		}
		return NewSQLiteStore(cfg.SQLite.Path)
	case "local":
		return NewLocalStore(&cfg.Local)
	case "mongo":
		return NewMongoStore(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
	case "dynamodb":
		return NewDynamoDBStore(ctx, &cfg.DynamoDB)
	case "firestore":
		return NewFirestoreStore(ctx, &cfg.Firestore)
	case "cosmos":
		return NewCosmosStore(ctx, &cfg.Cosmos)
	}
	return nil, fmt.Errorf("unknown metadata engine %q", cfg.Engine)
}
