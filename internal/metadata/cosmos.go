package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"

	"github.com/artcurate/artcurate/internal/config"
	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/uid"
)

const (
	cosmosTimeFormat = "2006-01-02T15:04:05.000000000Z"

	// cosmosPartition is both the item type and its partition key value.
	cosmosPartition = "artwork"
)

// CosmosStore implements MetadataStore on an Azure Cosmos DB container
// partitioned by /type.
type CosmosStore struct {
	client    *azcosmos.ContainerClient
	database  string
	container string
}

func NewCosmosStore(ctx context.Context, cfg *config.CosmosConfig) (*CosmosStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cosmos config is required")
	}
	if cfg.Endpoint == "" && cfg.MasterKey == "" {
		return nil, fmt.Errorf("cosmos endpoint or master key is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("cosmos database name is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("cosmos container name is required")
	}

	var cred azcosmos.KeyCredential
	if cfg.MasterKey != "" {
		var err error
		cred, err = azcosmos.NewKeyCredential(cfg.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("creating cosmos key credential: %w", err)
		}
	}

	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, &azcosmos.ClientOptions{
		ClientOptions: policy.ClientOptions{},
	})
	if err != nil {
		return nil, fmt.Errorf("creating cosmos client: %w", err)
	}

	dbClient, err := client.NewDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("getting database client: %w", err)
	}

	containerClient, err := dbClient.NewContainer(cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("getting container client: %w", err)
	}

	return &CosmosStore{
		client:    containerClient,
		database:  cfg.Database,
		container: cfg.Container,
	}, nil
}

func (s *CosmosStore) Ping(ctx context.Context) error {
	_, err := s.client.Read(ctx, nil)
	if err != nil {
		return fmt.Errorf("reading cosmos container %s/%s: %w", s.database, s.container, err)
	}
	return nil
}

func (s *CosmosStore) Close() error {
	return nil
}

// cosmosItem is the JSON document stored per artwork.
type cosmosItem struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	ObjectID          string `json:"object_id"`
	Title             string `json:"title"`
	Artist            string `json:"artist"`
	Department        string `json:"department"`
	Culture           string `json:"culture"`
	Period            string `json:"period"`
	ObjectDate        string `json:"object_date"`
	Medium            string `json:"medium"`
	Source            string `json:"source"`
	OriginalBlobID    string `json:"original_blob_id"`
	TransformedBlobID string `json:"transformed_blob_id"`
	Split             string `json:"split"`
	CreatedAt         string `json:"created_at"`
}

func recordToCosmosItem(r *ArtworkRecord) *cosmosItem {
	return &cosmosItem{
		ID:                r.RecordID,
		Type:              cosmosPartition,
		ObjectID:          r.ObjectID,
		Title:             r.Title,
		Artist:            r.Artist,
		Department:        r.Department,
		Culture:           r.Culture,
		Period:            r.Period,
		ObjectDate:        r.ObjectDate,
		Medium:            r.Medium,
		Source:            r.Source,
		OriginalBlobID:    r.OriginalBlobID,
		TransformedBlobID: r.TransformedBlobID,
		Split:             string(r.Split),
		CreatedAt:         r.CreatedAt.UTC().Format(cosmosTimeFormat),
	}
}

func (ci *cosmosItem) record() ArtworkRecord {
	createdAt, _ := time.Parse(cosmosTimeFormat, ci.CreatedAt)
	return ArtworkRecord{
		RecordID:          ci.ID,
		ObjectID:          ci.ObjectID,
		Title:             ci.Title,
		Artist:            ci.Artist,
		Department:        ci.Department,
		Culture:           ci.Culture,
		Period:            ci.Period,
		ObjectDate:        ci.ObjectDate,
		Medium:            ci.Medium,
		Source:            ci.Source,
		OriginalBlobID:    ci.OriginalBlobID,
		TransformedBlobID: ci.TransformedBlobID,
		Split:             NormalizeSplit(ci.Split),
		CreatedAt:         createdAt,
	}
}

// cosmosStatus returns the HTTP status carried by an azcore.ResponseError,
// or 0.
func cosmosStatus(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func (s *CosmosStore) pk() azcosmos.PartitionKey {
	return azcosmos.NewPartitionKeyString(cosmosPartition)
}

func (s *CosmosStore) Insert(ctx context.Context, rec *ArtworkRecord) (string, error) {
	cp := prepareInsert(rec, uid.NewRecordID)

	data, err := json.Marshal(recordToCosmosItem(&cp))
	if err != nil {
		return "", fmt.Errorf("marshaling record: %w", err)
	}

	if _, err := s.client.CreateItem(ctx, s.pk(), data, nil); err != nil {
		if cosmosStatus(err) == http.StatusConflict {
			return "", fmt.Errorf("record already exists: %s", cp.RecordID)
		}
		return "", fmt.Errorf("inserting record %q: %w", cp.RecordID, err)
	}
	return cp.RecordID, nil
}

func (s *CosmosStore) ScanAll(ctx context.Context) ([]ArtworkRecord, error) {
	query := "SELECT * FROM c WHERE c.type = @type ORDER BY c.created_at, c.id"
	pager := s.client.NewQueryItemsPager(query, s.pk(), &azcosmos.QueryOptions{
		QueryParameters: []azcosmos.QueryParameter{{Name: "@type", Value: cosmosPartition}},
	})

	var out []ArtworkRecord
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning artworks: %w", err)
		}
		for _, raw := range resp.Items {
			var ci cosmosItem
			if err := json.Unmarshal(raw, &ci); err != nil {
				return nil, fmt.Errorf("unmarshaling artwork item: %w", err)
			}
			out = append(out, ci.record())
		}
	}

	SortRecords(out)
	return out, nil
}

func (s *CosmosStore) UpdateFields(ctx context.Context, recordID string, fields map[string]string) error {
	if err := ValidateUpdate(fields); err != nil {
		return err
	}

	if len(fields) == 0 {
		if _, err := s.client.ReadItem(ctx, s.pk(), recordID, nil); err != nil {
			if cosmosStatus(err) == http.StatusNotFound {
				return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
			}
			return fmt.Errorf("checking record %q: %w", recordID, err)
		}
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	ops := azcosmos.PatchOperations{}
	for _, name := range names {
		value := fields[name]
		if name == FieldSplit {
			value = string(NormalizeSplit(value))
		}
		ops.AppendSet("/"+name, value)
	}

	if _, err := s.client.PatchItem(ctx, s.pk(), recordID, ops, nil); err != nil {
		if cosmosStatus(err) == http.StatusNotFound {
			return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
		}
		return fmt.Errorf("updating record %q: %w", recordID, err)
	}
	return nil
}

func (s *CosmosStore) Delete(ctx context.Context, recordID string) error {
	if _, err := s.client.DeleteItem(ctx, s.pk(), recordID, nil); err != nil {
		if cosmosStatus(err) == http.StatusNotFound {
			return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
		}
		return fmt.Errorf("deleting record %q: %w", recordID, err)
	}
	return nil
}

func (s *CosmosStore) GroupByField(ctx context.Context, field string) ([]FieldGroup, error) {
	if err := ValidateGroupField(field); err != nil {
		return nil, err
	}
	records, err := s.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	return GroupRecords(records, field)
}

// Ensure CosmosStore implements MetadataStore at compile time.
var _ MetadataStore = (*CosmosStore)(nil)
