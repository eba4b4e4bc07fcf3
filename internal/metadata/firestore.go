package metadata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/artcurate/artcurate/internal/config"
	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/uid"
)

const (
	firestoreTimeFormat = "2006-01-02T15:04:05.000000000Z"
)

// FirestoreStore implements MetadataStore on a Firestore collection. The
// document ID is the record ID.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreStore(ctx context.Context, cfg *config.FirestoreConfig) (*FirestoreStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("firestore config is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "artworks"
	}

	return &FirestoreStore{
		client:     client,
		collection: collection,
	}, nil
}

func (s *FirestoreStore) collectionRef() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.collectionRef().Limit(1).Documents(ctx).Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *FirestoreStore) Insert(ctx context.Context, rec *ArtworkRecord) (string, error) {
	cp := prepareInsert(rec, uid.NewRecordID)

	_, err := s.collectionRef().Doc(cp.RecordID).Create(ctx, recordToFirestoreDoc(&cp))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return "", fmt.Errorf("record already exists: %s", cp.RecordID)
		}
		return "", fmt.Errorf("inserting record %q: %w", cp.RecordID, err)
	}
	return cp.RecordID, nil
}

// ScanAll reads every document and sorts client-side so no composite index
// on (created_at, record_id) is required.
func (s *FirestoreStore) ScanAll(ctx context.Context) ([]ArtworkRecord, error) {
	iter := s.collectionRef().Documents(ctx)
	defer iter.Stop()

	var out []ArtworkRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scanning artworks: %w", err)
		}
		rec := firestoreDocToRecord(doc.Data())
		if rec.RecordID == "" {
			rec.RecordID = doc.Ref.ID
		}
		out = append(out, rec)
	}

	SortRecords(out)
	return out, nil
}

func (s *FirestoreStore) UpdateFields(ctx context.Context, recordID string, fields map[string]string) error {
	if err := ValidateUpdate(fields); err != nil {
		return err
	}

	docRef := s.collectionRef().Doc(recordID)
	if len(fields) == 0 {
		if _, err := docRef.Get(ctx); err != nil {
			if status.Code(err) == codes.NotFound {
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

	updates := make([]firestore.Update, 0, len(names))
	for _, name := range names {
		value := fields[name]
		if name == FieldSplit {
			value = string(NormalizeSplit(value))
		}
		updates = append(updates, firestore.Update{Path: name, Value: value})
	}

	// Update fails with NotFound when the document does not exist.
	if _, err := docRef.Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
		}
		return fmt.Errorf("updating record %q: %w", recordID, err)
	}
	return nil
}

func (s *FirestoreStore) Delete(ctx context.Context, recordID string) error {
	_, err := s.collectionRef().Doc(recordID).Delete(ctx, firestore.Exists)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
		}
		return fmt.Errorf("deleting record %q: %w", recordID, err)
	}
	return nil
}

func (s *FirestoreStore) GroupByField(ctx context.Context, field string) ([]FieldGroup, error) {
	if err := ValidateGroupField(field); err != nil {
		return nil, err
	}
	records, err := s.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	return GroupRecords(records, field)
}

func recordToFirestoreDoc(r *ArtworkRecord) map[string]interface{} {
	return map[string]interface{}{
		FieldRecordID:          r.RecordID,
		FieldObjectID:          r.ObjectID,
		FieldTitle:             r.Title,
		FieldArtist:            r.Artist,
		FieldDepartment:        r.Department,
		FieldCulture:           r.Culture,
		FieldPeriod:            r.Period,
		FieldObjectDate:        r.ObjectDate,
		FieldMedium:            r.Medium,
		FieldSource:            r.Source,
		FieldOriginalBlobID:    r.OriginalBlobID,
		FieldTransformedBlobID: r.TransformedBlobID,
		FieldSplit:             string(r.Split),
		FieldCreatedAt:         r.CreatedAt.UTC().Format(firestoreTimeFormat),
	}
}

func firestoreDocToRecord(m map[string]interface{}) ArtworkRecord {
	createdAt, _ := time.Parse(firestoreTimeFormat, getStringFromMap(m, FieldCreatedAt))
	return ArtworkRecord{
		RecordID:          getStringFromMap(m, FieldRecordID),
		ObjectID:          getStringFromMap(m, FieldObjectID),
		Title:             getStringFromMap(m, FieldTitle),
		Artist:            getStringFromMap(m, FieldArtist),
		Department:        getStringFromMap(m, FieldDepartment),
		Culture:           getStringFromMap(m, FieldCulture),
		Period:            getStringFromMap(m, FieldPeriod),
		ObjectDate:        getStringFromMap(m, FieldObjectDate),
		Medium:            getStringFromMap(m, FieldMedium),
		Source:            getStringFromMap(m, FieldSource),
		OriginalBlobID:    getStringFromMap(m, FieldOriginalBlobID),
		TransformedBlobID: getStringFromMap(m, FieldTransformedBlobID),
		Split:             NormalizeSplit(getStringFromMap(m, FieldSplit)),
		CreatedAt:         createdAt,
	}
}

func getStringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Ensure FirestoreStore implements MetadataStore at compile time.
var _ MetadataStore = (*FirestoreStore)(nil)
