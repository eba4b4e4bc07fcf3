package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	curerr "github.com/artcurate/artcurate/internal/errors"
)

// Document field names in the artwork_metadata collection. Blob references
// keep the names used by the ingestion job that populates the collection.
const (
	mongoIDField          = "_id"
	mongoOriginalField    = "gridfs_file_id"
	mongoTransformedField = "transformed_gridfs_file_id"
)

// mongoFieldName maps a record field to its document field.
func mongoFieldName(field string) string {
	switch field {
	case FieldRecordID:
		return mongoIDField
	case FieldOriginalBlobID:
		return mongoOriginalField
	case FieldTransformedBlobID:
		return mongoTransformedField
	}
	return field
}

// MongoStore implements MetadataStore on a MongoDB collection. Record IDs are
// the hex form of the document _id.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	ownClient  bool
}

// NewMongoStore connects to uri and opens database.collection.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	s := NewMongoStoreWithClient(client, database, collection)
	s.ownClient = true

	// Scan order and object_id lookups.
	_, err = s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: FieldCreatedAt, Value: 1}, {Key: mongoIDField, Value: 1}}},
		{Keys: bson.D{{Key: FieldObjectID, Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("creating MongoDB indexes: %w", err)
	}
	return s, nil
}

// NewMongoStoreWithClient wraps an existing client. The caller keeps
// ownership of the client; Close does not disconnect it.
func NewMongoStoreWithClient(client *mongo.Client, database, collection string) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("pinging MongoDB: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	if s.ownClient {
		return s.client.Disconnect(context.Background())
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, rec *ArtworkRecord) (string, error) {
	cp := prepareInsert(rec, func() string { return primitive.NewObjectID().Hex() })

	if _, err := s.collection.InsertOne(ctx, recordToMongoDoc(&cp)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("record already exists: %s", cp.RecordID)
		}
		return "", fmt.Errorf("inserting record %q: %w", cp.RecordID, err)
	}
	return cp.RecordID, nil
}

func (s *MongoStore) ScanAll(ctx context.Context) ([]ArtworkRecord, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: FieldCreatedAt, Value: 1},
		{Key: mongoIDField, Value: 1},
	})
	cur, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("scanning artworks: %w", err)
	}
	defer cur.Close(ctx)

	var out []ArtworkRecord
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding artwork document: %w", err)
		}
		out = append(out, mongoDocToRecord(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterating artworks: %w", err)
	}
	// Documents written by other tools may lack created_at or mix _id
	// types; re-sort so the ordering contract holds regardless.
	SortRecords(out)
	return out, nil
}

func (s *MongoStore) UpdateFields(ctx context.Context, recordID string, fields map[string]string) error {
	if err := ValidateUpdate(fields); err != nil {
		return err
	}

	set := bson.D{}
	for name, value := range fields {
		if name == FieldSplit {
			value = string(NormalizeSplit(value))
		}
		set = append(set, bson.E{Key: mongoFieldName(name), Value: value})
	}

	if len(set) == 0 {
		// The server rejects an empty $set.
		err := s.collection.FindOne(ctx, mongoIDFilter(recordID)).Err()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("checking record %q: %w", recordID, err)
		}
		return nil
	}

	res, err := s.collection.UpdateOne(ctx, mongoIDFilter(recordID), bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("updating record %q: %w", recordID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, recordID string) error {
	res, err := s.collection.DeleteOne(ctx, mongoIDFilter(recordID))
	if err != nil {
		return fmt.Errorf("deleting record %q: %w", recordID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("record %s: %w", recordID, curerr.ErrNotFound)
	}
	return nil
}

// mongoGroup is one result document of the group-by aggregation.
type mongoGroup struct {
	Key     string   `bson:"_id"`
	Count   int      `bson:"count"`
	Members []string `bson:"members"`
}

func (s *MongoStore) GroupByField(ctx context.Context, field string) ([]FieldGroup, error) {
	if err := ValidateGroupField(field); err != nil {
		return nil, err
	}

	cur, err := s.collection.Aggregate(ctx, mongoGroupPipeline(field))
	if err != nil {
		return nil, fmt.Errorf("grouping artworks by %s: %w", field, err)
	}
	defer cur.Close(ctx)

	var raw []mongoGroup
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("decoding groups: %w", err)
	}

	groups := make([]FieldGroup, 0, len(raw))
	for _, g := range raw {
		groups = append(groups, FieldGroup{Key: g.Key, Count: g.Count, MemberIDs: g.Members})
	}
	return groups, nil
}

// mongoGroupPipeline builds the aggregation for GroupByField. Members are
// pushed after a scan-order sort so $push preserves that order.
func mongoGroupPipeline(field string) mongo.Pipeline {
	missing := ""
	if field == FieldSplit {
		missing = string(SplitUnassigned)
	}
	key := bson.D{{Key: "$toString", Value: bson.D{
		{Key: "$ifNull", Value: bson.A{"$" + mongoFieldName(field), missing}},
	}}}

	return mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{
			{Key: FieldCreatedAt, Value: 1},
			{Key: mongoIDField, Value: 1},
		}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: key},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "members", Value: bson.D{{Key: "$push", Value: bson.D{
				{Key: "$toString", Value: "$" + mongoIDField},
			}}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
}

// mongoIDFilter matches a record ID against _id. IDs that are not ObjectID
// hex (records imported from another engine) are stored as plain strings.
func mongoIDFilter(recordID string) bson.D {
	return bson.D{{Key: mongoIDField, Value: mongoID(recordID)}}
}

func mongoID(recordID string) any {
	if oid, err := primitive.ObjectIDFromHex(recordID); err == nil {
		return oid
	}
	return recordID
}

// recordToMongoDoc encodes a record as a collection document.
func recordToMongoDoc(r *ArtworkRecord) bson.D {
	doc := bson.D{
		{Key: mongoIDField, Value: mongoID(r.RecordID)},
		{Key: FieldObjectID, Value: r.ObjectID},
		{Key: FieldTitle, Value: r.Title},
		{Key: FieldArtist, Value: r.Artist},
		{Key: FieldDepartment, Value: r.Department},
		{Key: FieldCulture, Value: r.Culture},
		{Key: FieldPeriod, Value: r.Period},
		{Key: FieldObjectDate, Value: r.ObjectDate},
		{Key: FieldMedium, Value: r.Medium},
		{Key: FieldSource, Value: r.Source},
		{Key: FieldSplit, Value: string(r.Split)},
		{Key: FieldCreatedAt, Value: primitive.NewDateTimeFromTime(r.CreatedAt)},
	}
	if r.OriginalBlobID != "" {
		doc = append(doc, bson.E{Key: mongoOriginalField, Value: r.OriginalBlobID})
	}
	if r.TransformedBlobID != "" {
		doc = append(doc, bson.E{Key: mongoTransformedField, Value: r.TransformedBlobID})
	}
	return doc
}

// mongoDocToRecord decodes a collection document. It accepts the loose
// typing of documents written by the ingestion job: numeric object IDs,
// null descriptive fields and ObjectID blob references.
func mongoDocToRecord(doc bson.M) ArtworkRecord {
	r := ArtworkRecord{
		RecordID:          mongoString(doc[mongoIDField], ""),
		ObjectID:          mongoString(doc[FieldObjectID], ""),
		Title:             mongoString(doc[FieldTitle], ""),
		Artist:            mongoString(doc[FieldArtist], ""),
		Department:        mongoString(doc[FieldDepartment], ""),
		Culture:           mongoString(doc[FieldCulture], ""),
		Period:            mongoString(doc[FieldPeriod], ""),
		ObjectDate:        mongoString(doc[FieldObjectDate], ""),
		Medium:            mongoString(doc[FieldMedium], ""),
		Source:            mongoString(doc[FieldSource], ""),
		OriginalBlobID:    mongoString(doc[mongoOriginalField], "original"),
		TransformedBlobID: mongoString(doc[mongoTransformedField], "transformed"),
		Split:             NormalizeSplit(mongoString(doc[FieldSplit], "")),
	}
	switch v := doc[FieldCreatedAt].(type) {
	case primitive.DateTime:
		r.CreatedAt = v.Time().UTC()
	case time.Time:
		r.CreatedAt = v.UTC()
	}
	return r
}

// mongoString renders a scalar BSON value as a string. ObjectIDs become
// "<tag>/<hex>" when tag is set, matching the GridFS blob ID layout.
func mongoString(v any, tag string) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case primitive.ObjectID:
		if tag != "" {
			return tag + "/" + t.Hex()
		}
		return t.Hex()
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

// Ensure MongoStore implements MetadataStore at compile time.
var _ MetadataStore = (*MongoStore)(nil)
