package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// GridFSBucketAPI is the subset of *gridfs.Bucket the backend uses. This
// allows mocking in tests.
type GridFSBucketAPI interface {
	UploadFromStreamWithID(fileID interface{}, filename string, source io.Reader, opts ...*options.UploadOptions) error
	DownloadToStream(fileID interface{}, stream io.Writer) (int64, error)
	Delete(fileID interface{}) error
	Find(filter interface{}, opts ...*options.GridFSFindOptions) (*mongo.Cursor, error)
}

// gridfsFile is the shape of a GridFS files-collection document.
type gridfsFile struct {
	ID         primitive.ObjectID `bson:"_id"`
	Length     int64              `bson:"length"`
	UploadDate time.Time          `bson:"uploadDate"`
	Filename   string             `bson:"filename"`
}

// GridFSBackend implements BlobStore on MongoDB GridFS. Each tag maps to its
// own bucket: originals live in "<bucket>" and transformed images in
// "<bucket>_transformed". Blob IDs are "<tag>/<ObjectID hex>", so records
// written by other GridFS clients resolve without translation.
type GridFSBackend struct {
	client  *mongo.Client
	buckets map[Tag]GridFSBucketAPI
}

// NewGridFSBackend connects to MongoDB and opens the per-tag buckets.
func NewGridFSBackend(ctx context.Context, uri, database, bucket string) (*GridFSBackend, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(database)
	buckets := make(map[Tag]GridFSBucketAPI, len(Tags))
	for _, tag := range Tags {
		name := gridfsBucketName(bucket, tag)
		b, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(name))
		if err != nil {
			client.Disconnect(context.Background())
			return nil, fmt.Errorf("opening GridFS bucket %q: %w", name, err)
		}
		buckets[tag] = b
	}

	slog.Info("GridFS backend initialized", "database", database, "bucket", bucket)
	return &GridFSBackend{client: client, buckets: buckets}, nil
}

// NewGridFSBackendWithBuckets creates a GridFSBackend over pre-built buckets.
// This is primarily used for testing.
func NewGridFSBackendWithBuckets(buckets map[Tag]GridFSBucketAPI) *GridFSBackend {
	return &GridFSBackend{buckets: buckets}
}

// gridfsBucketName returns the bucket name holding blobs with tag.
func gridfsBucketName(base string, tag Tag) string {
	if tag == TagOriginal {
		return base
	}
	return base + "_" + string(tag)
}

// locate resolves a blob ID to its bucket and GridFS file ID.
func (b *GridFSBackend) locate(id string) (GridFSBucketAPI, primitive.ObjectID, error) {
	tag, name, err := splitBlobID(id)
	if err != nil {
		return nil, primitive.NilObjectID, err
	}
	oid, err := primitive.ObjectIDFromHex(name)
	if err != nil {
		return nil, primitive.NilObjectID, fmt.Errorf("blob id %q: %w", id, err)
	}
	bucket, ok := b.buckets[tag]
	if !ok {
		return nil, primitive.NilObjectID, fmt.Errorf("no GridFS bucket for tag %q", tag)
	}
	return bucket, oid, nil
}

// Put uploads data as a new GridFS file.
func (b *GridFSBackend) Put(ctx context.Context, data []byte, tag Tag, filename string) (string, error) {
	if err := checkTag(tag); err != nil {
		return "", err
	}
	bucket, ok := b.buckets[tag]
	if !ok {
		return "", fmt.Errorf("no GridFS bucket for tag %q", tag)
	}

	oid := primitive.NewObjectID()
	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "tag", Value: string(tag)}})
	if err := bucket.UploadFromStreamWithID(oid, filename, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("uploading to GridFS: %w", err)
	}
	return blobID(tag, oid.Hex()), nil
}

// Get downloads a GridFS file.
func (b *GridFSBackend) Get(ctx context.Context, id string) ([]byte, error) {
	bucket, oid, err := b.locate(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", notFound(id), err)
	}

	var buf bytes.Buffer
	if _, err := bucket.DownloadToStream(oid, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("downloading from GridFS: %w", err)
	}
	return buf.Bytes(), nil
}

// Delete removes a GridFS file and its chunks. Missing files are not an
// error.
func (b *GridFSBackend) Delete(ctx context.Context, id string) error {
	bucket, oid, err := b.locate(id)
	if err != nil {
		return nil
	}
	if err := bucket.Delete(oid); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
		return fmt.Errorf("deleting from GridFS: %w", err)
	}
	return nil
}

// List returns every file in the tag's bucket, ordered by ID.
func (b *GridFSBackend) List(ctx context.Context, tag Tag) ([]BlobInfo, error) {
	if err := checkTag(tag); err != nil {
		return nil, err
	}
	bucket, ok := b.buckets[tag]
	if !ok {
		return nil, fmt.Errorf("no GridFS bucket for tag %q", tag)
	}

	cursor, err := bucket.Find(bson.D{}, options.GridFSFind().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing GridFS files: %w", err)
	}
	var files []gridfsFile
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("decoding GridFS files: %w", err)
	}

	out := make([]BlobInfo, 0, len(files))
	for _, f := range files {
		out = append(out, BlobInfo{
			ID:       blobID(tag, f.ID.Hex()),
			Tag:      tag,
			Filename: f.Filename,
			Size:     f.Length,
			Created:  f.UploadDate.UTC(),
		})
	}
	return out, nil
}

// HealthCheck pings the MongoDB primary.
func (b *GridFSBackend) HealthCheck(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the MongoDB client when the backend owns one.
func (b *GridFSBackend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(context.Background())
}

// Ensure GridFSBackend implements BlobStore at compile time.
var _ BlobStore = (*GridFSBackend)(nil)
