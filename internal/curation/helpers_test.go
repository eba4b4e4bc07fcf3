package curation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artcurate/artcurate/internal/logging"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/storage"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	meta  *metadata.MemoryStore
	blobs *storage.MemoryBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	blobs, err := storage.NewMemoryBackend(0, "none", "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })
	return &fixture{meta: metadata.NewMemoryStore(), blobs: blobs}
}

// pngBytes renders a w x h gradient PNG.
func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// addRecord inserts a record whose created_at is epoch+offset seconds. If
// img is non-nil it is stored as the original blob.
func (f *fixture) addRecord(t *testing.T, objectID string, offset int, img []byte) string {
	t.Helper()
	ctx := context.Background()
	rec := &metadata.ArtworkRecord{
		ObjectID:  objectID,
		Title:     "Untitled " + objectID,
		Artist:    "Unknown",
		CreatedAt: epoch.Add(time.Duration(offset) * time.Second),
	}
	if img != nil {
		id, err := f.blobs.Put(ctx, img, storage.TagOriginal, objectID+".png")
		require.NoError(t, err)
		rec.OriginalBlobID = id
	}
	id, err := f.meta.Insert(ctx, rec)
	require.NoError(t, err)
	return id
}

func (f *fixture) get(t *testing.T, recordID string) metadata.ArtworkRecord {
	t.Helper()
	records, err := f.meta.ScanAll(context.Background())
	require.NoError(t, err)
	for _, r := range records {
		if r.RecordID == recordID {
			return r
		}
	}
	t.Fatalf("record %s not found", recordID)
	return metadata.ArtworkRecord{}
}

var quiet = logging.Discard

// failingMeta wraps a MetadataStore and fails selected operations.
type failingMeta struct {
	metadata.MetadataStore
	failUpdate  func(recordID string, fields map[string]string) bool
	failScan    bool
	updateCalls int
}

var errStoreDown = errors.New("connection refused")

func (m *failingMeta) ScanAll(ctx context.Context) ([]metadata.ArtworkRecord, error) {
	if m.failScan {
		return nil, errStoreDown
	}
	return m.MetadataStore.ScanAll(ctx)
}

func (m *failingMeta) UpdateFields(ctx context.Context, recordID string, fields map[string]string) error {
	m.updateCalls++
	if m.failUpdate != nil && m.failUpdate(recordID, fields) {
		return fmt.Errorf("updating %s: %w", recordID, errStoreDown)
	}
	return m.MetadataStore.UpdateFields(ctx, recordID, fields)
}

// failingBlobs wraps a BlobStore and fails selected operations.
type failingBlobs struct {
	storage.BlobStore
	failDelete  bool
	failPut     bool
	deleteCalls []string
	putCalls    int
}

func (b *failingBlobs) Delete(ctx context.Context, id string) error {
	b.deleteCalls = append(b.deleteCalls, id)
	if b.failDelete {
		return errors.New("blob service unavailable")
	}
	return b.BlobStore.Delete(ctx, id)
}

func (b *failingBlobs) Put(ctx context.Context, data []byte, tag storage.Tag, filename string) (string, error) {
	b.putCalls++
	if b.failPut {
		return "", errors.New("quota exceeded")
	}
	return b.BlobStore.Put(ctx, data, tag, filename)
}
