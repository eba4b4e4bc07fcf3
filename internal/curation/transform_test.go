package curation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/storage"
)

func TestCanonicalizeProducesFixedSizeJPEG(t *testing.T) {
	out, err := Canonicalize(pngBytes(t, 640, 480), 224, 75)
	require.NoError(t, err)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, image.Rect(0, 0, 224, 224), img.Bounds())
	_, isYCbCr := img.(*image.YCbCr)
	require.True(t, isYCbCr, "canonical image should be 3-channel color, got %T", img)
}

func TestCanonicalizeIsDeterministic(t *testing.T) {
	src := pngBytes(t, 100, 300)
	a, err := Canonicalize(src, 224, 75)
	require.NoError(t, err)
	b, err := Canonicalize(src, 224, 75)
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b))
}

func TestCanonicalizeFlattensTransparency(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := Canonicalize(buf.Bytes(), 16, 90)
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	r, g, b, _ := decoded.At(8, 8).RGBA()
	white := color.White
	wr, _, _, _ := white.RGBA()
	require.InDelta(t, wr>>8, r>>8, 3)
	require.InDelta(t, wr>>8, g>>8, 3)
	require.InDelta(t, wr>>8, b>>8, 3)
}

func TestCanonicalizeRejectsGarbage(t *testing.T) {
	_, err := Canonicalize([]byte("definitely not an image"), 224, 75)
	require.ErrorIs(t, err, curerr.ErrDecode)
}

func TestTransformerLinksCanonicalBlob(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, "436535", 0, pngBytes(t, 50, 40))

	tr := &Transformer{Meta: f.meta, Blobs: f.blobs, Logger: quiet()}
	report, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Transformed)

	rec := f.get(t, id)
	require.NotEmpty(t, rec.TransformedBlobID)

	blobs, err := f.blobs.List(context.Background(), storage.TagTransformed)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	require.Equal(t, rec.TransformedBlobID, blobs[0].ID)
	require.Equal(t, "436535_transformed.jpg", blobs[0].Filename)
}

func TestTransformerIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.addRecord(t, "1", 0, pngBytes(t, 30, 30))
	b := f.addRecord(t, "2", 1, pngBytes(t, 60, 20))

	tr := &Transformer{Meta: f.meta, Blobs: f.blobs, Logger: quiet()}
	first, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Transformed)
	linkA, linkB := f.get(t, a).TransformedBlobID, f.get(t, b).TransformedBlobID
	blobCount := f.blobs.Len()

	blobs := &failingBlobs{BlobStore: f.blobs}
	tr.Blobs = blobs
	second, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, second.Transformed)
	require.Equal(t, 2, second.Skipped)
	require.Zero(t, blobs.putCalls)
	require.Equal(t, blobCount, f.blobs.Len())
	require.Equal(t, linkA, f.get(t, a).TransformedBlobID)
	require.Equal(t, linkB, f.get(t, b).TransformedBlobID)
}

func TestTransformerSkipsCorruptAndContinues(t *testing.T) {
	f := newFixture(t)
	corrupt := f.addRecord(t, "bad", 0, []byte("\x89PNG truncated"))
	noImage := f.addRecord(t, "none", 1, nil)
	good := f.addRecord(t, "good", 2, pngBytes(t, 10, 10))

	tr := &Transformer{Meta: f.meta, Blobs: f.blobs, Logger: quiet()}
	report, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Transformed)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Skipped)

	require.Empty(t, f.get(t, corrupt).TransformedBlobID)
	require.Empty(t, f.get(t, noImage).TransformedBlobID)
	require.NotEmpty(t, f.get(t, good).TransformedBlobID)

	failures := report.Failures()
	require.Len(t, failures, 1)
	require.Equal(t, corrupt, failures[0].RecordID)
}

func TestTransformerMissingOriginalIsTransient(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, "gone", 0, pngBytes(t, 10, 10))
	require.NoError(t, f.blobs.Delete(context.Background(), f.get(t, id).OriginalBlobID))

	tr := &Transformer{Meta: f.meta, Blobs: f.blobs, Logger: quiet()}
	report, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
}

func TestTransformerPutFailureLeavesRecordUnlinked(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, "1", 0, pngBytes(t, 10, 10))

	tr := &Transformer{Meta: f.meta, Blobs: &failingBlobs{BlobStore: f.blobs, failPut: true}, Logger: quiet()}
	report, err := tr.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Empty(t, f.get(t, id).TransformedBlobID)
}

func TestTransformerLinkFailureRemovesBlobAndAborts(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "1", 0, pngBytes(t, 10, 10))
	meta := &failingMeta{MetadataStore: f.meta, failUpdate: func(_ string, fields map[string]string) bool {
		_, ok := fields[metadata.FieldTransformedBlobID]
		return ok
	}}

	tr := &Transformer{Meta: meta, Blobs: f.blobs, Logger: quiet()}
	_, err := tr.Run(context.Background())
	require.Error(t, err)
	require.True(t, curerr.IsFatal(err))

	blobs, err := f.blobs.List(context.Background(), storage.TagTransformed)
	require.NoError(t, err)
	require.Empty(t, blobs, "unlinked transformed blob should be rolled back")
}

func TestTransformerScanFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	tr := &Transformer{Meta: &failingMeta{MetadataStore: f.meta, failScan: true}, Blobs: f.blobs, Logger: quiet()}
	_, err := tr.Run(context.Background())
	require.True(t, curerr.IsFatal(err))
	require.True(t, errors.Is(err, errStoreDown))
}
