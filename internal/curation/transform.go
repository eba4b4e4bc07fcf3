package curation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"time"

	// Decoders accepted for original images.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/metrics"
	"github.com/artcurate/artcurate/internal/storage"
)

// Canonical image defaults.
const (
	DefaultImageSize   = 224
	DefaultJPEGQuality = 75
)

// TransformReport summarizes a transform pass.
type TransformReport struct {
	BatchReport
	Transformed int `json:"transformed"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Transformer renders each record's original image into the canonical
// size x size JPEG and links it to the record. Records that already carry a
// transformed blob are never processed again.
type Transformer struct {
	Meta    metadata.MetadataStore
	Blobs   storage.BlobStore
	Size    int
	Quality int
	Logger  *slog.Logger
}

// Canonicalize decodes data, stretches it to size x size with Catmull-Rom
// resampling onto an opaque white RGB canvas, and encodes it as JPEG.
func Canonicalize(data []byte, size, quality int) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", curerr.ErrDecode, err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty %s image", curerr.ErrDecode, format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("%w: %w", curerr.ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// TransformedFilename is the descriptive filename of a canonical image.
func TransformedFilename(objectID string) string {
	return objectID + "_transformed.jpg"
}

// Run transforms every eligible record. Per-record fetch, decode, encode and
// store failures are recorded and skipped; metadata failures abort.
func (t *Transformer) Run(ctx context.Context) (*TransformReport, error) {
	start := time.Now()
	logger := loggerOr(t.Logger)

	report := &TransformReport{BatchReport: BatchReport{Stage: StageTransform}}
	defer func() { report.Duration = time.Since(start) }()

	records, err := t.Meta.ScanAll(ctx)
	if err != nil {
		return report, storeErr(StageTransform, "scan records", err)
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return report, curerr.Fatal(err)
		}
		rec := &records[i]

		switch {
		case rec.TransformedBlobID != "":
			report.Skipped++
			report.skip(rec.RecordID, "already transformed")
			continue
		case rec.OriginalBlobID == "":
			report.Skipped++
			report.skip(rec.RecordID, "no original image")
			continue
		}

		if err := t.transformOne(ctx, rec); err != nil {
			if curerr.IsFatal(err) {
				return report, err
			}
			report.Failed++
			report.fail(rec.RecordID, err)
			logger.Warn("Skipping record", "record_id", rec.RecordID, "object_id", rec.ObjectID, "error", err)
			continue
		}
		report.Transformed++
		report.success(rec.RecordID)
	}

	logger.Info("Transform complete", "transformed", report.Transformed, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// transformOne produces and links the canonical image of rec. The new blob is
// linked only after it is stored; if linking fails the blob is removed again.
func (t *Transformer) transformOne(ctx context.Context, rec *metadata.ArtworkRecord) error {
	size, quality := t.Size, t.Quality
	if size <= 0 {
		size = DefaultImageSize
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}

	data, err := t.Blobs.Get(ctx, rec.OriginalBlobID)
	if err != nil {
		return recordErr(StageTransform, rec.RecordID, "get original blob", err)
	}

	canonical, err := Canonicalize(data, size, quality)
	if err != nil {
		return recordErr(StageTransform, rec.RecordID, "canonicalize", err)
	}

	blobID, err := t.Blobs.Put(ctx, canonical, storage.TagTransformed, TransformedFilename(rec.ObjectID))
	if err != nil {
		return recordErr(StageTransform, rec.RecordID, "put transformed blob", err)
	}

	err = t.Meta.UpdateFields(ctx, rec.RecordID, map[string]string{
		metadata.FieldTransformedBlobID: blobID,
	})
	if err != nil {
		if derr := t.Blobs.Delete(ctx, blobID); derr != nil {
			loggerOr(t.Logger).Warn("Failed to remove unlinked blob", "blob_id", blobID, "error", derr)
		} else {
			metrics.BlobsDeletedTotal.WithLabelValues("rollback").Inc()
		}
		if curerr.IsNotFound(err) {
			return recordErr(StageTransform, rec.RecordID, "link transformed blob", err)
		}
		return storeErr(StageTransform, "link transformed blob for "+rec.RecordID, err)
	}
	return nil
}
