package curation

import (
	"context"
	"log/slog"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/metrics"
	"github.com/artcurate/artcurate/internal/storage"
)

// ReconcileReport summarizes an orphan sweep.
type ReconcileReport struct {
	DryRun     bool     `json:"dry_run"`
	Scanned    int      `json:"scanned"`
	Referenced int      `json:"referenced"`
	Orphans    []string `json:"orphans,omitempty"`
	Deleted    int      `json:"deleted"`
	Failed     int      `json:"failed"`
}

// Reconciler deletes blobs that no record references. Uploading a blob and
// linking it to a record are separate writes, so an interrupted run can
// leave unreferenced blobs behind.
type Reconciler struct {
	Meta   metadata.MetadataStore
	Blobs  storage.BlobStore
	Logger *slog.Logger
}

// Run lists every blob of every tag and removes the unreferenced ones. With
// dryRun set it only reports them.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*ReconcileReport, error) {
	logger := loggerOr(r.Logger)
	report := &ReconcileReport{DryRun: dryRun}

	records, err := r.Meta.ScanAll(ctx)
	if err != nil {
		return report, curerr.Fatal(err)
	}
	referenced := make(map[string]bool, 2*len(records))
	for i := range records {
		for _, id := range []string{records[i].OriginalBlobID, records[i].TransformedBlobID} {
			if id != "" {
				referenced[id] = true
			}
		}
	}

	for _, tag := range storage.Tags {
		blobs, err := r.Blobs.List(ctx, tag)
		if err != nil {
			return report, curerr.Fatal(err)
		}
		for _, b := range blobs {
			report.Scanned++
			if referenced[b.ID] {
				report.Referenced++
				continue
			}
			report.Orphans = append(report.Orphans, b.ID)
			if dryRun {
				continue
			}
			if err := r.Blobs.Delete(ctx, b.ID); err != nil {
				report.Failed++
				logger.Warn("Failed to delete orphan blob", "blob_id", b.ID, "error", err)
				continue
			}
			report.Deleted++
			metrics.BlobsDeletedTotal.WithLabelValues("orphan").Inc()
		}
	}

	logger.Info("Reconcile complete", "scanned", report.Scanned, "orphans", len(report.Orphans),
		"deleted", report.Deleted, "dry_run", dryRun)
	return report, nil
}
