package curation

import (
	"context"
	"log/slog"
	"time"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/metrics"
	"github.com/artcurate/artcurate/internal/storage"
)

// DuplicateGroup describes one collapsed set of records sharing an object ID.
type DuplicateGroup struct {
	ObjectID string   `json:"object_id"`
	Survivor string   `json:"survivor"`
	Losers   []string `json:"losers"`
	Removed  int      `json:"removed"`
}

// DedupReport summarizes a deduplication pass. A group of N members yields
// N-1 original blob delete attempts; transformed blobs of losers are counted
// separately.
type DedupReport struct {
	BatchReport
	Groups             []DuplicateGroup `json:"groups,omitempty"`
	Removed            int              `json:"removed"`
	OriginalDeletes    BlobDeletes      `json:"original_deletes"`
	TransformedDeletes BlobDeletes      `json:"transformed_deletes"`
}

// BlobDeletes counts best-effort blob deletions of one tag.
type BlobDeletes struct {
	Attempted int `json:"attempted"`
	Failed    int `json:"failed"`
}

// Deduplicator keeps one record per object ID. The survivor of each group is
// its first member in scan order: earliest created_at, then lowest record_id.
type Deduplicator struct {
	Meta   metadata.MetadataStore
	Blobs  storage.BlobStore
	Logger *slog.Logger
}

// Run collapses every object_id group with more than one member.
func (d *Deduplicator) Run(ctx context.Context) (*DedupReport, error) {
	start := time.Now()
	logger := loggerOr(d.Logger)

	report := &DedupReport{BatchReport: BatchReport{Stage: StageDedup}}
	defer func() { report.Duration = time.Since(start) }()

	records, err := d.Meta.ScanAll(ctx)
	if err != nil {
		return report, storeErr(StageDedup, "scan records", err)
	}
	byID := make(map[string]*metadata.ArtworkRecord, len(records))
	for i := range records {
		byID[records[i].RecordID] = &records[i]
	}

	groups, err := d.Meta.GroupByField(ctx, metadata.FieldObjectID)
	if err != nil {
		return report, storeErr(StageDedup, "group by object_id", err)
	}

	for _, g := range groups {
		if len(g.MemberIDs) < 2 {
			continue
		}
		group := DuplicateGroup{ObjectID: g.Key, Survivor: g.MemberIDs[0]}
		for _, loser := range g.MemberIDs[1:] {
			if err := ctx.Err(); err != nil {
				return report, curerr.Fatal(err)
			}
			if err := d.Meta.Delete(ctx, loser); err != nil && !curerr.IsNotFound(err) {
				return report, storeErr(StageDedup, "delete record "+loser, err)
			}
			group.Losers = append(group.Losers, loser)
			group.Removed++
			report.Results = append(report.Results, Result{RecordID: loser, Outcome: OutcomeSuccess, Reason: "duplicate of " + group.Survivor})

			rec, ok := byID[loser]
			if !ok {
				continue
			}
			if rec.OriginalBlobID != "" {
				d.deleteBlob(ctx, logger, &report.OriginalDeletes, loser, rec.OriginalBlobID)
			}
			if rec.TransformedBlobID != "" {
				d.deleteBlob(ctx, logger, &report.TransformedDeletes, loser, rec.TransformedBlobID)
			}
		}

		report.Removed += group.Removed
		report.Groups = append(report.Groups, group)
		logger.Debug("Collapsed duplicate group", "object_id", group.ObjectID, "survivor", group.Survivor, "removed", group.Removed)
	}

	logger.Info("Deduplication complete", "groups", len(report.Groups), "removed", report.Removed,
		"original_deletes", report.OriginalDeletes.Attempted, "transformed_deletes", report.TransformedDeletes.Attempted,
		"blob_delete_failures", report.OriginalDeletes.Failed+report.TransformedDeletes.Failed)
	return report, nil
}

// deleteBlob removes a loser's blob. Failures are logged and counted but
// never abort the pass.
func (d *Deduplicator) deleteBlob(ctx context.Context, logger *slog.Logger, counts *BlobDeletes, recordID, blobID string) {
	counts.Attempted++
	if err := d.Blobs.Delete(ctx, blobID); err != nil && !curerr.IsNotFound(err) {
		counts.Failed++
		logger.Warn("Failed to delete duplicate blob", "record_id", recordID, "blob_id", blobID, "error", err)
		return
	}
	metrics.BlobsDeletedTotal.WithLabelValues("duplicate").Inc()
}
