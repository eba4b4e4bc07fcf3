package curation

import (
	"context"
	"log/slog"
	"time"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
)

// DefaultSentinel replaces empty descriptive fields.
const DefaultSentinel = "NA"

// CleanReport summarizes a cleaning pass.
type CleanReport struct {
	BatchReport
	Records      int `json:"records"`
	FieldsFilled int `json:"fields_filled"`
}

// Cleaner fills empty descriptive fields with a sentinel value.
type Cleaner struct {
	Meta     metadata.MetadataStore
	Sentinel string
	Logger   *slog.Logger
}

// CleanFields returns the descriptive field values of rec with empty values
// replaced by sentinel, and how many were replaced.
func CleanFields(rec *metadata.ArtworkRecord, sentinel string) (map[string]string, int) {
	fields := make(map[string]string, len(metadata.DescriptiveFields))
	filled := 0
	for _, name := range metadata.DescriptiveFields {
		v, _ := rec.Field(name)
		if v == "" {
			v = sentinel
			filled++
		}
		fields[name] = v
	}
	return fields, filled
}

// Run writes the five descriptive fields of every record, one update per
// record.
func (c *Cleaner) Run(ctx context.Context) (*CleanReport, error) {
	start := time.Now()
	logger := loggerOr(c.Logger)
	sentinel := c.Sentinel
	if sentinel == "" {
		sentinel = DefaultSentinel
	}

	report := &CleanReport{BatchReport: BatchReport{Stage: StageClean}}
	defer func() { report.Duration = time.Since(start) }()

	records, err := c.Meta.ScanAll(ctx)
	if err != nil {
		return report, storeErr(StageClean, "scan records", err)
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return report, curerr.Fatal(err)
		}
		rec := &records[i]
		fields, filled := CleanFields(rec, sentinel)
		if err := c.Meta.UpdateFields(ctx, rec.RecordID, fields); err != nil {
			return report, storeErr(StageClean, "update record "+rec.RecordID, err)
		}
		report.Records++
		report.FieldsFilled += filled
		report.success(rec.RecordID)
	}

	logger.Info("Cleaning complete", "records", report.Records, "fields_filled", report.FieldsFilled)
	return report, nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
