// Package serialization handles record manifest export/import between a
// MetadataStore and JSON.
package serialization

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/artcurate/artcurate/internal/metadata"
)

const (
	Version       = "0.1.0"
	ExportVersion = 1
)

// envelopeKey names the header object of a manifest.
const envelopeKey = "artcurate_export"

// recordFields lists every field written per record, in column order.
var recordFields = []string{
	metadata.FieldRecordID,
	metadata.FieldObjectID,
	metadata.FieldTitle,
	metadata.FieldArtist,
	metadata.FieldDepartment,
	metadata.FieldCulture,
	metadata.FieldPeriod,
	metadata.FieldObjectDate,
	metadata.FieldMedium,
	metadata.FieldSource,
	metadata.FieldOriginalBlobID,
	metadata.FieldTransformedBlobID,
	metadata.FieldSplit,
	metadata.FieldCreatedAt,
}

// ExportOptions configures what to export.
type ExportOptions struct {
	// Splits restricts the export to records with these labels. Empty
	// exports every record.
	Splits []metadata.Split
}

// ImportOptions configures how to import.
type ImportOptions struct {
	// Replace deletes every existing record before inserting.
	Replace bool
}

// ImportResult holds the result of an import operation.
type ImportResult struct {
	Inserted int
	Deleted  int
	Skipped  int
	Warnings []string
}

// ExportManifest exports records from meta to a JSON string in scan order.
func ExportManifest(ctx context.Context, meta metadata.MetadataStore, opts *ExportOptions) (string, error) {
	if opts == nil {
		opts = &ExportOptions{}
	}
	want := make(map[metadata.Split]bool, len(opts.Splits))
	for _, s := range opts.Splits {
		if !s.Valid() {
			return "", fmt.Errorf("invalid split filter %q", s)
		}
		want[s] = true
	}

	records, err := meta.ScanAll(ctx)
	if err != nil {
		return "", fmt.Errorf("scanning records: %w", err)
	}

	rows := make([]any, 0, len(records))
	for i := range records {
		rec := &records[i]
		if len(want) > 0 && !want[metadata.NormalizeSplit(string(rec.Split))] {
			continue
		}
		rows = append(rows, recordRow(rec))
	}

	header := map[string]any{
		"version":      ExportVersion,
		"exported_at":  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		"source":       "go/" + Version,
		"record_count": len(rows),
	}
	if len(opts.Splits) > 0 {
		splits := make([]any, len(opts.Splits))
		for i, s := range opts.Splits {
			splits[i] = string(s)
		}
		header["splits"] = splits
	}

	return marshalSorted(map[string]any{
		envelopeKey: header,
		"records":   rows,
	})
}

// recordRow converts a record to its manifest row.
func recordRow(rec *metadata.ArtworkRecord) map[string]any {
	row := make(map[string]any, len(recordFields))
	for _, name := range recordFields {
		if name == metadata.FieldCreatedAt {
			row[name] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
			continue
		}
		v, _ := rec.Field(name)
		row[name] = v
	}
	return row
}

// parseRow rebuilds a record from a manifest row. Unknown keys produce
// warnings and are ignored.
func parseRow(row map[string]any) (*metadata.ArtworkRecord, []string, error) {
	rec := &metadata.ArtworkRecord{}
	var warnings []string
	for key, raw := range row {
		if raw == nil {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			return nil, nil, fmt.Errorf("field %q: expected string, got %T", key, raw)
		}
		switch key {
		case metadata.FieldRecordID:
			rec.RecordID = value
		case metadata.FieldCreatedAt:
			if value == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return nil, nil, fmt.Errorf("field %q: %w", key, err)
			}
			rec.CreatedAt = t
		default:
			if err := rec.SetField(key, value); err != nil {
				warnings = append(warnings, fmt.Sprintf("Ignored unknown field %q", key))
			}
		}
	}
	rec.Split = metadata.NormalizeSplit(string(rec.Split))
	if !rec.Split.Valid() {
		return nil, nil, fmt.Errorf("invalid split %q", rec.Split)
	}
	return rec, warnings, nil
}

// ImportManifest imports records from a JSON manifest into meta. Without
// Replace, rows whose record_id already exists are skipped, so importing
// the same manifest twice is idempotent.
func ImportManifest(ctx context.Context, meta metadata.MetadataStore, jsonStr string, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	envelope, _ := data[envelopeKey].(map[string]any)
	version, _ := envelope["version"].(float64)
	if version < 1 || version > ExportVersion {
		return nil, fmt.Errorf("unsupported export version: %v", version)
	}
	rowList, _ := data["records"].([]any)

	existing, err := meta.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}

	result := &ImportResult{}
	seen := make(map[string]bool, len(existing))
	if opts.Replace {
		for _, rec := range existing {
			if err := meta.Delete(ctx, rec.RecordID); err != nil {
				return result, fmt.Errorf("deleting record %s: %w", rec.RecordID, err)
			}
			result.Deleted++
		}
	} else {
		for _, rec := range existing {
			seen[rec.RecordID] = true
		}
	}

	for i, raw := range rowList {
		rowMap, ok := raw.(map[string]any)
		if !ok {
			result.Skipped++
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped row %d: not an object", i))
			continue
		}
		rec, warnings, err := parseRow(rowMap)
		if err != nil {
			result.Skipped++
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped row %d: %v", i, err))
			continue
		}
		result.Warnings = append(result.Warnings, warnings...)

		if rec.RecordID != "" && seen[rec.RecordID] {
			result.Skipped++
			continue
		}
		id, err := meta.Insert(ctx, rec)
		if err != nil {
			return result, fmt.Errorf("inserting row %d: %w", i, err)
		}
		seen[id] = true
		result.Inserted++
	}

	return result, nil
}

// marshalSorted produces JSON with sorted keys, 2-space indent.
func marshalSorted(data map[string]any) (string, error) {
	b, err := json.MarshalIndent(sortedMap(data), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sortedMap is a map that marshals with sorted keys.
type sortedMap map[string]any

func (m sortedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')

		valBytes, err := marshalValue(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func marshalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		return sortedMap(val).MarshalJSON()
	case []any:
		buf := []byte{'['}
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			b, err := marshalValue(elem)
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(v)
	}
}
