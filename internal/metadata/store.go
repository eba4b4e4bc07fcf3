// Package metadata defines the interface and implementations for the artwork
// metadata store: the mutable collection of ArtworkRecords the curation
// stages scan and update.
package metadata

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	curerr "github.com/artcurate/artcurate/internal/errors"
)

// Split is the dataset partition label of a record.
type Split string

// Split values. Records start unassigned; SplitAssigner sets the other three.
const (
	SplitUnassigned Split = "unassigned"
	SplitTrain      Split = "train"
	SplitValidation Split = "validation"
	SplitTest       Split = "test"
)

// Valid reports whether s is one of the four known labels.
func (s Split) Valid() bool {
	switch s {
	case SplitUnassigned, SplitTrain, SplitValidation, SplitTest:
		return true
	}
	return false
}

// Assigned reports whether s is train, validation or test.
func (s Split) Assigned() bool {
	return s.Valid() && s != SplitUnassigned
}

// NormalizeSplit maps the empty string (a missing field in document stores)
// to SplitUnassigned.
func NormalizeSplit(s string) Split {
	if s == "" {
		return SplitUnassigned
	}
	return Split(s)
}

// Record field names. These are the keys accepted by UpdateFields and
// GroupByField, and the column/attribute names used by every backend.
const (
	FieldRecordID          = "record_id"
	FieldObjectID          = "object_id"
	FieldTitle             = "title"
	FieldArtist            = "artist"
	FieldDepartment        = "department"
	FieldCulture           = "culture"
	FieldPeriod            = "period"
	FieldObjectDate        = "object_date"
	FieldMedium            = "medium"
	FieldSource            = "source"
	FieldOriginalBlobID    = "original_blob_id"
	FieldTransformedBlobID = "transformed_blob_id"
	FieldSplit             = "split"
	FieldCreatedAt         = "created_at"
)

// DescriptiveFields are the scalar fields normalized by the cleaning stage.
var DescriptiveFields = []string{FieldArtist, FieldCulture, FieldPeriod, FieldObjectDate, FieldMedium}

// UpdatableFields is the set of fields UpdateFields may write. RecordID and
// CreatedAt are immutable.
var UpdatableFields = map[string]bool{
	FieldObjectID:          true,
	FieldTitle:             true,
	FieldArtist:            true,
	FieldDepartment:        true,
	FieldCulture:           true,
	FieldPeriod:            true,
	FieldObjectDate:        true,
	FieldMedium:            true,
	FieldSource:            true,
	FieldOriginalBlobID:    true,
	FieldTransformedBlobID: true,
	FieldSplit:             true,
}

// ArtworkRecord is one curated artwork entry: descriptive metadata plus
// references into the blob store.
type ArtworkRecord struct {
	RecordID          string    `json:"record_id"`
	ObjectID          string    `json:"object_id"`
	Title             string    `json:"title,omitempty"`
	Artist            string    `json:"artist"`
	Department        string    `json:"department,omitempty"`
	Culture           string    `json:"culture"`
	Period            string    `json:"period"`
	ObjectDate        string    `json:"object_date"`
	Medium            string    `json:"medium"`
	Source            string    `json:"source,omitempty"`
	OriginalBlobID    string    `json:"original_blob_id,omitempty"`
	TransformedBlobID string    `json:"transformed_blob_id,omitempty"`
	Split             Split     `json:"split"`
	CreatedAt         time.Time `json:"created_at"`
}

// Field returns the string value of the named field.
func (r *ArtworkRecord) Field(name string) (string, error) {
	switch name {
	case FieldRecordID:
		return r.RecordID, nil
	case FieldObjectID:
		return r.ObjectID, nil
	case FieldTitle:
		return r.Title, nil
	case FieldArtist:
		return r.Artist, nil
	case FieldDepartment:
		return r.Department, nil
	case FieldCulture:
		return r.Culture, nil
	case FieldPeriod:
		return r.Period, nil
	case FieldObjectDate:
		return r.ObjectDate, nil
	case FieldMedium:
		return r.Medium, nil
	case FieldSource:
		return r.Source, nil
	case FieldOriginalBlobID:
		return r.OriginalBlobID, nil
	case FieldTransformedBlobID:
		return r.TransformedBlobID, nil
	case FieldSplit:
		return string(NormalizeSplit(string(r.Split))), nil
	}
	return "", fmt.Errorf("field %q: %w", name, curerr.ErrUnknownField)
}

// SetField assigns the named updatable field.
func (r *ArtworkRecord) SetField(name, value string) error {
	switch name {
	case FieldObjectID:
		r.ObjectID = value
	case FieldTitle:
		r.Title = value
	case FieldArtist:
		r.Artist = value
	case FieldDepartment:
		r.Department = value
	case FieldCulture:
		r.Culture = value
	case FieldPeriod:
		r.Period = value
	case FieldObjectDate:
		r.ObjectDate = value
	case FieldMedium:
		r.Medium = value
	case FieldSource:
		r.Source = value
	case FieldOriginalBlobID:
		r.OriginalBlobID = value
	case FieldTransformedBlobID:
		r.TransformedBlobID = value
	case FieldSplit:
		r.Split = NormalizeSplit(value)
	default:
		return fmt.Errorf("field %q: %w", name, curerr.ErrUnknownField)
	}
	return nil
}

// FieldGroup is one row of a GroupByField aggregation.
type FieldGroup struct {
	Key       string   `json:"key"`
	Count     int      `json:"count"`
	MemberIDs []string `json:"member_ids"`
}

// MetadataStore defines the operations the curation pipeline needs from the
// record store.
//
// Ordering contract: ScanAll returns records sorted ascending by CreatedAt,
// ties broken by ascending RecordID, and GroupByField lists MemberIDs in that
// same order with groups sorted by Key. Deduplication relies on this to pick
// its survivor.
type MetadataStore interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Insert stores a new record and returns its record ID. A non-empty
	// RecordID is kept if the backend accepts it; otherwise one is assigned.
	// A zero CreatedAt is set to the current time.
	Insert(ctx context.Context, rec *ArtworkRecord) (string, error)

	// ScanAll returns every live record in scan order.
	ScanAll(ctx context.Context) ([]ArtworkRecord, error)

	// UpdateFields writes the given fields on one record. Returns an error
	// wrapping ErrNotFound if the record does not exist and ErrUnknownField
	// if a field is not updatable.
	UpdateFields(ctx context.Context, recordID string, fields map[string]string) error

	// Delete removes one record. Returns an error wrapping ErrNotFound if
	// the record does not exist.
	Delete(ctx context.Context, recordID string) error

	// GroupByField aggregates records by the value of field.
	GroupByField(ctx context.Context, field string) ([]FieldGroup, error)
}

// ValidateUpdate checks that every key in fields is updatable and that a
// split value, if present, is a known label.
func ValidateUpdate(fields map[string]string) error {
	for name, value := range fields {
		if !UpdatableFields[name] {
			return fmt.Errorf("field %q: %w", name, curerr.ErrUnknownField)
		}
		if name == FieldSplit && !NormalizeSplit(value).Valid() {
			return fmt.Errorf("invalid split value %q", value)
		}
	}
	return nil
}

// ValidateGroupField checks that field can be used with GroupByField.
func ValidateGroupField(field string) error {
	if field == FieldRecordID || UpdatableFields[field] {
		return nil
	}
	return fmt.Errorf("group by %q: %w", field, curerr.ErrUnknownField)
}

// SortRecords orders records by CreatedAt, then RecordID.
func SortRecords(records []ArtworkRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.RecordID < b.RecordID
	})
}

// GroupRecords aggregates records (already in scan order) by field. Used by
// backends that have no native group-by returning member lists.
func GroupRecords(records []ArtworkRecord, field string) ([]FieldGroup, error) {
	if err := ValidateGroupField(field); err != nil {
		return nil, err
	}

	index := make(map[string]int)
	var groups []FieldGroup
	for i := range records {
		key, err := records[i].Field(field)
		if err != nil {
			return nil, err
		}
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, FieldGroup{Key: key})
		}
		groups[gi].Count++
		groups[gi].MemberIDs = append(groups[gi].MemberIDs, records[i].RecordID)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Key < groups[j].Key
	})
	return groups, nil
}

// prepareInsert fills defaults shared by all backends before a record is
// written.
func prepareInsert(rec *ArtworkRecord, newID func() string) ArtworkRecord {
	cp := *rec
	if cp.RecordID == "" {
		cp.RecordID = newID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.CreatedAt = cp.CreatedAt.UTC()
	cp.Split = NormalizeSplit(string(cp.Split))
	return cp
}
