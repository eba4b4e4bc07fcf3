package curation

import (
	"context"
	"fmt"

	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/metrics"
)

// Summary is the per-split record count of a store.
type Summary struct {
	Records    int `json:"records"`
	Unassigned int `json:"unassigned"`
	Train      int `json:"train"`
	Validation int `json:"validation"`
	Test       int `json:"test"`
}

// Summarize counts records per split with the store's group-by query and
// publishes the counts to the split gauge.
func Summarize(ctx context.Context, meta metadata.MetadataStore) (*Summary, error) {
	groups, err := meta.GroupByField(ctx, metadata.FieldSplit)
	if err != nil {
		return nil, fmt.Errorf("grouping by split: %w", err)
	}

	s := &Summary{}
	for _, g := range groups {
		s.Records += g.Count
		switch metadata.NormalizeSplit(g.Key) {
		case metadata.SplitUnassigned:
			s.Unassigned += g.Count
		case metadata.SplitTrain:
			s.Train += g.Count
		case metadata.SplitValidation:
			s.Validation += g.Count
		case metadata.SplitTest:
			s.Test += g.Count
		}
	}

	metrics.SplitRecords.WithLabelValues(string(metadata.SplitUnassigned)).Set(float64(s.Unassigned))
	metrics.SplitRecords.WithLabelValues(string(metadata.SplitTrain)).Set(float64(s.Train))
	metrics.SplitRecords.WithLabelValues(string(metadata.SplitValidation)).Set(float64(s.Validation))
	metrics.SplitRecords.WithLabelValues(string(metadata.SplitTest)).Set(float64(s.Test))
	return s, nil
}
