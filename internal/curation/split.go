package curation

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
)

// Split defaults: 20% test, then 20% of the remainder validation.
const (
	DefaultSeed               = 42
	DefaultTestFraction       = 0.2
	DefaultValidationFraction = 0.2
)

// SplitReport summarizes a split pass. Train, Validation and Test count the
// labels written in this pass; AlreadyAssigned counts records that kept an
// earlier label.
type SplitReport struct {
	BatchReport
	Seed            int64 `json:"seed"`
	Train           int   `json:"train"`
	Validation      int   `json:"validation"`
	Test            int   `json:"test"`
	AlreadyAssigned int   `json:"already_assigned"`
}

// Partition deterministically splits ids into train, validation and test.
// ids are sorted first so the result depends only on the set and the seed.
// The test share is ceil(testFrac*n); the validation share is
// ceil(valFrac*m) of the remaining m.
func Partition(ids []string, seed int64, testFrac, valFrac float64) (train, validation, test []string) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	pool := append([]string(nil), ids...)
	sort.Strings(pool)

	rand.New(rand.NewSource(seed)).Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	nTest := share(len(pool), testFrac)
	test, rest := pool[:nTest], pool[nTest:]

	rand.New(rand.NewSource(seed)).Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
	nVal := share(len(rest), valFrac)
	validation, train = rest[:nVal], rest[nVal:]
	return train, validation, test
}

// share returns ceil(frac*n), clamped to [0, n]. The epsilon absorbs
// float error such as 0.2*80 landing just above 16.
func share(n int, frac float64) int {
	k := int(math.Ceil(frac*float64(n) - 1e-9))
	if k < 0 {
		return 0
	}
	if k > n {
		return n
	}
	return k
}

// SplitAssigner assigns train/validation/test to transformed records. A
// record's split is written once; records already assigned are left alone.
//
// The partition is always computed over every transformed record, assigned
// or not, so a pass that stopped partway and is rerun with the same seed
// ends with the same membership as an uninterrupted pass.
type SplitAssigner struct {
	Meta               metadata.MetadataStore
	Seed               int64
	TestFraction       float64
	ValidationFraction float64
	Logger             *slog.Logger
}

// Run partitions the transformed records and persists the label of every
// one that is still unassigned.
func (s *SplitAssigner) Run(ctx context.Context) (*SplitReport, error) {
	start := time.Now()
	logger := loggerOr(s.Logger)

	report := &SplitReport{BatchReport: BatchReport{Stage: StageSplit}, Seed: s.Seed}
	defer func() { report.Duration = time.Since(start) }()

	records, err := s.Meta.ScanAll(ctx)
	if err != nil {
		return report, storeErr(StageSplit, "scan records", err)
	}

	var transformed []string
	pending := make(map[string]bool)
	for i := range records {
		rec := &records[i]
		switch {
		case rec.TransformedBlobID == "":
			report.skip(rec.RecordID, "not transformed")
		case rec.Split.Assigned():
			transformed = append(transformed, rec.RecordID)
			report.AlreadyAssigned++
			report.skip(rec.RecordID, "already assigned "+string(rec.Split))
		default:
			transformed = append(transformed, rec.RecordID)
			pending[rec.RecordID] = true
		}
	}

	if len(pending) == 0 {
		logger.Info("No records to split")
		return report, nil
	}

	train, validation, test := Partition(transformed, s.Seed, s.TestFraction, s.ValidationFraction)
	for _, part := range []struct {
		ids   []string
		split metadata.Split
		n     *int
	}{
		{test, metadata.SplitTest, &report.Test},
		{validation, metadata.SplitValidation, &report.Validation},
		{train, metadata.SplitTrain, &report.Train},
	} {
		for _, id := range part.ids {
			if !pending[id] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, curerr.Fatal(err)
			}
			if err := s.Meta.UpdateFields(ctx, id, map[string]string{metadata.FieldSplit: string(part.split)}); err != nil {
				return report, storeErr(StageSplit, "assign split to "+id, err)
			}
			report.success(id)
			*part.n++
		}
	}

	logger.Info("Split complete", "seed", s.Seed, "train", report.Train, "validation", report.Validation, "test", report.Test)
	return report, nil
}
