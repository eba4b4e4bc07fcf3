package curation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
)

// addTransformed inserts n records that already carry a transformed blob.
func (f *fixture) addTransformed(t *testing.T, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := f.meta.Insert(ctx, &metadata.ArtworkRecord{
			RecordID:          fmt.Sprintf("rec-%03d", i),
			ObjectID:          fmt.Sprint(1000 + i),
			TransformedBlobID: fmt.Sprintf("transformed/%032d", i),
			CreatedAt:         epoch,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func membership(t *testing.T, f *fixture) map[string]metadata.Split {
	t.Helper()
	records, err := f.meta.ScanAll(context.Background())
	require.NoError(t, err)
	out := make(map[string]metadata.Split, len(records))
	for _, r := range records {
		out[r.ObjectID] = r.Split
	}
	return out
}

func TestPartitionHundred(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("r%03d", i)
	}
	train, validation, test := Partition(ids, 42, 0.2, 0.2)
	require.Len(t, train, 64)
	require.Len(t, validation, 16)
	require.Len(t, test, 20)

	seen := make(map[string]bool)
	for _, part := range [][]string{train, validation, test} {
		for _, id := range part {
			require.False(t, seen[id], "id %s assigned twice", id)
			seen[id] = true
		}
	}
	require.Len(t, seen, 100)
}

func TestPartitionDependsOnSetNotOrder(t *testing.T) {
	ids := []string{"e", "a", "d", "c", "b", "f", "g", "h", "i", "j"}
	reversed := make([]string, len(ids))
	for i, id := range ids {
		reversed[len(ids)-1-i] = id
	}
	tr1, v1, te1 := Partition(ids, 7, 0.2, 0.2)
	tr2, v2, te2 := Partition(reversed, 7, 0.2, 0.2)
	require.Equal(t, tr1, tr2)
	require.Equal(t, v1, v2)
	require.Equal(t, te1, te2)
	require.Equal(t, []string{"e", "a", "d", "c", "b", "f", "g", "h", "i", "j"}, ids, "input must not be reordered")
}

func TestPartitionSmallSets(t *testing.T) {
	tests := []struct {
		n                   int
		train, val, testCnt int
	}{
		{0, 0, 0, 0},
		{1, 0, 0, 1},
		{2, 0, 1, 1},
		{5, 3, 1, 1},
		{10, 6, 2, 2},
	}
	for _, tt := range tests {
		ids := make([]string, tt.n)
		for i := range ids {
			ids[i] = fmt.Sprint(i)
		}
		train, val, test := Partition(ids, 42, 0.2, 0.2)
		require.Len(t, train, tt.train, "n=%d train", tt.n)
		require.Len(t, val, tt.val, "n=%d validation", tt.n)
		require.Len(t, test, tt.testCnt, "n=%d test", tt.n)
	}
}

func TestSplitAssignerHundredDeterministic(t *testing.T) {
	run := func() (map[string]metadata.Split, *SplitReport) {
		f := newFixture(t)
		f.addTransformed(t, 100)
		s := &SplitAssigner{Meta: f.meta, Seed: 42, TestFraction: 0.2, ValidationFraction: 0.2, Logger: quiet()}
		report, err := s.Run(context.Background())
		require.NoError(t, err)
		return membership(t, f), report
	}

	first, report := run()
	require.Equal(t, 64, report.Train)
	require.Equal(t, 16, report.Validation)
	require.Equal(t, 20, report.Test)
	require.Equal(t, 100, report.Train+report.Validation+report.Test)

	second, _ := run()
	require.Equal(t, first, second)
}

func TestSplitAssignerEmpty(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "not-transformed", 0, nil)

	s := &SplitAssigner{Meta: f.meta, Seed: 42, TestFraction: 0.2, ValidationFraction: 0.2, Logger: quiet()}
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Train)
	require.Zero(t, report.Validation)
	require.Zero(t, report.Test)
}

func TestSplitAssignerOnlyTransformedRecords(t *testing.T) {
	f := newFixture(t)
	f.addTransformed(t, 10)
	plain := f.addRecord(t, "plain", 5, nil)

	s := &SplitAssigner{Meta: f.meta, Seed: 42, TestFraction: 0.2, ValidationFraction: 0.2, Logger: quiet()}
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	records, err := f.meta.ScanAll(context.Background())
	require.NoError(t, err)
	for _, r := range records {
		if r.TransformedBlobID == "" {
			require.Equal(t, metadata.SplitUnassigned, r.Split, "record %s", r.RecordID)
		} else {
			require.True(t, r.Split.Assigned(), "record %s", r.RecordID)
		}
	}
	require.Equal(t, metadata.SplitUnassigned, f.get(t, plain).Split)
}

func TestSplitAssignerAssignsOnce(t *testing.T) {
	f := newFixture(t)
	f.addTransformed(t, 20)
	s := &SplitAssigner{Meta: f.meta, Seed: 42, TestFraction: 0.2, ValidationFraction: 0.2, Logger: quiet()}

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	before := membership(t, f)

	// A different seed on rerun must not move already-assigned records.
	s.Seed = 99
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 20, report.AlreadyAssigned)
	require.Zero(t, report.Train+report.Validation+report.Test)
	require.Equal(t, before, membership(t, f))
}

func countSplits(m map[string]metadata.Split) map[metadata.Split]int {
	out := make(map[metadata.Split]int)
	for _, sp := range m {
		out[sp]++
	}
	return out
}

func TestSplitAssignerResumesAfterAbort(t *testing.T) {
	reference := newFixture(t)
	reference.addTransformed(t, 100)
	s := &SplitAssigner{Meta: reference.meta, Seed: 42, TestFraction: 0.2, ValidationFraction: 0.2, Logger: quiet()}
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	want := membership(t, reference)

	f := newFixture(t)
	f.addTransformed(t, 100)
	writes := 0
	meta := &failingMeta{MetadataStore: f.meta, failUpdate: func(_ string, fields map[string]string) bool {
		if _, ok := fields[metadata.FieldSplit]; !ok {
			return false
		}
		writes++
		return writes > 30
	}}
	s = &SplitAssigner{Meta: meta, Seed: 42, TestFraction: 0.2, ValidationFraction: 0.2, Logger: quiet()}
	report, err := s.Run(context.Background())
	require.True(t, curerr.IsFatal(err))
	require.Equal(t, 30, report.Count(OutcomeSuccess))

	s.Meta = f.meta
	report, err = s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30, report.AlreadyAssigned)
	require.Equal(t, 70, report.Train+report.Validation+report.Test)

	got := membership(t, f)
	require.Equal(t, want, got)
	require.Equal(t, map[metadata.Split]int{
		metadata.SplitTrain:      64,
		metadata.SplitValidation: 16,
		metadata.SplitTest:       20,
	}, countSplits(got))
}
