package curation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artcurate/artcurate/internal/config"
	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
	"github.com/artcurate/artcurate/internal/storage"
)

func defaultPipelineConfig() config.PipelineConfig {
	return config.Default().Pipeline
}

func TestPipelineEndToEnd(t *testing.T) {
	f := newFixture(t)
	img := pngBytes(t, 32, 24)
	f.addRecord(t, "X", 0, img)
	f.addRecord(t, "X", 1, img)
	f.addRecord(t, "A", 2, img)
	corrupt := f.addRecord(t, "B", 3, []byte("garbage"))
	f.addRecord(t, "C", 4, nil)

	p := New(f.meta, f.blobs, defaultPipelineConfig(), quiet())
	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, report.Error)
	require.Equal(t, DefaultStages, report.Stages)

	require.Equal(t, 5, report.Clean.Records)
	require.Equal(t, 1, report.Dedup.Removed)
	require.Equal(t, 2, report.Transform.Transformed)
	require.Equal(t, 1, report.Transform.Failed)
	require.Equal(t, 1, report.Transform.Skipped)
	require.Equal(t, 2, report.Split.Train+report.Split.Validation+report.Split.Test)

	require.Equal(t, 4, report.Summary.Records)
	require.Equal(t, 2, report.Summary.Unassigned)

	records, err := f.meta.ScanAll(context.Background())
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, r := range records {
		require.False(t, seen[r.ObjectID], "object_id %q not unique", r.ObjectID)
		seen[r.ObjectID] = true
		for _, name := range metadata.DescriptiveFields {
			v, _ := r.Field(name)
			require.NotEmpty(t, v, "record %s field %s", r.RecordID, name)
		}
		require.Equal(t, r.TransformedBlobID != "", r.Split.Assigned(), "record %s", r.RecordID)
	}
	require.Equal(t, metadata.SplitUnassigned, f.get(t, corrupt).Split)
}

func TestPipelineRerunIsStable(t *testing.T) {
	f := newFixture(t)
	for i, obj := range []string{"1", "2", "3", "4", "5", "6"} {
		f.addRecord(t, obj, i, pngBytes(t, 12, 12))
	}
	p := New(f.meta, f.blobs, defaultPipelineConfig(), quiet())

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	first := membership(t, f)
	blobCount := f.blobs.Len()

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Transform.Transformed)
	require.Zero(t, report.Dedup.Removed)
	require.Equal(t, 6, report.Split.AlreadyAssigned)
	require.Equal(t, first, membership(t, f))
	require.Equal(t, blobCount, f.blobs.Len())
}

func TestPipelineSelectedStages(t *testing.T) {
	f := newFixture(t)
	id := f.addRecord(t, "1", 0, pngBytes(t, 8, 8))

	cfg := defaultPipelineConfig()
	cfg.Stages = []string{"transform", "clean"}
	report, err := New(f.meta, f.blobs, cfg, quiet()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Stage{StageClean, StageTransform}, report.Stages)
	require.Nil(t, report.Dedup)
	require.Nil(t, report.Split)
	require.Equal(t, metadata.SplitUnassigned, f.get(t, id).Split)
}

func TestPipelineUnknownStage(t *testing.T) {
	f := newFixture(t)
	cfg := defaultPipelineConfig()
	cfg.Stages = []string{"clean", "upload"}
	_, err := New(f.meta, f.blobs, cfg, quiet()).Run(context.Background())
	require.ErrorContains(t, err, `unknown stage "upload"`)
}

type downBlobs struct{ storage.BlobStore }

func (downBlobs) HealthCheck(context.Context) error { return errors.New("no route to host") }

func TestPipelineAbortsWhenStoreUnreachable(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "1", 0, nil)

	report, err := New(f.meta, downBlobs{f.blobs}, defaultPipelineConfig(), quiet()).Run(context.Background())
	require.Error(t, err)
	require.True(t, curerr.IsFatal(err))
	require.Nil(t, report.Clean, "no stage should run")
	require.Contains(t, report.Error, "blob store unreachable")
}

func TestPipelineStopsAtFatalStage(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "1", 0, pngBytes(t, 8, 8))
	meta := &failingMeta{MetadataStore: f.meta, failUpdate: func(_ string, fields map[string]string) bool {
		_, ok := fields[metadata.FieldTransformedBlobID]
		return ok
	}}

	report, err := New(meta, f.blobs, defaultPipelineConfig(), quiet()).Run(context.Background())
	require.True(t, curerr.IsFatal(err))
	require.NotNil(t, report.Clean)
	require.NotNil(t, report.Transform)
	require.Nil(t, report.Split, "split must not run after a fatal transform")
}

func TestPipelineCanceled(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "1", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(f.meta, f.blobs, defaultPipelineConfig(), quiet()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultStages, stages)

	stages, err = ParseStages([]string{" Split ", "dedup"})
	require.NoError(t, err)
	require.Equal(t, []Stage{StageDedup, StageSplit}, stages)
}
