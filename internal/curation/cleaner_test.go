package curation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	curerr "github.com/artcurate/artcurate/internal/errors"
	"github.com/artcurate/artcurate/internal/metadata"
)

func TestCleanerFillsEmptyFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	full, err := f.meta.Insert(ctx, &metadata.ArtworkRecord{
		ObjectID: "1", Artist: "Vincent van Gogh", Culture: "Dutch", Period: "Post-Impressionism",
		ObjectDate: "1889", Medium: "Oil on canvas",
	})
	require.NoError(t, err)
	sparse, err := f.meta.Insert(ctx, &metadata.ArtworkRecord{ObjectID: "2", Medium: "Bronze"})
	require.NoError(t, err)

	c := &Cleaner{Meta: f.meta, Logger: quiet()}
	report, err := c.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Records)
	require.Equal(t, 4, report.FieldsFilled)
	require.Equal(t, 2, report.Count(OutcomeSuccess))

	got := f.get(t, full)
	require.Equal(t, "Vincent van Gogh", got.Artist)
	require.Equal(t, "1889", got.ObjectDate)

	got = f.get(t, sparse)
	require.Equal(t, "NA", got.Artist)
	require.Equal(t, "NA", got.Culture)
	require.Equal(t, "NA", got.Period)
	require.Equal(t, "NA", got.ObjectDate)
	require.Equal(t, "Bronze", got.Medium)
	require.Equal(t, metadata.SplitUnassigned, got.Split)
}

func TestCleanerOneUpdatePerRecord(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addRecord(t, "obj", i, nil)
	}
	meta := &failingMeta{MetadataStore: f.meta}

	c := &Cleaner{Meta: meta, Sentinel: "Unknown", Logger: quiet()}
	_, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, meta.updateCalls)

	// Running again changes nothing but still writes each record.
	_, err = c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, meta.updateCalls)
}

func TestCleanFieldsTouchesOnlyDescriptiveFields(t *testing.T) {
	rec := &metadata.ArtworkRecord{ObjectID: "7", Title: "", Culture: "Greek"}
	fields, filled := CleanFields(rec, "NA")
	require.Equal(t, 4, filled)
	require.Len(t, fields, 5)
	require.NotContains(t, fields, metadata.FieldTitle)
	require.Equal(t, "Greek", fields[metadata.FieldCulture])
}

func TestCleanerStoreFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.addRecord(t, "1", 0, nil)
	meta := &failingMeta{MetadataStore: f.meta, failUpdate: func(string, map[string]string) bool { return true }}

	c := &Cleaner{Meta: meta, Logger: quiet()}
	_, err := c.Run(context.Background())
	require.Error(t, err)
	require.True(t, curerr.IsFatal(err))
}
