package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/soundbird/internal/errors"
)

func seedExportSource(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	src := newTestStore(t)

	for _, name := range []string{"20231001_123456.wav", "20231002_060000.wav", "20231003_070000.wav"} {
		rec := createTestRecording(t, src, name)
		_, err := src.Detections().InsertBatch(ctx, []Detection{
			testDetection(rec.ID, "Blue Jay", 0.8, 0),
			testDetection(rec.ID, "American Crow", 0.6, 3),
		})
		require.NoError(t, err)
	}
	// a gap in the id sequence must survive the copy
	deleted, err := src.Recordings().Delete(ctx, 2)
	require.NoError(t, err)
	require.True(t, deleted)
	return src
}

func TestExportCopiesRowsWithIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := seedExportSource(t)
	dst := newTestStore(t)

	stats, err := Export(ctx, src, dst, 3)
	require.NoError(t, err)
	require.Len(t, stats.Tables, 2)
	assert.Equal(t, "recordings", stats.Tables[0].Name)
	assert.EqualValues(t, 2, stats.Tables[0].Copied)
	assert.Equal(t, "detections", stats.Tables[1].Name)
	assert.EqualValues(t, 4, stats.Tables[1].Copied)
	assert.Zero(t, stats.Tables[1].Failed)

	rec, err := dst.Recordings().Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "20231003_070000.wav", rec.FileName)
	_, err = dst.Recordings().Get(ctx, 2)
	require.ErrorIs(t, err, ErrRecordingNotFound)

	detections, err := dst.Detections().ListByRecording(ctx, 3)
	require.NoError(t, err)
	require.Len(t, detections, 2)
	assert.Equal(t, "Blue Jay", detections[0].Species)

	require.NoError(t, VerifyExport(ctx, src, dst, 10))

	// ids keep counting from the copied maximum
	next := createTestRecording(t, dst, "20231004_080000.wav")
	assert.Greater(t, next.ID, uint(3))
}

func TestExportIsRerunnable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := seedExportSource(t)
	dst := newTestStore(t)

	_, err := Export(ctx, src, dst, 0)
	require.NoError(t, err)

	stats, err := Export(ctx, src, dst, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Tables[0].Copied)
	assert.EqualValues(t, 2, stats.Tables[0].Skipped)
	assert.EqualValues(t, 4, stats.Tables[1].Skipped)
	require.NoError(t, VerifyExport(ctx, src, dst, 10))
}

func TestExportRejectsHugeBatches(t *testing.T) {
	t.Parallel()
	src := newTestStore(t)
	dst := newTestStore(t)

	_, err := Export(context.Background(), src, dst, MaxExportBatchSize+1)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestVerifyExportDetectsMissingRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := seedExportSource(t)
	dst := newTestStore(t)

	_, err := Export(ctx, src, dst, 0)
	require.NoError(t, err)
	deleted, err := dst.Detections().Delete(ctx, 1)
	require.NoError(t, err)
	require.True(t, deleted)

	err = VerifyExport(ctx, src, dst, 10)
	require.ErrorIs(t, err, ErrExportMismatch)
}
