package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/soundbird/internal/conf"
)

// newTestStore opens a migrated SQLite store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	settings := &conf.DatabaseSettings{
		URL: "sqlite:///" + filepath.Join(t.TempDir(), "soundbird.db"),
	}
	store, err := Open(context.Background(), settings, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestRecording(t *testing.T, store *Store, name string) *Recording {
	t.Helper()
	recordedAt := time.Date(2023, 10, 1, 12, 34, 56, 0, time.Local)
	rec := &Recording{FileName: name, RecordingDatetime: &recordedAt, Lat: 48.43, Lon: -123.47}
	require.NoError(t, store.Recordings().Create(context.Background(), rec))
	return rec
}

func testDetection(recordingID uint, species string, confidence, startSec float64) Detection {
	base := time.Date(2023, 10, 1, 12, 34, 56, 0, time.Local)
	return Detection{
		RecordingID:    recordingID,
		DetectionTime:  base.Add(time.Duration(startSec * float64(time.Second))),
		Species:        species,
		ScientificName: species + " sp.",
		Confidence:     confidence,
		StartSec:       startSec,
		EndSec:         startSec + 3,
	}
}
