package analysis

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/filename"
	"github.com/tphakala/soundbird/internal/lifecycle"
	"github.com/tphakala/soundbird/internal/notify"
)

// fakeAnalyzer returns perFile detections for every file unless the file is
// listed in failFor.
type fakeAnalyzer struct {
	mu      sync.Mutex
	perFile int
	failFor map[string]bool
	calls   []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, path string, _, _ float64) ([]datastore.Detection, error) {
	name := filepath.Base(path)

	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	if f.failFor[strings.ToLower(name)] {
		return nil, fmt.Errorf("classifier crashed on %s", name)
	}

	detections := make([]datastore.Detection, 0, f.perFile)
	for i := range f.perFile {
		start := float64(i * 3)
		at, err := filename.DetectionTime(name, start)
		if err != nil {
			return nil, err
		}
		detections = append(detections, datastore.Detection{
			DetectionTime:  at,
			Species:        "Blue Jay",
			ScientificName: "Cyanocitta cristata",
			Confidence:     0.8,
			StartSec:       start,
			EndSec:         start + 3,
		})
	}
	return detections, nil
}

func (f *fakeAnalyzer) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.RecordingEvent
}

func (n *fakeNotifier) PublishRecording(_ context.Context, ev notify.RecordingEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

type fakeObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *fakeObserver) ObserveFile(outcome string, _ time.Duration, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

type testEnv struct {
	store     *datastore.Store
	analyzer  *fakeAnalyzer
	notifier  *fakeNotifier
	observer  *fakeObserver
	processor *Processor
	tempDir   string
}

func newTestEnv(t *testing.T, analyzer *fakeAnalyzer) *testEnv {
	t.Helper()
	store, err := datastore.Open(context.Background(), &conf.DatabaseSettings{
		URL: "sqlite:///" + filepath.Join(t.TempDir(), "analysis.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store:    store,
		analyzer: analyzer,
		notifier: &fakeNotifier{},
		observer: &fakeObserver{},
		tempDir:  t.TempDir(),
	}
	env.processor = NewProcessor(
		Config{TempDir: env.tempDir, StrictFilenames: true, NodeName: "test-node"},
		analyzer,
		lifecycle.NewManager(store.Recordings(), nil),
		store.Detections(),
		nil,
		WithNotifier(env.notifier),
		WithObserver(env.observer),
	)
	return env
}

func (e *testEnv) recordings(t *testing.T) []datastore.Recording {
	t.Helper()
	recs, err := e.store.Recordings().List(context.Background(), nil, 0, 100)
	require.NoError(t, err)
	return recs
}

// zipBytes builds an archive with members written in the given order.
func zipBytes(t *testing.T, members ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("RIFF not really audio"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}
