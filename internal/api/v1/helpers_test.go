package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/soundbird/internal/analysis"
	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/filename"
	"github.com/tphakala/soundbird/internal/lifecycle"
)

// stubAnalyzer returns two Blue Jay detections for every file.
type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(_ context.Context, path string, _, _ float64) ([]datastore.Detection, error) {
	name := filepath.Base(path)
	var out []datastore.Detection
	for i := range 2 {
		start := float64(i * 3)
		at, err := filename.DetectionTime(name, start)
		if err != nil {
			return nil, err
		}
		out = append(out, datastore.Detection{
			DetectionTime:  at,
			Species:        "Blue Jay",
			ScientificName: "Cyanocitta cristata",
			Confidence:     0.8,
			StartSec:       start,
			EndSec:         start + 3,
		})
	}
	return out, nil
}

type testEnv struct {
	echo  *echo.Echo
	store *datastore.Store
	ctrl  *Controller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := datastore.Open(context.Background(), &conf.DatabaseSettings{
		URL: "sqlite:///" + filepath.Join(t.TempDir(), "api.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	manager := lifecycle.NewManager(store.Recordings(), nil)
	processor := analysis.NewProcessor(analysis.Config{TempDir: t.TempDir(), StrictFilenames: true},
		stubAnalyzer{}, manager, store.Detections(), nil)

	e := echo.New()
	ctrl := New(e, store.Detections(), manager, processor, nil)
	return &testEnv{echo: e, store: store, ctrl: ctrl}
}

func newRequest(method, target string, body io.Reader, contentType string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	return req
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	return serve(env.echo, newRequest(method, target, body, contentType))
}

func (env *testEnv) doJSON(t *testing.T, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return env.do(t, method, target, bytes.NewReader(data), echo.MIMEApplicationJSON)
}

// seedRecording stores a completed recording with the given detections.
func (env *testEnv) seedRecording(t *testing.T, fileName string, detections ...datastore.Detection) (*datastore.Recording, []datastore.Detection) {
	t.Helper()
	ctx := context.Background()
	recordedAt, err := filename.DecodeStart(fileName)
	require.NoError(t, err)

	rec := &datastore.Recording{
		FileName:          fileName,
		RecordingDatetime: &recordedAt,
		Lat:               48.4,
		Lon:               -123.4,
		Status:            datastore.StatusPending,
	}
	require.NoError(t, env.store.Recordings().Create(ctx, rec))
	for i := range detections {
		detections[i].RecordingID = rec.ID
	}
	stored, err := env.store.Detections().InsertBatch(ctx, detections)
	require.NoError(t, err)
	return rec, stored
}

func detection(species string, confidence, start float64, at time.Time) datastore.Detection {
	return datastore.Detection{
		DetectionTime:  at,
		Species:        species,
		ScientificName: "Testus " + species,
		Confidence:     confidence,
		StartSec:       start,
		EndSec:         start + 3,
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// multipartUpload builds an analyze form. Empty lat or lon omits the field.
func multipartUpload(t *testing.T, fileName string, content []byte, lat, lon string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	if lat != "" {
		require.NoError(t, w.WriteField("lat", lat))
	}
	if lon != "" {
		require.NoError(t, w.WriteField("lon", lon))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func zipBytes(t *testing.T, files map[string][]byte, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func assertErrorResponse(t *testing.T, rec *httptest.ResponseRecorder, code int) ErrorResponse {
	t.Helper()
	require.Equal(t, code, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	require.Equal(t, code, resp.Code)
	require.Len(t, resp.CorrelationID, 36)
	return resp
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
