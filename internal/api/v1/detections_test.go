package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/soundbird/internal/datastore"
)

func TestListDetections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	base := time.Date(2023, 10, 1, 12, 34, 56, 0, time.Local)
	env.seedRecording(t, "20231001_123456.wav",
		detection("Blue Jay", 0.8, 0, base),
		detection("American Crow", 0.6, 3, base.Add(3*time.Second)),
		detection("Steller's Jay", 0.9, 6, base.Add(6*time.Second)),
	)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"species substring ignores case", "?species=blue", []string{"Blue Jay"}},
		{"species without match", "?species=Raven", []string{}},
		{"sort by confidence ascending", "?sort_by=confidence&sort_order=asc", []string{"American Crow", "Blue Jay", "Steller's Jay"}},
		{"sort by confidence descending", "?sort_by=confidence", []string{"Steller's Jay", "Blue Jay", "American Crow"}},
		{"sort by time with paging", "?sort_by=detection_time&sort_order=asc&skip=1&limit=1", []string{"American Crow"}},
		{"start date inclusive", "?sort_by=detection_time&sort_order=asc&start_date=2023-10-01T12:34:59", []string{"American Crow", "Steller's Jay"}},
		{"end date inclusive", "?sort_by=detection_time&sort_order=asc&end_date=2023-10-01T12:34:59", []string{"Blue Jay", "American Crow"}},
		{"date only bounds", "?sort_by=detection_time&sort_order=asc&start_date=2023-10-02", []string{}},
		{"limit zero", "?limit=0", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/detections"+tt.query, nil, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			got := decode[[]DetectionRecord](t, rec)
			species := make([]string, 0, len(got))
			for _, d := range got {
				species = append(species, d.Species)
			}
			assert.Equal(t, tt.want, species)
		})
	}
}

func TestListDetectionsRejectsBadParameters(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, query := range []string{
		"?skip=abc",
		"?limit=1.5",
		"?skip=-1",
		"?limit=-5",
		"?start_date=yesterday",
		"?end_date=2023-13-45",
	} {
		t.Run(query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/detections"+query, nil, "")
			assertErrorResponse(t, rec, http.StatusBadRequest)
		})
	}
}

func TestGetDetection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	at := time.Date(2023, 10, 1, 12, 35, 6, 0, time.Local)
	rec, stored := env.seedRecording(t, "20231001_123456.wav", detection("Blue Jay", 0.8, 10, at))
	id := stored[0].ID

	resp := env.do(t, http.MethodGet, "/api/detections/"+itoa(id), nil, "")
	require.Equal(t, http.StatusOK, resp.Code)
	got := decode[DetectionRecord](t, resp)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, rec.ID, got.RecordingID)
	assert.Equal(t, "Blue Jay", got.Species)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	assert.InDelta(t, 10.0, got.StartSec, 1e-9)
	assert.InDelta(t, 13.0, got.EndSec, 1e-9)
	assert.Equal(t, "20231001_123456.wav", got.FileName)
	assert.InDelta(t, 48.4, got.Lat, 1e-9)
	assert.True(t, at.Equal(got.DetectionTime))
	assert.False(t, got.CreatedAt.IsZero())

	t.Run("served from cache", func(t *testing.T) {
		// removed behind the API's back, the cached copy is still returned
		deleted, err := env.store.Detections().Delete(context.Background(), id)
		require.NoError(t, err)
		require.True(t, deleted)

		resp := env.do(t, http.MethodGet, "/api/detections/"+itoa(id), nil, "")
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("delete evicts cache", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/api/detections/"+itoa(id), nil, "")
		assertErrorResponse(t, resp, http.StatusNotFound)

		resp = env.do(t, http.MethodGet, "/api/detections/"+itoa(id), nil, "")
		assertErrorResponse(t, resp, http.StatusNotFound)
	})
}

func TestGetDetectionErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	assertErrorResponse(t, env.do(t, http.MethodGet, "/api/detections/999", nil, ""), http.StatusNotFound)
	assertErrorResponse(t, env.do(t, http.MethodGet, "/api/detections/abc", nil, ""), http.StatusBadRequest)
	assertErrorResponse(t, env.do(t, http.MethodGet, "/api/detections/0", nil, ""), http.StatusBadRequest)
}

func TestCreateDetections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec, _ := env.seedRecording(t, "20231001_123456.wav")

	payload := []map[string]any{
		{
			"recording_id":    rec.ID,
			"detection_time":  "2023-10-01T12:35:06",
			"species":         "Blue Jay",
			"scientific_name": "Cyanocitta cristata",
			"confidence":      0.8,
			"start_sec":       0.0,
			"end_sec":         1.0,
		},
		{
			"recording_id":    rec.ID,
			"detection_time":  "2023-10-01T12:35:09Z",
			"species":         "American Crow",
			"scientific_name": "Corvus brachyrhynchos",
			"confidence":      0.55,
			"start_sec":       3.0,
			"end_sec":         6.0,
			"sonogram_path":   "/data/sonograms/1.png",
		},
	}
	resp := env.doJSON(t, http.MethodPost, "/api/detections", payload)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	created := decode[[]DetectionRecord](t, resp)
	require.Len(t, created, 2)
	assert.NotZero(t, created[0].ID)
	assert.Equal(t, "Blue Jay", created[0].Species)
	assert.Equal(t, "20231001_123456.wav", created[0].FileName)
	assert.True(t, time.Date(2023, 10, 1, 12, 35, 6, 0, time.Local).Equal(created[0].DetectionTime))
	require.NotNil(t, created[1].SonogramPath)
	assert.Equal(t, "/data/sonograms/1.png", *created[1].SonogramPath)
	assert.Nil(t, created[0].SonogramPath)

	got, err := env.store.Detections().Get(context.Background(), created[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "American Crow", got.Species)
}

func TestCreateDetectionsRejectsInvalidBatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	rec, _ := env.seedRecording(t, "20231001_123456.wav")

	valid := map[string]any{
		"recording_id": rec.ID, "detection_time": "2023-10-01T12:35:06",
		"species": "Blue Jay", "confidence": 0.8, "start_sec": 0.0, "end_sec": 1.0,
	}
	with := func(key string, value any) map[string]any {
		m := map[string]any{}
		for k, v := range valid {
			m[k] = v
		}
		m[key] = value
		return m
	}

	tests := []struct {
		name    string
		payload any
	}{
		{"confidence above one", []any{valid, with("confidence", 1.5)}},
		{"end before start", []any{with("end_sec", 0.0)}},
		{"unknown recording", []any{with("recording_id", rec.ID+100)}},
		{"missing detection time", []any{with("detection_time", nil)}},
		{"malformed detection time", []any{with("detection_time", "soon")}},
		{"not an array", valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.doJSON(t, http.MethodPost, "/api/detections", tt.payload)
			assertErrorResponse(t, resp, http.StatusBadRequest)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/api/detections", strings.NewReader("[{"), "application/json")
		assertErrorResponse(t, resp, http.StatusBadRequest)
	})

	all, err := env.store.Detections().List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, all, "a rejected batch must not store anything")
}

func TestDeleteDetection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	_, stored := env.seedRecording(t, "20231001_123456.wav",
		detection("Blue Jay", 0.8, 0, time.Date(2023, 10, 1, 12, 34, 56, 0, time.Local)))

	resp := env.do(t, http.MethodDelete, "/api/detections/"+itoa(stored[0].ID), nil, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Empty(t, resp.Body.String())

	_, err := env.store.Detections().Get(context.Background(), stored[0].ID)
	require.ErrorIs(t, err, datastore.ErrDetectionNotFound)

	resp = env.do(t, http.MethodDelete, "/api/detections/"+itoa(stored[0].ID), nil, "")
	assertErrorResponse(t, resp, http.StatusNotFound)
}
