package api

import (
	"strings"
	"time"

	"github.com/jinzhu/copier"

	"github.com/tphakala/soundbird/internal/analysis"
	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
)

// timeLayouts are accepted for timestamps in query parameters and request
// bodies. Layouts without a zone are read as local time.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime parses s with the first matching layout in timeLayouts.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("invalid timestamp %q", s).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// Timestamp is a time accepted in any of the timeLayouts.
type Timestamp time.Time

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	s := strings.Trim(string(data), `"`)
	parsed, err := parseTime(s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// DetectionRecord is a stored detection with its recording metadata flattened in.
type DetectionRecord struct {
	ID                uint       `json:"id"`
	RecordingID       uint       `json:"recording_id"`
	FileName          string     `json:"file_name"`
	RecordingDatetime *time.Time `json:"recording_datetime"`
	Lat               float64    `json:"lat"`
	Lon               float64    `json:"lon"`
	DetectionTime     time.Time  `json:"detection_time"`
	Species           string     `json:"species"`
	ScientificName    string     `json:"scientific_name"`
	Confidence        float64    `json:"confidence"`
	StartSec          float64    `json:"start_sec"`
	EndSec            float64    `json:"end_sec"`
	CreatedAt         time.Time  `json:"created_at"`
	ImagePath         *string    `json:"image_path,omitempty"`
	SonogramPath      *string    `json:"sonogram_path,omitempty"`
	SnippetPath       *string    `json:"snippet_path,omitempty"`
}

// DetectionCreate is one element of a POST /api/detections body.
type DetectionCreate struct {
	RecordingID    uint      `json:"recording_id"`
	DetectedAt     Timestamp `json:"detection_time"`
	Species        string    `json:"species"`
	ScientificName string    `json:"scientific_name"`
	Confidence     float64   `json:"confidence"`
	StartSec       float64   `json:"start_sec"`
	EndSec         float64   `json:"end_sec"`
	ImagePath      *string   `json:"image_path,omitempty"`
	SonogramPath   *string   `json:"sonogram_path,omitempty"`
	SnippetPath    *string   `json:"snippet_path,omitempty"`
}

// RecordingRecord is a stored recording.
type RecordingRecord struct {
	ID                uint                      `json:"id"`
	FileName          string                    `json:"file_name"`
	RecordingDatetime *time.Time                `json:"recording_datetime"`
	DurationSec       *float64                  `json:"duration_sec,omitempty"`
	Lat               float64                   `json:"lat"`
	Lon               float64                   `json:"lon"`
	Status            datastore.RecordingStatus `json:"status"`
	CreatedAt         time.Time                 `json:"created_at"`
	CompletedAt       *time.Time                `json:"completed_at"`
	ErrorMessage      *string                   `json:"error_message"`
}

// RecordingDetail is a recording with its detections.
type RecordingDetail struct {
	RecordingRecord
	Detections []DetectionRecord `json:"detections"`
}

// AnalyzeResponse is the reply to POST /api/analyze.
type AnalyzeResponse struct {
	RecordingIDs []uint                 `json:"recording_ids"`
	Status       string                 `json:"status"`
	Detections   []DetectionRecord      `json:"detections"`
	Failed       []analysis.FileFailure `json:"failed,omitempty"`
}

func toDetectionRecord(d *datastore.Detection) (DetectionRecord, error) {
	var out DetectionRecord
	if err := copier.Copy(&out, d); err != nil {
		return DetectionRecord{}, mappingError(err)
	}
	if rec := d.Recording; rec != nil {
		out.FileName = rec.FileName
		out.RecordingDatetime = rec.RecordingDatetime
		out.Lat = rec.Lat
		out.Lon = rec.Lon
	}
	return out, nil
}

func toDetectionRecords(detections []datastore.Detection) ([]DetectionRecord, error) {
	out := make([]DetectionRecord, 0, len(detections))
	for i := range detections {
		r, err := toDetectionRecord(&detections[i])
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func toRecordingRecord(r *datastore.Recording) (RecordingRecord, error) {
	var out RecordingRecord
	if err := copier.Copy(&out, r); err != nil {
		return RecordingRecord{}, mappingError(err)
	}
	return out, nil
}

func (in *DetectionCreate) toModel() (datastore.Detection, error) {
	var d datastore.Detection
	if err := copier.Copy(&d, in); err != nil {
		return datastore.Detection{}, mappingError(err)
	}
	d.DetectionTime = time.Time(in.DetectedAt)
	return d, nil
}

func mappingError(err error) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryGeneric).
		Context("operation", "map-dto").
		Build()
}
