package analysis

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"

	"github.com/tphakala/soundbird/internal/datastore"
)

const outputName = "detections"

// detectedAtLayout matches ISO 8601 without a zone, with microseconds only
// when they are non-zero.
const detectedAtLayout = "2006-01-02T15:04:05.999999"

var csvHeader = []string{
	"file", "start_sec", "end_sec", "species", "scientific_name", "label", "confidence", "detected_at",
}

// DetectionRow is one line of directory analysis output.
type DetectionRow struct {
	File           string  `json:"file"`
	StartSec       float64 `json:"start_sec"`
	EndSec         float64 `json:"end_sec"`
	Species        string  `json:"species"`
	ScientificName string  `json:"scientific_name"`
	Label          string  `json:"label"`
	Confidence     float64 `json:"confidence"`
	DetectedAt     string  `json:"detected_at"`
}

func newDetectionRow(file string, d *datastore.Detection) DetectionRow {
	return DetectionRow{
		File:           file,
		StartSec:       d.StartSec,
		EndSec:         d.EndSec,
		Species:        d.Species,
		ScientificName: d.ScientificName,
		Label:          d.ScientificName + "_" + d.Species,
		Confidence:     d.Confidence,
		DetectedAt:     d.DetectionTime.Format(detectedAtLayout),
	}
}

func writeRowsJSON(path string, rows []DetectionRow) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeRowsCSV(path string, rows []DetectionRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for i := range rows {
		r := &rows[i]
		record := []string{
			r.File,
			formatFloat(r.StartSec),
			formatFloat(r.EndSec),
			r.Species,
			r.ScientificName,
			r.Label,
			formatFloat(r.Confidence),
			r.DetectedAt,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
