// Package notify publishes recording summaries to external consumers.
package notify

import (
	"sort"
	"time"

	"github.com/tphakala/soundbird/internal/datastore"
)

// RecordingEvent summarizes one completed recording.
type RecordingEvent struct {
	Node              string           `json:"node"`
	RecordingID       uint             `json:"recording_id"`
	FileName          string           `json:"file_name"`
	RecordingDatetime *time.Time       `json:"recording_datetime,omitempty"`
	Lat               float64          `json:"lat"`
	Lon               float64          `json:"lon"`
	Status            string           `json:"status"`
	DetectionCount    int              `json:"detection_count"`
	Species           []SpeciesSummary `json:"species"`
	PublishedAt       time.Time        `json:"published_at"`
}

// SpeciesSummary aggregates the detections of one species.
type SpeciesSummary struct {
	CommonName     string  `json:"common_name"`
	ScientificName string  `json:"scientific_name"`
	Count          int     `json:"count"`
	MaxConfidence  float64 `json:"max_confidence"`
}

// NewRecordingEvent builds an event for rec. Species are ordered by count,
// then by best confidence.
func NewRecordingEvent(node string, rec *datastore.Recording, detections []datastore.Detection) RecordingEvent {
	index := make(map[string]int)
	species := []SpeciesSummary{}
	for i := range detections {
		d := &detections[i]
		pos, ok := index[d.Species]
		if !ok {
			pos = len(species)
			index[d.Species] = pos
			species = append(species, SpeciesSummary{
				CommonName:     d.Species,
				ScientificName: d.ScientificName,
			})
		}
		species[pos].Count++
		if d.Confidence > species[pos].MaxConfidence {
			species[pos].MaxConfidence = d.Confidence
		}
	}
	sort.SliceStable(species, func(i, j int) bool {
		if species[i].Count != species[j].Count {
			return species[i].Count > species[j].Count
		}
		return species[i].MaxConfidence > species[j].MaxConfidence
	})

	return RecordingEvent{
		Node:              node,
		RecordingID:       rec.ID,
		FileName:          rec.FileName,
		RecordingDatetime: rec.RecordingDatetime,
		Lat:               rec.Lat,
		Lon:               rec.Lon,
		Status:            string(rec.Status),
		DetectionCount:    len(detections),
		Species:           species,
		PublishedAt:       time.Now(),
	}
}
