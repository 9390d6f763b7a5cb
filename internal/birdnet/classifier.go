package birdnet

import (
	"context"
	"time"
)

// Recording describes one audio file submitted to a Classifier.
type Recording struct {
	Path          string
	Latitude      float64
	Longitude     float64
	Date          time.Time // capture date, used for seasonal filtering by classifiers that support it
	MinConfidence float64
}

// RawDetection is one species event as reported by a classifier, before it is
// tied to a stored recording.
type RawDetection struct {
	CommonName     string
	ScientificName string
	Label          string // classifier label, "Scientific_Common"
	Confidence     float64
	StartSec       float64
	EndSec         float64
}

// Classifier identifies species in audio recordings. Implementations are
// constructed once, shared between requests and must be safe for concurrent use.
type Classifier interface {
	Analyze(ctx context.Context, rec Recording) ([]RawDetection, error)
	Close() error
}
