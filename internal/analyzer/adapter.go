// Package analyzer turns classifier output into detection records.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/tphakala/soundbird/internal/birdnet"
	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/filename"
	"github.com/tphakala/soundbird/internal/logger"
)

// Adapter runs a Classifier over one audio file and maps its raw detections to
// unsaved datastore detections.
type Adapter struct {
	classifier    birdnet.Classifier
	minConfidence float64
	log           logger.Logger
}

// New returns an Adapter. A minConfidence outside (0, 1] falls back to 0.5.
func New(classifier birdnet.Classifier, minConfidence float64, log logger.Logger) *Adapter {
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = 0.5
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Adapter{
		classifier:    classifier,
		minConfidence: minConfidence,
		log:           log.Module("analyzer"),
	}
}

// MinConfidence returns the threshold passed to the classifier.
func (a *Adapter) MinConfidence() float64 { return a.minConfidence }

// Analyze classifies the file at path. The recording start time is decoded
// from the file name and every detection time is offset from it. Malformed
// raw detections are skipped. The returned detections have no RecordingID.
func (a *Adapter) Analyze(ctx context.Context, path string, lat, lon float64) ([]datastore.Detection, error) {
	name := filepath.Base(path)
	recordedAt, err := filename.DecodeStart(name)
	if err != nil {
		return nil, classifierFailure(err, name, "decode-filename")
	}

	start := time.Now()
	raw, err := a.classifier.Analyze(ctx, birdnet.Recording{
		Path:          path,
		Latitude:      lat,
		Longitude:     lon,
		Date:          recordedAt,
		MinConfidence: a.minConfidence,
	})
	if err != nil {
		return nil, classifierFailure(err, name, "classify")
	}

	detections := make([]datastore.Detection, 0, len(raw))
	for i := range raw {
		rd := &raw[i]
		if reason := malformed(rd); reason != "" {
			a.log.Warn("skipping malformed detection",
				logger.String("file", name),
				logger.Int("index", i),
				logger.String("reason", reason),
				logger.String("label", rd.Label))
			continue
		}
		detectedAt, err := filename.DetectionTime(name, rd.StartSec)
		if err != nil {
			a.log.Warn("skipping malformed detection",
				logger.String("file", name),
				logger.Int("index", i),
				logger.String("reason", "detection time"),
				logger.String("label", rd.Label),
				logger.Error(err))
			continue
		}
		detections = append(detections, datastore.Detection{
			DetectionTime:  detectedAt,
			Species:        rd.CommonName,
			ScientificName: rd.ScientificName,
			Confidence:     rd.Confidence,
			StartSec:       rd.StartSec,
			EndSec:         rd.EndSec,
		})
	}

	a.log.Info("file analyzed",
		logger.String("file", name),
		logger.Int("raw_detections", len(raw)),
		logger.Int("detections", len(detections)),
		logger.Duration("elapsed", time.Since(start)))
	return detections, nil
}

// malformed returns why a raw detection cannot be stored, or "" if it can.
func malformed(rd *birdnet.RawDetection) string {
	switch {
	case strings.TrimSpace(rd.CommonName) == "":
		return "missing common name"
	case strings.TrimSpace(rd.ScientificName) == "":
		return "missing scientific name"
	case !finite(rd.Confidence) || !finite(rd.StartSec) || !finite(rd.EndSec):
		return "non-finite value"
	case rd.Confidence < 0 || rd.Confidence > 1:
		return fmt.Sprintf("confidence %g out of range", rd.Confidence)
	case rd.StartSec < 0:
		return "negative start time"
	case rd.EndSec <= rd.StartSec:
		return "end time not after start time"
	}
	return ""
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func classifierFailure(err error, name, operation string) error {
	return errors.New(err).
		Component("analyzer").
		Category(errors.CategoryAudioAnalysis).
		Context("file", name).
		Context("operation", operation).
		Build()
}
