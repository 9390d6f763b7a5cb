// Package filename decodes recording start times from timestamped audio file names.
//
// Recorders name their files YYYYMMDD_HHMMSS.<ext> in local wall-clock time. The
// decoded time carries time.Local and is never normalized to UTC.
package filename

import (
	"math"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tphakala/soundbird/internal/errors"
)

const timestampLayout = "20060102150405"

// ErrInvalidFormat is returned for names that do not follow YYYYMMDD_HHMMSS.<ext>.
var ErrInvalidFormat = errors.NewStd("invalid filename format, expected YYYYMMDD_HHMMSS")

var timestampPattern = regexp.MustCompile(`(?i)^(\d{8})_(\d{6})\.[a-z0-9]+$`)

// DecodeStart returns the recording start time encoded in name. Directory
// components are ignored.
func DecodeStart(name string) (time.Time, error) {
	base := filepath.Base(name)
	m := timestampPattern.FindStringSubmatch(base)
	if m == nil {
		return time.Time{}, invalidFormat(base, nil)
	}

	t, err := time.ParseInLocation(timestampLayout, m[1]+m[2], time.Local)
	if err != nil {
		return time.Time{}, invalidFormat(base, err)
	}
	return t, nil
}

// DetectionTime returns the wall-clock time of an event offsetSec seconds into the recording.
func DetectionTime(name string, offsetSec float64) (time.Time, error) {
	start, err := DecodeStart(name)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(offsetSec) || math.IsInf(offsetSec, 0) {
		return time.Time{}, errors.Newf("offset must be finite, got %v", offsetSec).
			Component("filename").
			Category(errors.CategoryValidation).
			Build()
	}
	return start.Add(time.Duration(math.Round(offsetSec * float64(time.Second)))), nil
}

// IsTimestamped reports whether name decodes to a valid start time.
func IsTimestamped(name string) bool {
	_, err := DecodeStart(name)
	return err == nil
}

func invalidFormat(name string, cause error) error {
	err := ErrInvalidFormat
	if cause != nil {
		err = errors.Join(ErrInvalidFormat, cause)
	}
	return errors.New(err).
		Component("filename").
		Category(errors.CategoryValidation).
		Context("filename", name).
		Build()
}
