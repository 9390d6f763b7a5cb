// Package upload validates uploaded audio files and unpacks archive uploads.
package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/filename"
)

// Kind is the type of an accepted upload.
type Kind int

const (
	KindAudio Kind = iota + 1
	KindArchive
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Sentinel errors for rejected uploads. All of them carry CategoryValidation.
var (
	ErrMissingFilename = errors.NewStd("uploaded file must have a filename")
	ErrUnsupportedType = errors.NewStd("unsupported file type")
	ErrInvalidFilename = errors.NewStd("invalid wav filename format")
	ErrArchiveCorrupt  = errors.NewStd("invalid zip file")
)

const (
	extWAV = ".wav"
	extZIP = ".zip"
)

// Validate checks an uploaded file name and returns its kind and lower-cased base name.
// In strict mode audio files must be named YYYYMMDD_HHMMSS.wav.
func Validate(name string, strict bool) (Kind, string, error) {
	base := baseName(name)
	if base == "" {
		return 0, "", rejected(ErrMissingFilename, "Uploaded file must have a filename", name)
	}

	lower := strings.ToLower(base)
	switch filepath.Ext(lower) {
	case extWAV:
		if strict && !filename.IsTimestamped(lower) {
			return 0, "", rejected(ErrInvalidFilename,
				fmt.Sprintf("Invalid .wav filename format: '%s'. Expected 'YYYYMMDD_HHMMSS.wav'.", lower), name)
		}
		return KindAudio, lower, nil
	case extZIP:
		return KindArchive, lower, nil
	default:
		return 0, "", rejected(ErrUnsupportedType,
			fmt.Sprintf("Unsupported file type: '%s'. Only .wav or .zip files are allowed.", lower), name)
	}
}

// baseName strips directories and surrounding whitespace from an uploaded
// name. It returns "" when nothing usable is left.
func baseName(name string) string {
	base := strings.TrimSpace(filepath.Base(filepath.Clean("/" + name)))
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// IsAudio reports whether name has a .wav extension, ignoring case.
func IsAudio(name string) bool {
	return strings.EqualFold(filepath.Ext(name), extWAV)
}

// rejectedError keeps the sentinel for errors.Is while presenting the client message.
type rejectedError struct {
	sentinel error
	message  string
}

func (e *rejectedError) Error() string { return e.message }
func (e *rejectedError) Unwrap() error { return e.sentinel }

func rejected(sentinel error, message, name string) error {
	return errors.New(&rejectedError{sentinel: sentinel, message: message}).
		Component("upload").
		Category(errors.CategoryValidation).
		Context("filename", name).
		Build()
}
