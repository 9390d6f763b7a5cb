// Package analysis runs uploaded recordings through the classifier and
// persists the results.
package analysis

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/soundbird/internal/birdnet"
	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/filename"
	"github.com/tphakala/soundbird/internal/lifecycle"
	"github.com/tphakala/soundbird/internal/logger"
	"github.com/tphakala/soundbird/internal/notify"
	"github.com/tphakala/soundbird/internal/upload"
)

// StatusCompleted is the status reported for a processed upload.
const StatusCompleted = "completed"

// Analyzer classifies one audio file into unsaved detections.
type Analyzer interface {
	Analyze(ctx context.Context, path string, lat, lon float64) ([]datastore.Detection, error)
}

// Lifecycle creates recordings and changes their status.
type Lifecycle interface {
	Create(ctx context.Context, fileName string, lat, lon float64, recordedAt time.Time, opts ...lifecycle.CreateOption) (*datastore.Recording, error)
	Transition(ctx context.Context, id uint, to datastore.RecordingStatus, errMsg string) (bool, error)
}

// DetectionWriter persists detection batches.
type DetectionWriter interface {
	InsertBatch(ctx context.Context, detections []datastore.Detection) ([]datastore.Detection, error)
}

// Notifier receives a summary of every completed recording.
type Notifier interface {
	PublishRecording(ctx context.Context, ev notify.RecordingEvent) error
}

// Observer receives the outcome of every processed file.
type Observer interface {
	ObserveFile(outcome string, duration time.Duration, detections int)
}

// Config controls upload handling.
type Config struct {
	TempDir          string // scratch space for uploads, empty uses os.TempDir
	StrictFilenames  bool   // require YYYYMMDD_HHMMSS.wav for single file uploads
	NodeName         string // reported in notifier events
	DirectoryWorkers int    // day folders analyzed in parallel, 0 uses 2
}

// Processor runs uploads through validation, classification and storage.
type Processor struct {
	cfg        Config
	analyzer   Analyzer
	lifecycle  Lifecycle
	detections DetectionWriter
	notifier   Notifier
	observer   Observer
	log        logger.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithNotifier publishes an event for each completed recording.
func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// WithObserver reports per-file outcomes to o.
func WithObserver(o Observer) Option {
	return func(p *Processor) { p.observer = o }
}

// NewProcessor returns a Processor.
func NewProcessor(cfg Config, analyzer Analyzer, lc Lifecycle, detections DetectionWriter, log logger.Logger, opts ...Option) *Processor {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if cfg.DirectoryWorkers <= 0 {
		cfg.DirectoryWorkers = 2
	}
	p := &Processor{
		cfg:        cfg,
		analyzer:   analyzer,
		lifecycle:  lc,
		detections: detections,
		log:        log.Module("analysis"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FileFailure describes one file that could not be processed.
type FileFailure struct {
	RecordingID uint   `json:"recording_id"`
	FileName    string `json:"file_name"`
	Error       string `json:"error"`
}

// Result is the outcome of one upload.
type Result struct {
	RecordingIDs []uint
	Status       string
	Detections   []datastore.Detection
	Failed       []FileFailure
}

// ProcessUpload validates and analyzes one uploaded file. A .wav upload is
// processed as one recording; each WAV member of a .zip upload becomes its own
// recording. Validation and archive errors are returned before any recording
// is created. Archive members that fail are marked failed and skipped; a
// failed single file upload returns the error.
func (p *Processor) ProcessUpload(ctx context.Context, name string, r io.Reader, lat, lon float64) (*Result, error) {
	kind, lowered, err := upload.Validate(name, p.cfg.StrictFilenames)
	if err != nil {
		return nil, err
	}

	workDir, err := p.makeWorkDir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.log.Warn("failed to remove upload directory",
				logger.String("path", workDir),
				logger.Error(err))
		}
	}()

	saved, err := upload.SaveStream(r, workDir, name)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RecordingIDs: []uint{},
		Status:       StatusCompleted,
		Detections:   []datastore.Detection{},
	}

	switch kind {
	case upload.KindAudio:
		outcome, err := p.processFile(ctx, saved, lowered, lat, lon)
		if outcome.recordingID != 0 {
			result.RecordingIDs = append(result.RecordingIDs, outcome.recordingID)
		}
		if err != nil {
			return nil, err
		}
		result.Detections = append(result.Detections, outcome.detections...)

	case upload.KindArchive:
		members, err := upload.ExtractArchive(saved, filepath.Join(workDir, "extracted"))
		if err != nil {
			return nil, err
		}
		p.log.Info("extracted archive",
			logger.String("archive", lowered),
			logger.Int("wav_files", len(members)))

		for _, member := range members {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			memberName := strings.ToLower(filepath.Base(member))
			outcome, err := p.processFile(ctx, member, memberName, lat, lon)
			if outcome.recordingID != 0 {
				result.RecordingIDs = append(result.RecordingIDs, outcome.recordingID)
			}
			if err != nil {
				if outcome.recordingID == 0 {
					// the recording itself could not be stored
					return nil, err
				}
				p.log.Warn("skipping archive member",
					logger.String("archive", lowered),
					logger.String("file", memberName),
					logger.Error(err))
				result.Failed = append(result.Failed, FileFailure{
					RecordingID: outcome.recordingID,
					FileName:    memberName,
					Error:       err.Error(),
				})
				continue
			}
			result.Detections = append(result.Detections, outcome.detections...)
		}
	}

	return result, nil
}

func (p *Processor) makeWorkDir() (string, error) {
	base := p.cfg.TempDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "soundbird-upload-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("operation", "create-work-dir").
			Context("path", dir).
			Build()
	}
	return dir, nil
}

type fileOutcome struct {
	recordingID uint
	detections  []datastore.Detection
}

// processFile creates a recording for path and drives it to a terminal state.
// When the returned error is non-nil and recordingID is set, the recording has
// been marked failed.
func (p *Processor) processFile(ctx context.Context, path, name string, lat, lon float64) (fileOutcome, error) {
	start := time.Now()

	// names without a timestamp are stored without a recording time
	recordedAt, _ := filename.DecodeStart(name)
	var opts []lifecycle.CreateOption
	if info, err := birdnet.ReadWAVInfo(path); err == nil {
		opts = append(opts, lifecycle.WithDuration(info.Duration))
	} else {
		p.log.Debug("could not read wav header", logger.String("file", name), logger.Error(err))
	}

	rec, err := p.lifecycle.Create(ctx, name, lat, lon, recordedAt, opts...)
	if err != nil {
		p.observe("failed", start, 0)
		return fileOutcome{}, err
	}
	outcome := fileOutcome{recordingID: rec.ID}

	if _, err := p.lifecycle.Transition(ctx, rec.ID, datastore.StatusProcessing, ""); err != nil {
		return outcome, p.fail(ctx, rec.ID, name, start, err)
	}

	detections, err := p.analyzer.Analyze(ctx, path, lat, lon)
	if err != nil {
		return outcome, p.fail(ctx, rec.ID, name, start, err)
	}
	for i := range detections {
		detections[i].RecordingID = rec.ID
	}

	stored := []datastore.Detection{}
	if len(detections) > 0 {
		stored, err = p.detections.InsertBatch(ctx, detections)
		if err != nil {
			return outcome, p.fail(ctx, rec.ID, name, start, err)
		}
	}

	if _, err := p.lifecycle.Transition(ctx, rec.ID, datastore.StatusCompleted, ""); err != nil {
		return outcome, p.fail(ctx, rec.ID, name, start, err)
	}
	outcome.detections = stored

	p.observe("completed", start, len(stored))
	p.log.Info("recording processed",
		logger.Uint("recording_id", rec.ID),
		logger.String("file", name),
		logger.Int("detections", len(stored)),
		logger.Duration("elapsed", time.Since(start)))

	rec.Status = datastore.StatusCompleted
	p.publish(ctx, rec, stored)
	return outcome, nil
}

// fail marks recording id failed with cause and returns cause.
func (p *Processor) fail(ctx context.Context, id uint, name string, start time.Time, cause error) error {
	p.observe("failed", start, 0)
	p.log.Error("recording failed",
		logger.Uint("recording_id", id),
		logger.String("file", name),
		logger.Error(cause))

	// record the failure even after ctx is done
	markCtx := context.WithoutCancel(ctx)
	if _, err := p.lifecycle.Transition(markCtx, id, datastore.StatusFailed, cause.Error()); err != nil {
		p.log.Error("failed to mark recording as failed",
			logger.Uint("recording_id", id),
			logger.Error(err))
	}
	return cause
}

func (p *Processor) publish(ctx context.Context, rec *datastore.Recording, detections []datastore.Detection) {
	if p.notifier == nil {
		return
	}
	ev := notify.NewRecordingEvent(p.cfg.NodeName, rec, detections)
	if err := p.notifier.PublishRecording(ctx, ev); err != nil {
		p.log.Warn("failed to publish recording event",
			logger.Uint("recording_id", rec.ID),
			logger.Error(err))
	}
}

func (p *Processor) observe(outcome string, start time.Time, detections int) {
	if p.observer != nil {
		p.observer.ObserveFile(outcome, time.Since(start), detections)
	}
}
