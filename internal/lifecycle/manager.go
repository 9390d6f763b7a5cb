// Package lifecycle creates recordings and moves them through their
// processing states.
package lifecycle

import (
	"context"
	"time"

	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

// ErrInvalidTransition is returned for transitions outside the state machine.
var ErrInvalidTransition = datastore.ErrInvalidTransition

// RecordingRepository is the persistence the Manager needs.
type RecordingRepository interface {
	Create(ctx context.Context, rec *datastore.Recording) error
	Get(ctx context.Context, id uint) (*datastore.Recording, error)
	List(ctx context.Context, status *datastore.RecordingStatus, skip, limit int) ([]datastore.Recording, error)
	UpdateStatus(ctx context.Context, id uint, to datastore.RecordingStatus, errMsg string) (bool, error)
	Delete(ctx context.Context, id uint) (bool, error)
}

// Manager owns recording state changes.
type Manager struct {
	repo RecordingRepository
	log  logger.Logger
}

// NewManager returns a Manager backed by repo.
func NewManager(repo RecordingRepository, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Manager{repo: repo, log: log.Module("lifecycle")}
}

// CreateOption sets optional recording metadata.
type CreateOption func(*datastore.Recording)

// WithDuration records the audio duration.
func WithDuration(d time.Duration) CreateOption {
	return func(rec *datastore.Recording) {
		if d <= 0 {
			return
		}
		sec := d.Seconds()
		rec.DurationSec = &sec
	}
}

// Create persists a pending recording. A zero recordedAt is stored as NULL.
func (m *Manager) Create(ctx context.Context, fileName string, lat, lon float64, recordedAt time.Time, opts ...CreateOption) (*datastore.Recording, error) {
	rec := &datastore.Recording{
		FileName: fileName,
		Lat:      lat,
		Lon:      lon,
		Status:   datastore.StatusPending,
	}
	if !recordedAt.IsZero() {
		rec.RecordingDatetime = &recordedAt
	}
	for _, opt := range opts {
		opt(rec)
	}

	if err := m.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	m.log.Debug("recording created",
		logger.Uint("recording_id", rec.ID),
		logger.String("file", fileName))
	return rec, nil
}

// Transition moves recording id to status to. It returns false, nil when the
// recording does not exist. Illegal transitions are logged and returned as
// ErrInvalidTransition with the row left unchanged.
func (m *Manager) Transition(ctx context.Context, id uint, to datastore.RecordingStatus, errMsg string) (bool, error) {
	found, err := m.repo.UpdateStatus(ctx, id, to, errMsg)
	switch {
	case errors.Is(err, ErrInvalidTransition):
		m.log.Warn("rejected recording status transition",
			logger.Uint("recording_id", id),
			logger.String("to", string(to)),
			logger.Error(err))
		return false, err
	case err != nil:
		return false, err
	case !found:
		m.log.Debug("transition for unknown recording",
			logger.Uint("recording_id", id),
			logger.String("to", string(to)))
		return false, nil
	}

	m.log.Info("recording status changed",
		logger.Uint("recording_id", id),
		logger.String("status", string(to)))
	return true, nil
}

// Get returns recording id.
func (m *Manager) Get(ctx context.Context, id uint) (*datastore.Recording, error) {
	return m.repo.Get(ctx, id)
}

// List returns recordings, newest first.
func (m *Manager) List(ctx context.Context, status *datastore.RecordingStatus, skip, limit int) ([]datastore.Recording, error) {
	return m.repo.List(ctx, status, skip, limit)
}

// Delete removes recording id and its detections.
func (m *Manager) Delete(ctx context.Context, id uint) (bool, error) {
	deleted, err := m.repo.Delete(ctx, id)
	if err == nil && deleted {
		m.log.Info("recording deleted", logger.Uint("recording_id", id))
	}
	return deleted, err
}
