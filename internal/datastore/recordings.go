package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/soundbird/internal/errors"
)

// RecordingRepository persists recordings and their status changes.
type RecordingRepository struct {
	store *Store
}

// Create inserts rec. Status defaults to pending.
func (r *RecordingRepository) Create(ctx context.Context, rec *Recording) (err error) {
	start := time.Now()
	defer func() { r.store.observe("recording_create", start, err) }()

	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if !rec.Status.Valid() {
		return validationError("unknown recording status", "status", rec.Status)
	}
	if rec.FileName == "" {
		return validationError("file_name is required", "file_name", rec.FileName)
	}
	if err := r.store.session(ctx).Omit(clause.Associations).Create(rec).Error; err != nil {
		return dbError(err, "create-recording", "file_name", rec.FileName)
	}
	return nil
}

// Get returns the recording with id, or ErrRecordingNotFound.
func (r *RecordingRepository) Get(ctx context.Context, id uint) (_ *Recording, err error) {
	start := time.Now()
	defer func() { r.store.observe("recording_get", start, err) }()

	var rec Recording
	if err := r.store.session(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(ErrRecordingNotFound, id)
		}
		return nil, dbError(err, "get-recording", "id", id)
	}
	return &rec, nil
}

// List returns recordings, newest first, optionally restricted to one status.
func (r *RecordingRepository) List(ctx context.Context, status *RecordingStatus, skip, limit int) (_ []Recording, err error) {
	start := time.Now()
	defer func() { r.store.observe("recording_list", start, err) }()

	if skip < 0 {
		return nil, validationError("skip must not be negative", "skip", skip)
	}
	if limit < 0 {
		return nil, validationError("limit must not be negative", "limit", limit)
	}
	recordings := []Recording{}
	if limit == 0 {
		return recordings, nil
	}

	query := r.store.session(ctx).Model(&Recording{})
	if status != nil {
		if !status.Valid() {
			return nil, validationError("unknown recording status", "status", *status)
		}
		query = query.Where("status = ?", *status)
	}
	if err := query.Order("created_at DESC").Order("id DESC").Offset(skip).Limit(limit).Find(&recordings).Error; err != nil {
		return nil, dbError(err, "list-recordings")
	}
	return recordings, nil
}

// UpdateStatus moves recording id to status to. It reports false when the
// recording does not exist. Transitions outside the state machine fail with
// ErrInvalidTransition and leave the row unchanged. completed_at is set on
// completion and error_message on failure.
func (r *RecordingRepository) UpdateStatus(ctx context.Context, id uint, to RecordingStatus, errMsg string) (_ bool, err error) {
	start := time.Now()
	defer func() { r.store.observe("recording_update_status", start, err) }()

	if !to.Valid() {
		return false, validationError("unknown recording status", "status", to)
	}

	found := true
	err = r.store.session(ctx).Transaction(func(tx *gorm.DB) error {
		var current Recording
		if err := tx.Select("id", "status").First(&current, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				found = false
				return nil
			}
			return dbError(err, "update-recording-status", "id", id)
		}
		if !current.Status.CanTransitionTo(to) {
			return transitionError(id, current.Status, to)
		}

		updates := map[string]any{"status": to}
		switch to {
		case StatusCompleted:
			updates["completed_at"] = time.Now()
		case StatusFailed:
			updates["error_message"] = errMsg
		}

		result := tx.Model(&Recording{}).
			Where("id = ? AND status = ?", id, current.Status).
			Updates(updates)
		if result.Error != nil {
			return dbError(result.Error, "update-recording-status", "id", id)
		}
		if result.RowsAffected == 0 {
			// status changed between the read and the write
			return transitionError(id, current.Status, to)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Delete removes the recording with id and its detections. It reports false
// when no recording existed.
func (r *RecordingRepository) Delete(ctx context.Context, id uint) (_ bool, err error) {
	start := time.Now()
	defer func() { r.store.observe("recording_delete", start, err) }()

	var deleted bool
	err = r.store.session(ctx).Transaction(func(tx *gorm.DB) error {
		// explicit child delete for databases without foreign key enforcement
		if err := tx.Where("recording_id = ?", id).Delete(&Detection{}).Error; err != nil {
			return dbError(err, "delete-recording-detections", "id", id)
		}
		result := tx.Delete(&Recording{}, id)
		if result.Error != nil {
			return dbError(result.Error, "delete-recording", "id", id)
		}
		deleted = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
