package datastore

import (
	"context"
	"math"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/soundbird/internal/errors"
)

// DefaultListLimit is used when a detection query does not set a limit.
const DefaultListLimit = 100

const insertBatchSize = 100

// Sort directions accepted by DetectionFilter.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// detectionSortColumns maps accepted sort keys to columns.
var detectionSortColumns = map[string]string{
	"detection_time": "detections.detection_time",
	"confidence":     "detections.confidence",
}

// DetectionFilter narrows a detection listing. Zero values disable a criterion.
type DetectionFilter struct {
	Species   string     // case-insensitive substring of the common name
	StartDate *time.Time // inclusive lower bound on detection time
	EndDate   *time.Time // inclusive upper bound on detection time
	SortBy    string     // detection_time or confidence; anything else leaves rows unordered
	SortOrder string     // asc or desc, default desc
	Skip      int
	Limit     *int // nil uses DefaultListLimit
}

// DetectionRepository persists detections.
type DetectionRepository struct {
	store *Store
}

// ValidateDetection checks the invariants every stored detection must hold.
func ValidateDetection(d *Detection) error {
	switch {
	case d.RecordingID == 0:
		return validationError("recording_id is required", "recording_id", d.RecordingID)
	case strings.TrimSpace(d.Species) == "":
		return validationError("species is required", "species", d.Species)
	case !isFinite(d.Confidence) || d.Confidence < 0 || d.Confidence > 1:
		return validationError("confidence must be between 0 and 1", "confidence", d.Confidence)
	case !isFinite(d.StartSec) || d.StartSec < 0:
		return validationError("start_sec must be a non-negative number", "start_sec", d.StartSec)
	case !isFinite(d.EndSec) || d.EndSec <= d.StartSec:
		return validationError("end_sec must be greater than start_sec", "end_sec", d.EndSec)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// InsertBatch validates and stores detections in a single transaction. Either
// every detection is stored or none is. The stored rows are returned with
// their recordings preloaded.
func (r *DetectionRepository) InsertBatch(ctx context.Context, detections []Detection) (out []Detection, err error) {
	start := time.Now()
	defer func() { r.store.observe("detection_insert_batch", start, err) }()

	if len(detections) == 0 {
		return []Detection{}, nil
	}

	recordingIDs := make([]uint, 0, len(detections))
	for i := range detections {
		if err := ValidateDetection(&detections[i]); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Context("index", i).
				Build()
		}
		if !slices.Contains(recordingIDs, detections[i].RecordingID) {
			recordingIDs = append(recordingIDs, detections[i].RecordingID)
		}
	}

	rows := make([]Detection, len(detections))
	copy(rows, detections)
	for i := range rows {
		rows[i].ID = 0
		rows[i].Recording = nil
	}

	err = r.store.session(ctx).Transaction(func(tx *gorm.DB) error {
		var found int64
		if err := tx.Model(&Recording{}).Where("id IN ?", recordingIDs).Count(&found).Error; err != nil {
			return dbError(err, "insert-detections", "step", "check-recordings")
		}
		if found != int64(len(recordingIDs)) {
			return validationError("detections reference a recording that does not exist", "recording_id", recordingIDs)
		}
		if err := tx.Omit(clause.Associations).CreateInBatches(&rows, insertBatchSize).Error; err != nil {
			return dbError(err, "insert-detections", "count", len(rows))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uint, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	if err := r.store.session(ctx).Preload("Recording").Where("id IN ?", ids).Order("id").Find(&out).Error; err != nil {
		return nil, dbError(err, "reload-detections")
	}
	return out, nil
}

// Get returns the detection with id, or ErrDetectionNotFound.
func (r *DetectionRepository) Get(ctx context.Context, id uint) (_ *Detection, err error) {
	start := time.Now()
	defer func() { r.store.observe("detection_get", start, err) }()

	var d Detection
	if err := r.store.session(ctx).Preload("Recording").First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(ErrDetectionNotFound, id)
		}
		return nil, dbError(err, "get-detection", "id", id)
	}
	return &d, nil
}

// List returns detections matching filter.
func (r *DetectionRepository) List(ctx context.Context, filter *DetectionFilter) (_ []Detection, err error) {
	start := time.Now()
	defer func() { r.store.observe("detection_list", start, err) }()

	if filter == nil {
		filter = &DetectionFilter{}
	}
	limit := DefaultListLimit
	if filter.Limit != nil {
		limit = *filter.Limit
	}
	if filter.Skip < 0 {
		return nil, validationError("skip must not be negative", "skip", filter.Skip)
	}
	if limit < 0 {
		return nil, validationError("limit must not be negative", "limit", limit)
	}
	if limit == 0 {
		return []Detection{}, nil
	}

	query := r.store.session(ctx).Model(&Detection{}).Preload("Recording")
	if filter.Species != "" {
		query = query.Where("LOWER(detections.species) LIKE LOWER(?)", "%"+filter.Species+"%")
	}
	if filter.StartDate != nil {
		query = query.Where("detections.detection_time >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("detections.detection_time <= ?", *filter.EndDate)
	}
	if column, ok := detectionSortColumns[filter.SortBy]; ok {
		direction := "DESC"
		if strings.EqualFold(filter.SortOrder, SortAsc) {
			direction = "ASC"
		}
		query = query.Order(column + " " + direction)
	}

	detections := []Detection{}
	if err := query.Offset(filter.Skip).Limit(limit).Find(&detections).Error; err != nil {
		return nil, dbError(err, "list-detections")
	}
	return detections, nil
}

// ListByRecording returns the detections of one recording in time order.
func (r *DetectionRepository) ListByRecording(ctx context.Context, recordingID uint) (_ []Detection, err error) {
	start := time.Now()
	defer func() { r.store.observe("detection_list_by_recording", start, err) }()

	detections := []Detection{}
	if err := r.store.session(ctx).
		Where("recording_id = ?", recordingID).
		Order("start_sec").Order("id").
		Find(&detections).Error; err != nil {
		return nil, dbError(err, "list-recording-detections", "recording_id", recordingID)
	}
	return detections, nil
}

// Delete removes the detection with id. It reports false when no row existed.
func (r *DetectionRepository) Delete(ctx context.Context, id uint) (_ bool, err error) {
	start := time.Now()
	defer func() { r.store.observe("detection_delete", start, err) }()

	result := r.store.session(ctx).Delete(&Detection{}, id)
	if result.Error != nil {
		return false, dbError(result.Error, "delete-detection", "id", id)
	}
	return result.RowsAffected > 0, nil
}
