package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

const defaultRecordingLimit = 100

// ListRecordings handles GET /api/recordings.
func (c *Controller) ListRecordings(ctx echo.Context) error {
	var status *datastore.RecordingStatus
	if v := ctx.QueryParam("status"); v != "" {
		s := datastore.RecordingStatus(v)
		status = &s
	}
	skip, err := intParam(ctx, "skip", 0)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query parameters")
	}
	limit, err := intParam(ctx, "limit", defaultRecordingLimit)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query parameters")
	}

	recordings, err := c.recordings.List(ctx.Request().Context(), status, skip, limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list recordings")
	}
	out := make([]RecordingRecord, 0, len(recordings))
	for i := range recordings {
		r, err := toRecordingRecord(&recordings[i])
		if err != nil {
			return c.HandleError(ctx, err, "Failed to list recordings")
		}
		out = append(out, r)
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetRecording handles GET /api/recordings/:id and includes the detections.
func (c *Controller) GetRecording(ctx echo.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid recording ID")
	}

	rec, err := c.recordings.Get(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Recording not found")
	}
	detections, err := c.detections.ListByRecording(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get recording")
	}

	record, err := toRecordingRecord(rec)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get recording")
	}
	for i := range detections {
		detections[i].Recording = rec
	}
	records, err := toDetectionRecords(detections)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get recording")
	}
	return ctx.JSON(http.StatusOK, RecordingDetail{RecordingRecord: record, Detections: records})
}

// DeleteRecording handles DELETE /api/recordings/:id. Detections of the
// recording are removed with it.
func (c *Controller) DeleteRecording(ctx echo.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid recording ID")
	}

	deleted, err := c.recordings.Delete(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to delete recording")
	}
	if !deleted {
		return c.HandleError(ctx, errors.New(datastore.ErrRecordingNotFound).
			Component("api").
			Category(errors.CategoryNotFound).
			Context("id", id).
			Build(), "Recording not found")
	}
	// cached detections of this recording are gone too
	c.detectionCache.Flush()

	c.log.Info("recording deleted", logger.Uint("id", id))
	return ctx.NoContent(http.StatusNoContent)
}

func intParam(ctx echo.Context, name string, def int) (int, error) {
	v := ctx.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, validationError(err, name)
	}
	return n, nil
}
