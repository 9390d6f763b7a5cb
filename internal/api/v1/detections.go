package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

// ListDetections handles GET /api/detections.
func (c *Controller) ListDetections(ctx echo.Context) error {
	filter, err := parseDetectionFilter(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid query parameters")
	}

	detections, err := c.detections.List(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list detections")
	}
	records, err := toDetectionRecords(detections)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list detections")
	}
	return ctx.JSON(http.StatusOK, records)
}

// GetDetection handles GET /api/detections/:id.
func (c *Controller) GetDetection(ctx echo.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid detection ID")
	}

	key := detectionCacheKey(id)
	if cached, found := c.detectionCache.Get(key); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	d, err := c.detections.Get(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Detection not found")
	}
	record, err := toDetectionRecord(d)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get detection")
	}
	c.detectionCache.Set(key, record, cache.DefaultExpiration)
	return ctx.JSON(http.StatusOK, record)
}

// CreateDetections handles POST /api/detections. The whole batch is stored or
// nothing is.
func (c *Controller) CreateDetections(ctx echo.Context) error {
	var body []DetectionCreate
	if err := (&echo.DefaultBinder{}).BindBody(ctx, &body); err != nil {
		return c.HandleError(ctx, validationError(err, "body"), "Invalid request body")
	}

	models := make([]datastore.Detection, 0, len(body))
	for i := range body {
		if time.Time(body[i].DetectedAt).IsZero() {
			return c.HandleError(ctx, errors.Newf("detection %d: detection_time is required", i).
				Component("api").
				Category(errors.CategoryValidation).
				Build(), "Invalid detection")
		}
		d, err := body[i].toModel()
		if err != nil {
			return c.HandleError(ctx, err, "Invalid detection")
		}
		models = append(models, d)
	}

	stored, err := c.detections.InsertBatch(ctx.Request().Context(), models)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create detections")
	}
	records, err := toDetectionRecords(stored)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create detections")
	}

	c.log.Info("detections created", logger.Int("count", len(records)))
	return ctx.JSON(http.StatusCreated, records)
}

// DeleteDetection handles DELETE /api/detections/:id.
func (c *Controller) DeleteDetection(ctx echo.Context) error {
	id, err := parseID(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid detection ID")
	}

	deleted, err := c.detections.Delete(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to delete detection")
	}
	c.detectionCache.Delete(detectionCacheKey(id))
	if !deleted {
		return c.HandleError(ctx, errors.New(datastore.ErrDetectionNotFound).
			Component("api").
			Category(errors.CategoryNotFound).
			Context("id", id).
			Build(), "Detection not found")
	}

	c.log.Info("detection deleted", logger.Uint("id", id))
	return ctx.NoContent(http.StatusNoContent)
}

// parseDetectionFilter reads the list query parameters. Empty parameters are
// ignored; malformed numbers or dates are validation errors.
func parseDetectionFilter(ctx echo.Context) (*datastore.DetectionFilter, error) {
	filter := &datastore.DetectionFilter{
		Species:   ctx.QueryParam("species"),
		SortBy:    ctx.QueryParam("sort_by"),
		SortOrder: ctx.QueryParam("sort_order"),
	}

	if v := ctx.QueryParam("skip"); v != "" {
		skip, err := strconv.Atoi(v)
		if err != nil {
			return nil, validationError(err, "skip")
		}
		filter.Skip = skip
	}
	if v := ctx.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return nil, validationError(err, "limit")
		}
		filter.Limit = &limit
	}
	if v := ctx.QueryParam("start_date"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, validationError(err, "start_date")
		}
		filter.StartDate = &t
	}
	if v := ctx.QueryParam("end_date"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, validationError(err, "end_date")
		}
		filter.EndDate = &t
	}
	return filter, nil
}

func parseID(ctx echo.Context) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.Newf("invalid id %q", ctx.Param("id")).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(id), nil
}

func validationError(err error, field string) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}

func detectionCacheKey(id uint) string {
	return "detection:" + strconv.FormatUint(uint64(id), 10)
}
