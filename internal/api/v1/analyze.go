package api

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
	"github.com/tphakala/soundbird/internal/upload"
)

// Analyze handles POST /api/analyze. The multipart form carries the audio or
// archive in "file" and the capture location in "lat" and "lon".
func (c *Controller) Analyze(ctx echo.Context) error {
	lat, err := coordinate(ctx, "lat", 90)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid latitude")
	}
	lon, err := coordinate(ctx, "lon", 180)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid longitude")
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			err = errors.New(upload.ErrMissingFilename).
				Component("api").
				Category(errors.CategoryValidation).
				Build()
			return c.HandleError(ctx, err, "Uploaded file must have a filename")
		}
		return c.HandleError(ctx, validationError(err, "file"), "Invalid upload")
	}
	src, err := fh.Open()
	if err != nil {
		return c.HandleError(ctx, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("operation", "open-upload").
			Build(), "Failed to read upload")
	}
	defer src.Close()

	c.log.Info("analyzing upload",
		logger.String("file", fh.Filename),
		logger.Int64("size", fh.Size),
		logger.Float64("lat", lat),
		logger.Float64("lon", lon))

	result, err := c.processor.ProcessUpload(ctx.Request().Context(), fh.Filename, src, lat, lon)
	if err != nil {
		message := "Internal error during analysis"
		if errors.IsCategory(err, errors.CategoryValidation) {
			message = err.Error()
		}
		return c.HandleError(ctx, err, message)
	}

	detections, err := toDetectionRecords(result.Detections)
	if err != nil {
		return c.HandleError(ctx, err, "Internal error during analysis")
	}
	return ctx.JSON(http.StatusOK, AnalyzeResponse{
		RecordingIDs: result.RecordingIDs,
		Status:       result.Status,
		Detections:   detections,
		Failed:       result.Failed,
	})
}

// coordinate reads a required form float bounded by ±limit.
func coordinate(ctx echo.Context, name string, limit float64) (float64, error) {
	raw := ctx.FormValue(name)
	if raw == "" {
		return 0, errors.Newf("%s is required", name).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.Abs(v) > limit {
		return 0, errors.Newf("%s must be a number between -%g and %g", name, limit, limit).
			Component("api").
			Category(errors.CategoryValidation).
			Context("value", raw).
			Build()
	}
	return v, nil
}
