// Package api implements the SoundBird JSON endpoints under /api.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/soundbird/internal/analysis"
	"github.com/tphakala/soundbird/internal/datastore"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/logger"
)

const (
	detectionCacheTTL     = 5 * time.Minute
	detectionCacheCleanup = 10 * time.Minute
)

// DetectionStore is the detection persistence used by the handlers.
type DetectionStore interface {
	InsertBatch(ctx context.Context, detections []datastore.Detection) ([]datastore.Detection, error)
	Get(ctx context.Context, id uint) (*datastore.Detection, error)
	List(ctx context.Context, filter *datastore.DetectionFilter) ([]datastore.Detection, error)
	ListByRecording(ctx context.Context, recordingID uint) ([]datastore.Detection, error)
	Delete(ctx context.Context, id uint) (bool, error)
}

// RecordingStore reads and deletes recordings.
type RecordingStore interface {
	Get(ctx context.Context, id uint) (*datastore.Recording, error)
	List(ctx context.Context, status *datastore.RecordingStatus, skip, limit int) ([]datastore.Recording, error)
	Delete(ctx context.Context, id uint) (bool, error)
}

// UploadProcessor analyzes uploaded audio.
type UploadProcessor interface {
	ProcessUpload(ctx context.Context, name string, r io.Reader, lat, lon float64) (*analysis.Result, error)
}

// Controller manages the API routes and handlers.
type Controller struct {
	Echo           *echo.Echo
	Group          *echo.Group
	detections     DetectionStore
	recordings     RecordingStore
	processor      UploadProcessor
	detectionCache *cache.Cache
	log            logger.Logger
}

// New creates a Controller and registers its routes under /api.
func New(e *echo.Echo, detections DetectionStore, recordings RecordingStore, processor UploadProcessor, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	c := &Controller{
		Echo:           e,
		Group:          e.Group("/api"),
		detections:     detections,
		recordings:     recordings,
		processor:      processor,
		detectionCache: cache.New(detectionCacheTTL, detectionCacheCleanup),
		log:            log.Module("api"),
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.POST("/analyze", c.Analyze)

	c.Group.GET("/detections", c.ListDetections)
	c.Group.POST("/detections", c.CreateDetections)
	c.Group.GET("/detections/:id", c.GetDetection)
	c.Group.DELETE("/detections/:id", c.DeleteDetection)

	c.Group.GET("/recordings", c.ListRecordings)
	c.Group.GET("/recordings/:id", c.GetRecording)
	c.Group.DELETE("/recordings/:id", c.DeleteRecording)
}

// Shutdown releases controller resources.
func (c *Controller) Shutdown() {
	c.detectionCache.Flush()
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString(),
	}
}

// StatusFromError maps an error category to an HTTP status.
func StatusFromError(err error) int {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes err as an ErrorResponse. The status is derived from the
// error category; message is the human readable summary.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := StatusFromError(err)
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
		logger.Error(err),
	}
	log := c.log.WithContext(ctx.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("api error", fields...)
	} else {
		log.Warn("api error", fields...)
	}
	return ctx.JSON(code, resp)
}
