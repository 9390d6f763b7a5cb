package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
)

// RequestRecorder receives one observation per handled request.
type RequestRecorder interface {
	RecordRequest(method, path string, status int, duration time.Duration)
}

// NewMetrics records method, route template, status and latency of every
// request. The route template keeps label cardinality bounded; requests that
// match no route are recorded under "unmatched".
func NewMetrics(recorder RequestRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let the error handler write the response so the status is final
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			recorder.RecordRequest(c.Request().Method, path, c.Response().Status, time.Since(start))
			return nil
		}
	}
}
