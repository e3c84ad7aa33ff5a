package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/polybot/yolo-service/internal/observability/metrics"
)

// NewMetrics records request count, duration and in-flight requests. The
// path label is the route template so uids do not explode cardinality.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.RequestStarted()
			defer m.RequestDone()

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler set the final status before recording.
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.RecordRequest(c.Request().Method, path, strconv.Itoa(c.Response().Status), time.Since(start).Seconds())
			return nil
		}
	}
}
