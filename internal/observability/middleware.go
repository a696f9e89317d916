package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouteUnmatched labels requests that hit no registered admin route, so
// scanners cannot grow the metric label set.
const RouteUnmatched = "unmatched"

func route(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return RouteUnmatched
}

// RequestLogger logs each admin request with the number of attached
// protocol connections at the time it completed. conns may be nil.
func RequestLogger(logger zerolog.Logger, conns func() int) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := logger.Debug()
		if status >= 500 {
			event = logger.Error()
		} else if status >= 400 {
			event = logger.Warn()
		}
		if conns != nil {
			event = event.Int("conns", conns())
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route(c)).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin request")
	}
}

func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(node, c.Request.Method, route(c), c.Writer.Status(), time.Since(start))
	}
}
