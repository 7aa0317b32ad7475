package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/halaqat/scheduler-api/pkg/metrics"
)

// Metrics records a latency histogram per route. The route template is
// used rather than the raw path to keep cardinality bounded.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
