package cache

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
)

// Middleware caches successful GET responses keyed by the request URI.
// Cache failures are logged and never fail the request.
func Middleware(store Store, metrics *monitoring.Metrics, logger *monitoring.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := Key([]byte("GET"), []byte(c.Request.URL.RequestURI()))

		data, found, err := store.Get(ctx, key)
		if err != nil {
			logger.Warn("Response cache lookup failed", "error", err)
		}
		if found {
			if metrics != nil {
				metrics.IncrementCacheHit()
			}
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", data)
			c.Abort()
			return
		}

		if metrics != nil {
			metrics.IncrementCacheMiss()
		}
		c.Header("X-Cache", "MISS")

		wrapper := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = wrapper
		c.Next()

		if c.Writer.Status() == http.StatusOK && len(c.Errors) == 0 {
			if err := store.Set(ctx, key, wrapper.body.Bytes()); err != nil {
				logger.Warn("Response cache write failed", "error", err)
			}
		}
	}
}

// responseWriter wraps gin.ResponseWriter to capture response body
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
