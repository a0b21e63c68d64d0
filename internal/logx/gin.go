package logx

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const HeaderRequestID = "X-Request-ID"

// GinMiddleware tags every request with a request id (taken from X-Request-ID
// or generated), stores a child logger in the request context and logs the
// completed request.
func GinMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(FieldRequestID, reqID)
		c.Header(HeaderRequestID, reqID)

		child := logger.With().
			Str(FieldRequestID, reqID).
			Str(FieldMethod, c.Request.Method).
			Str(FieldPath, c.Request.URL.Path).
			Str(FieldClientIP, c.ClientIP()).
			Logger()
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), child))

		c.Next()

		evt := child.Info()
		if c.Writer.Status() >= 500 {
			evt = child.Error()
		}
		evt = evt.Int(FieldStatus, c.Writer.Status()).
			Int64(FieldLatency, time.Since(start).Milliseconds())
		// set by the auth middleware
		if uid, ok := c.Get(FieldUserID); ok {
			if id, ok := uid.(uint64); ok {
				evt = evt.Uint64(FieldUserID, id)
			}
		}
		evt.Msg("request completed")
	}
}
