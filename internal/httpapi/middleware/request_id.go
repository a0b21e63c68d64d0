package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomchat/internal/logx"
)

// RequestID tags the request with X-Request-ID and a request-scoped logger.
func RequestID() gin.HandlerFunc {
	return logx.GinMiddleware(logx.L())
}
