package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomchat/internal/common"
	"github.com/suPer8Hu/roomchat/internal/logx"
)

func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		l := logx.Ctx(c.Request.Context())
		l.Error().
			Interface("panic", recovered).
			Bytes("stack", debug.Stack()).
			Msg("panic recovered")
		common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
	})
}
