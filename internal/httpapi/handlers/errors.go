package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomchat/internal/auth"
	"github.com/suPer8Hu/roomchat/internal/chat"
	"github.com/suPer8Hu/roomchat/internal/common"
	"github.com/suPer8Hu/roomchat/internal/logx"
)

// writeError turns a service error into a failure response.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	default:
		l := logx.Ctx(c.Request.Context())
		l.Error().Err(err).Msg("request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
