package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomchat/internal/common"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{
		"pong":     true,
		"sessions": h.Hub.SessionCount(),
		"rooms":    h.Hub.Registry().RoomCount(),
	})
}
