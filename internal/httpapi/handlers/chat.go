package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomchat/internal/chat"
	"github.com/suPer8Hu/roomchat/internal/common"
	"github.com/suPer8Hu/roomchat/internal/httpapi/middleware"
)

func roomIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("roomId"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid room id")
		return 0, false
	}
	return id, true
}

func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.ChatSvc.ListRooms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if rooms == nil {
		rooms = []chat.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

type createRoomReq struct {
	Name string `json:"name"`
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	room, err := h.ChatSvc.CreateRoom(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) GetRoom(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	room, err := h.ChatSvc.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) ListMessages(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	p, err := h.ChatSvc.History(c.Request.Context(), roomID, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages": chat.Views(p.Messages),
		"total":    p.Total,
		"hasMore":  p.HasMore,
	})
}

type postMessageReq struct {
	Content string `json:"content"`
}

// PostMessage stores the message and broadcasts it to the room's live
// sessions in the same call.
func (h *Handler) PostMessage(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req postMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	m, err := h.Hub.Router().Send(c.Request.Context(), roomID, id, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m.View())
}

func (h *Handler) RoomActivity(c *gin.Context) {
	roomID, ok := roomIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.ChatSvc.GetRoom(ctx, roomID); err != nil {
		writeError(c, err)
		return
	}
	if h.Redis == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "activity store unavailable")
		return
	}
	a, err := h.Redis.RoomActivity(ctx, roomID)
	if err != nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "activity store unavailable")
		return
	}
	c.JSON(http.StatusOK, a)
}
