package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/roomchat/internal/common"
	"github.com/suPer8Hu/roomchat/internal/logx"
	"github.com/suPer8Hu/roomchat/internal/realtime"
)

// ServeWS authenticates the handshake, upgrades the connection and runs the
// session until it closes. A bad credential is rejected before the upgrade.
func (h *Handler) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()

	id, err := h.Authn.AuthenticateRequest(c.Request)
	if err != nil {
		logx.AuditDetail(ctx, logx.ActionAuthFailed, 0, err.Error(), "websocket handshake rejected")
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		l := logx.Ctx(ctx)
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := h.Hub.Connect()
	base := logx.Ctx(ctx)
	logger := base.With().
		Str(logx.FieldSessionID, s.ID()).
		Uint64(logx.FieldUserID, id.UserID).
		Logger()
	sctx := logx.WithLogger(context.WithoutCancel(ctx), logger)

	if err := h.Hub.Authenticate(sctx, s, id); err != nil {
		_ = conn.Close()
		return
	}
	realtime.NewClient(conn, s, h.Hub, h.Cfg.WS).Run(sctx)
}
