package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/roomchat/internal/config"
	"github.com/suPer8Hu/roomchat/internal/logx"
)

// Client pumps frames between a websocket connection and its Session.
type Client struct {
	conn    *websocket.Conn
	session *Session
	hub     *Hub
	cfg     config.WebSocketConfig
}

func NewClient(conn *websocket.Conn, s *Session, hub *Hub, cfg config.WebSocketConfig) *Client {
	return &Client{conn: conn, session: s, hub: hub, cfg: cfg}
}

// Run blocks until the connection ends, then closes the session.
func (c *Client) Run(ctx context.Context) {
	go c.writePump(ctx)
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	reason := "client disconnected"
	defer func() {
		c.hub.Close(ctx, c.session, reason)
		_ = c.conn.Close()
	}()

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				l := logx.Ctx(ctx)
				l.Warn().Err(err).Str(logx.FieldSessionID, c.session.ID()).Msg("websocket read error")
				reason = "transport error"
			}
			return
		}
		c.hub.Dispatch(ctx, c.session, data)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.session.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.session.CloseReason()))
			return

		case o := <-c.session.Outbound():
			if !c.session.Deliverable(o) {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, o.Data); err != nil {
				l := logx.Ctx(ctx)
				l.Debug().Err(err).Str(logx.FieldSessionID, c.session.ID()).Msg("websocket write failed")
				go c.hub.Close(ctx, c.session, "write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go c.hub.Close(ctx, c.session, "ping failed")
				return
			}
		}
	}
}
