package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/suPer8Hu/roomchat/internal/auth"
	"github.com/suPer8Hu/roomchat/internal/chat"
	"github.com/suPer8Hu/roomchat/internal/common"
	"github.com/suPer8Hu/roomchat/internal/logx"
	"github.com/suPer8Hu/roomchat/internal/metrics"
)

type RoomLookup interface {
	GetRoom(ctx context.Context, id uint64) (*chat.Room, error)
}

// Hub owns the live sessions and applies client commands to the registry
// and router.
type Hub struct {
	registry *Registry
	router   *Router
	rooms    RoomLookup
	buffer   int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewHub(registry *Registry, router *Router, rooms RoomLookup, sendBuffer int) *Hub {
	h := &Hub{
		registry: registry,
		router:   router,
		rooms:    rooms,
		buffer:   sendBuffer,
		sessions: make(map[string]*Session),
	}
	router.evict = func(s *Session) { h.Close(context.Background(), s, "evicted") }
	return h
}

func (h *Hub) Router() *Router     { return h.router }
func (h *Hub) Registry() *Registry { return h.registry }

// Connect registers a new session in Connecting state.
func (h *Hub) Connect() *Session {
	s := NewSession(common.NewULID(), h.buffer)
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
	metrics.ActiveSessions.Inc()
	return s
}

// Authenticate binds an already verified identity to s. On failure the
// session is closed so no unauthenticated session survives.
func (h *Hub) Authenticate(ctx context.Context, s *Session, id auth.Identity) error {
	if err := s.Authenticate(id); err != nil {
		logx.AuditDetail(ctx, logx.ActionAuthFailed, id.UserID, err.Error(), "session authentication failed")
		h.Close(ctx, s, "auth failed")
		return err
	}
	logx.AuditDetail(ctx, logx.ActionAuth, id.UserID, s.ID(), "session authenticated")
	return nil
}

func (h *Hub) Join(ctx context.Context, s *Session, roomID uint64) error {
	if err := s.requireBound("join"); err != nil {
		return err
	}
	if h.rooms != nil {
		if _, err := h.rooms.GetRoom(ctx, roomID); err != nil {
			return err
		}
	}
	added, err := h.registry.Join(s, roomID)
	if err != nil {
		return err
	}
	if added {
		metrics.RoomJoins.Inc()
		logx.AuditDetail(ctx, logx.ActionJoinRoom, s.Identity().UserID, RoomID(roomID).String(), "joined room")
	}
	return nil
}

func (h *Hub) Leave(ctx context.Context, s *Session, roomID uint64) error {
	if err := s.requireBound("leave"); err != nil {
		return err
	}
	if h.registry.Leave(s, roomID) {
		logx.AuditDetail(ctx, logx.ActionLeaveRoom, s.Identity().UserID, RoomID(roomID).String(), "left room")
	}
	return nil
}

func (h *Hub) Send(ctx context.Context, s *Session, roomID uint64, content string) (*chat.Message, error) {
	if err := s.requireBound("send"); err != nil {
		return nil, err
	}
	m, err := h.router.Send(ctx, roomID, s.Identity(), content)
	if err != nil {
		return nil, err
	}
	logx.AuditDetail(ctx, logx.ActionSendMessage, m.UserID, RoomID(roomID).String(), "message sent")
	return m, nil
}

// Close moves s to Closed and removes it from every room. Safe to call
// more than once and from any goroutine.
func (h *Hub) Close(ctx context.Context, s *Session, reason string) {
	s.close(reason)
	rooms := h.registry.LeaveAll(s)

	s.releaseOnce.Do(func() {
		h.mu.Lock()
		delete(h.sessions, s.ID())
		h.mu.Unlock()
		metrics.ActiveSessions.Dec()

		l := logx.Ctx(ctx)
		l.Info().
			Str(logx.FieldLogType, logx.LogTypeAudit).
			Str(logx.FieldAction, logx.ActionDisconnect).
			Uint64(logx.FieldUserID, s.Identity().UserID).
			Str(logx.FieldSessionID, s.ID()).
			Str("reason", s.CloseReason()).
			Int("rooms_left", len(rooms)).
			Msg("session closed")
	})
}

// Shutdown closes every open session.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	for _, s := range open {
		h.Close(ctx, s, "server shutdown")
	}
}

func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Dispatch decodes and executes one client frame. Failures are reported to
// the client as error frames; the session stays open.
func (h *Hub) Dispatch(ctx context.Context, s *Session, data []byte) {
	cmd, err := DecodeCommand(data)
	if err != nil {
		h.reply(ctx, s, NewErrorEvent(cmd.Type, err))
		return
	}

	switch cmd.Type {
	case TypeJoinRoom:
		err = h.Join(ctx, s, uint64(cmd.RoomID))
	case TypeLeaveRoom:
		err = h.Leave(ctx, s, uint64(cmd.RoomID))
	case TypeSendMessage:
		if cmd.ID != 0 {
			err = h.redeliver(ctx, s, uint64(cmd.RoomID), cmd.ID)
		} else {
			_, err = h.Send(ctx, s, uint64(cmd.RoomID), cmd.Content)
		}
	case TypePing:
		h.reply(ctx, s, PongEvent{Type: TypePong})
	}

	if err != nil {
		l := logx.Ctx(ctx)
		l.Debug().Err(err).Str("command", cmd.Type).Uint64(logx.FieldRoomID, uint64(cmd.RoomID)).Msg("command rejected")
		h.reply(ctx, s, NewErrorEvent(cmd.Type, err))
	}
}

func (h *Hub) redeliver(ctx context.Context, s *Session, roomID, messageID uint64) error {
	if err := s.requireBound("send"); err != nil {
		return err
	}
	_, sent, err := h.router.Redeliver(ctx, roomID, s.Identity(), messageID)
	if err != nil {
		return err
	}
	if !sent {
		l := logx.Ctx(ctx)
		l.Debug().Uint64(logx.FieldMessageID, messageID).Msg("message already delivered")
	}
	return nil
}

func (h *Hub) reply(ctx context.Context, s *Session, frame any) {
	if err := s.Send(frame); err != nil {
		l := logx.Ctx(ctx)
		l.Debug().Err(err).Str(logx.FieldSessionID, s.ID()).Msg("reply dropped")
		if errors.Is(err, ErrSlowConsumer) {
			go h.Close(context.WithoutCancel(ctx), s, "slow consumer")
		}
	}
}
