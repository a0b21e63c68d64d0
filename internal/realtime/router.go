package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/suPer8Hu/roomchat/internal/auth"
	"github.com/suPer8Hu/roomchat/internal/chat"
	"github.com/suPer8Hu/roomchat/internal/logx"
	"github.com/suPer8Hu/roomchat/internal/metrics"
	"github.com/suPer8Hu/roomchat/internal/store/rabbitmq"
)

type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, userID uint64, content string) (*chat.Message, error)
	GetMessage(ctx context.Context, id uint64) (*chat.Message, error)
}

type UsernameResolver interface {
	Username(ctx context.Context, userID uint64) (string, error)
}

type EventPublisher interface {
	PublishMessageCreated(ctx context.Context, evt rabbitmq.MessageCreated) error
}

// lane serialises persist+fan-out for one room so every member sees the
// room's messages in id order.
type lane struct {
	mu     sync.Mutex
	lastID uint64
}

// Router persists a message and fans it out to the room's current members.
// Persistence is the durability point: a failed insert delivers nothing, a
// failed delivery never undoes the insert.
type Router struct {
	store    MessageStore
	names    UsernameResolver
	registry *Registry
	events   EventPublisher
	evict    func(*Session)

	mu    sync.Mutex
	lanes map[uint64]*lane
}

func NewRouter(store MessageStore, names UsernameResolver, registry *Registry) *Router {
	return &Router{
		store:    store,
		names:    names,
		registry: registry,
		lanes:    make(map[uint64]*lane),
		evict:    func(*Session) {},
	}
}

// WithEvents sets the publisher notified after each persisted message.
func (r *Router) WithEvents(p EventPublisher) *Router {
	r.events = p
	return r
}

func (r *Router) lane(roomID uint64) *lane {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lanes[roomID]
	if !ok {
		l = &lane{}
		r.lanes[roomID] = l
	}
	return l
}

// Send persists content from sender in roomID, then delivers it.
func (r *Router) Send(ctx context.Context, roomID uint64, sender auth.Identity, content string) (*chat.Message, error) {
	if err := chat.ValidateContent(content); err != nil {
		return nil, err
	}

	l := r.lane(roomID)
	l.mu.Lock()
	m, err := r.store.CreateMessage(ctx, roomID, sender.UserID, content)
	if err != nil {
		l.mu.Unlock()
		metrics.PersistFailures.Inc()
		return nil, err
	}
	metrics.MessagesPersisted.Inc()

	m.Sender = r.senderName(ctx, m.UserID, sender.Username)
	r.fanout(ctx, m)
	if m.ID > l.lastID {
		l.lastID = m.ID
	}
	l.mu.Unlock()

	r.publish(ctx, m)
	return m, nil
}

// Redeliver handles a delivery request for a message that is already
// stored. Messages the router has already fanned out in this room are not
// sent again; the bool reports whether a fan-out happened.
func (r *Router) Redeliver(ctx context.Context, roomID uint64, requester auth.Identity, messageID uint64) (*chat.Message, bool, error) {
	m, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	if m.RoomID != roomID {
		return nil, false, ErrWrongRoom
	}
	if m.UserID != requester.UserID {
		return nil, false, ErrNotAuthor
	}

	l := r.lane(roomID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.ID <= l.lastID {
		return m, false, nil
	}
	if m.Sender == "" {
		m.Sender = r.senderName(ctx, m.UserID, requester.Username)
	}
	r.fanout(ctx, m)
	l.lastID = m.ID
	return m, true, nil
}

func (r *Router) senderName(ctx context.Context, userID uint64, fallback string) string {
	if r.names == nil {
		return fallback
	}
	name, err := r.names.Username(ctx, userID)
	if err != nil || name == "" {
		l := logx.Ctx(ctx)
		l.Warn().Err(err).Uint64(logx.FieldUserID, userID).Msg("sender lookup failed, using token username")
		return fallback
	}
	return name
}

// fanout enqueues m to every member. Per-session failures are isolated:
// the session is evicted and the loop continues.
func (r *Router) fanout(ctx context.Context, m *chat.Message) {
	start := time.Now()
	data, err := json.Marshal(NewReceiveMessage(*m))
	if err != nil {
		l := logx.Ctx(ctx)
		l.Error().Err(err).Uint64(logx.FieldMessageID, m.ID).Msg("encode receive_message")
		return
	}

	for _, s := range r.registry.MembersOf(m.RoomID) {
		err := s.enqueue(m.RoomID, data)
		switch {
		case err == nil:
			metrics.Deliveries.WithLabelValues(metrics.OutcomeDelivered).Inc()
		case errors.Is(err, ErrSlowConsumer):
			metrics.Deliveries.WithLabelValues(metrics.OutcomeDropped).Inc()
			l := logx.Ctx(ctx)
			l.Warn().
				Str(logx.FieldSessionID, s.ID()).
				Uint64(logx.FieldRoomID, m.RoomID).
				Uint64(logx.FieldMessageID, m.ID).
				Msg("send buffer full, evicting session")
			go r.evict(s)
		default:
			// left or closed after the snapshot
			metrics.Deliveries.WithLabelValues(metrics.OutcomeSkipped).Inc()
		}
	}
	metrics.FanoutSeconds.Observe(time.Since(start).Seconds())
}

func (r *Router) publish(ctx context.Context, m *chat.Message) {
	if r.events == nil {
		return
	}
	evt := rabbitmq.MessageCreated{
		MessageID: m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Sender:    m.Sender,
		CreatedAt: m.CreatedAt,
	}
	go func(ctx context.Context) {
		if err := r.events.PublishMessageCreated(ctx, evt); err != nil {
			metrics.EventsPublished.WithLabelValues("error").Inc()
			l := logx.Ctx(ctx)
			l.Warn().Err(err).Uint64(logx.FieldMessageID, evt.MessageID).Msg("publish message.created")
			return
		}
		metrics.EventsPublished.WithLabelValues("ok").Inc()
	}(context.WithoutCancel(ctx))
}
