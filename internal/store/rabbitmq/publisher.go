package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	EventMessageCreated = "message.created"

	headerAttempt = "x-attempt"
	MaxAttempts   = 5
)

type MessageCreated struct {
	MessageID uint64    `json:"message_id"`
	RoomID    uint64    `json:"room_id"`
	UserID    uint64    `json:"user_id"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

func DecodeMessageCreated(body []byte) (MessageCreated, error) {
	var evt MessageCreated
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, err
	}
	if evt.MessageID == 0 || evt.RoomID == 0 {
		return evt, errors.New("message_id and room_id required")
	}
	return evt, nil
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu sync.Mutex
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishMessageCreated(ctx context.Context, evt MessageCreated) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.queue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         EventMessageCreated,
		MessageId:    strconv.FormatUint(evt.MessageID, 10),
		Body:         body,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{headerAttempt: int32(1)},
	})
}

func (p *Publisher) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",         // default exchange
		routingKey, // routing key = queue
		false,
		false,
		msg,
	)
}

// Attempt reads the delivery attempt counter, starting at 1.
func Attempt(d amqp.Delivery) int {
	switch v := d.Headers[headerAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

// RetryLater parks d on the retry queue with a per-message TTL that grows
// with the attempt number; the broker dead-letters it back to the main queue.
func RetryLater(ctx context.Context, ch *amqp.Channel, queue string, d amqp.Delivery) error {
	attempt := Attempt(d)
	if attempt >= MaxAttempts {
		return fmt.Errorf("attempt %d reached max %d", attempt, MaxAttempts)
	}
	delay := time.Duration(1<<attempt) * time.Second

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(cctx, "", RetryQueue(queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Type:         d.Type,
		MessageId:    d.MessageId,
		Body:         d.Body,
		Timestamp:    time.Now(),
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Headers:      amqp.Table{headerAttempt: int32(attempt + 1)},
	})
}
