package chat

import (
	"strconv"
	"time"
)

type Room struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Room) TableName() string { return "rooms" }

// Message is append-only. Within a room, id order is creation order.
type Message struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement"`
	RoomID  uint64 `gorm:"not null;index:idx_messages_room_id"`
	UserID  uint64 `gorm:"not null;index"`
	Content string `gorm:"type:text;not null"`
	// Sender is the author's username, filled by joined reads or by the router.
	Sender    string `gorm:"->;-:migration"`
	CreatedAt time.Time
}

func (Message) TableName() string { return "messages" }

// MessageView is the wire shape shared by the REST API and receive_message events.
type MessageView struct {
	ID        uint64    `json:"id"`
	RoomID    string    `json:"roomId"`
	UserID    uint64    `json:"userId"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Message) View() MessageView {
	return MessageView{
		ID:        m.ID,
		RoomID:    strconv.FormatUint(m.RoomID, 10),
		UserID:    m.UserID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.CreatedAt,
	}
}

func Views(msgs []Message) []MessageView {
	out := make([]MessageView, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].View()
	}
	return out
}
