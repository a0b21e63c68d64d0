package chat

import (
	"context"
	"errors"

	"github.com/suPer8Hu/roomchat/internal/models"
	"gorm.io/gorm"
)

// Repo is the persistence gateway for rooms and messages. Every failure is
// returned as ErrNotFound or ErrStorage; nothing is retried.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateRoom(ctx context.Context, name string) (*Room, error) {
	room := &Room{Name: name}
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return nil, storageErr("create room", err)
	}
	return room, nil
}

func (r *Repo) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rooms).Error; err != nil {
		return nil, storageErr("list rooms", err)
	}
	return rooms, nil
}

func (r *Repo) GetRoom(ctx context.Context, id uint64) (*Room, error) {
	var room Room
	if err := r.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, storageErr("get room", err)
	}
	return &room, nil
}

// CreateMessage inserts a message after checking that room and author exist.
// The checks and the insert share one transaction so the row is either fully
// written with an id or not written at all.
func (r *Repo) CreateMessage(ctx context.Context, roomID, userID uint64, content string) (*Message, error) {
	m := &Message{RoomID: roomID, UserID: userID, Content: content}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Room{}).Where("id = ?", roomID).Count(&n).Error; err != nil {
			return storageErr("check room", err)
		}
		if n == 0 {
			return ErrRoomNotFound
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
			return storageErr("check user", err)
		}
		if n == 0 {
			return ErrUserNotFound
		}
		if err := tx.Create(m).Error; err != nil {
			return storageErr("insert message", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) {
			return nil, err
		}
		// begin/commit failures
		return nil, storageErr("create message", err)
	}
	return m, nil
}

func (r *Repo) withSender(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&Message{}).
		Select("messages.*, users.username AS sender").
		Joins("LEFT JOIN users ON users.id = messages.user_id")
}

func (r *Repo) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.withSender(ctx).Where("messages.id = ?", id).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, storageErr("get message", err)
	}
	return &m, nil
}

// ListMessagesDesc returns one page of a room's messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessagesDesc(ctx context.Context, roomID uint64, limit, offset int) ([]Message, error) {
	var msgs []Message
	if err := r.withSender(ctx).
		Where("messages.room_id = ?", roomID).
		Order("messages.id DESC").
		Limit(limit).
		Offset(offset).
		Find(&msgs).Error; err != nil {
		return nil, storageErr("list messages", err)
	}
	return msgs, nil
}

func (r *Repo) CountMessages(ctx context.Context, roomID uint64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Message{}).Where("room_id = ?", roomID).Count(&n).Error; err != nil {
		return 0, storageErr("count messages", err)
	}
	return n, nil
}

// Username implements the identity lookup used to enrich outgoing messages.
func (r *Repo) Username(ctx context.Context, userID uint64) (string, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Select("id", "username").First(&u, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", storageErr("get user", err)
	}
	return u.Username, nil
}
