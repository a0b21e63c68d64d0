package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})}
}

func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func usernameKey(userID uint64) string {
	return fmt.Sprintf("user:%d:username", userID)
}

func activityKey(roomID uint64) string {
	return fmt.Sprintf("room:%d:activity", roomID)
}

// GetUsername returns redis.Nil on a cache miss.
func (s *Store) GetUsername(ctx context.Context, userID uint64) (string, error) {
	return s.rdb.Get(ctx, usernameKey(userID)).Result()
}

func (s *Store) SetUsername(ctx context.Context, userID uint64, username string, ttl time.Duration) error {
	return s.rdb.Set(ctx, usernameKey(userID), username, ttl).Err()
}

type Activity struct {
	RoomID        uint64    `json:"roomId"`
	MessageCount  int64     `json:"messageCount"`
	LastMessageID uint64    `json:"lastMessageId"`
	LastSender    string    `json:"lastSender"`
	LastAt        time.Time `json:"lastAt"`
}

// recordScript only moves the counters forward for a message id newer than
// the stored one, so a redelivered event is counted once.
var recordScript = redis.NewScript(`
local last = tonumber(redis.call('HGET', KEYS[1], 'last_message_id') or '0')
local id = tonumber(ARGV[1])
if id <= last then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'message_count', 1)
redis.call('HSET', KEYS[1], 'last_message_id', ARGV[1], 'last_sender', ARGV[2], 'last_at', ARGV[3])
return 1
`)

// RecordMessage folds one persisted message into the room activity hash.
// It reports whether the message advanced the counters.
func (s *Store) RecordMessage(ctx context.Context, roomID, messageID uint64, sender string, at time.Time) (bool, error) {
	n, err := recordScript.Run(ctx, s.rdb,
		[]string{activityKey(roomID)},
		strconv.FormatUint(messageID, 10), sender, at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) RoomActivity(ctx context.Context, roomID uint64) (Activity, error) {
	a := Activity{RoomID: roomID}
	vals, err := s.rdb.HGetAll(ctx, activityKey(roomID)).Result()
	if err != nil {
		return a, err
	}
	if v, ok := vals["message_count"]; ok {
		a.MessageCount, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := vals["last_message_id"]; ok {
		a.LastMessageID, _ = strconv.ParseUint(v, 10, 64)
	}
	a.LastSender = vals["last_sender"]
	if v, ok := vals["last_at"]; ok {
		a.LastAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return a, nil
}
